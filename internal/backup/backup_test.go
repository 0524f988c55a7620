package backup

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/grumpy-ui/listado/internal/database"
	"github.com/grumpy-ui/listado/internal/model"
	"github.com/grumpy-ui/listado/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

func enabledConfig(dbPath string) Config {
	return Config{
		S3:            S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		DBPath:        dbPath,
		Passphrase:    "test-passphrase",
		ScheduleHour:  3,
		RetentionDays: 30,
	}
}

func TestManagerStateLifecycle(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	// Without S3 config -> disabled
	m := NewManager(Config{}, nil, nil, logger)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}

	// S3 config but no passphrase -> still disabled
	m2 := NewManager(Config{
		S3: S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
	}, nil, nil, logger)
	if m2.Status().State != StateDisabled {
		t.Errorf("state without passphrase = %q, want %q", m2.Status().State, StateDisabled)
	}

	// Full config -> idle
	m3 := NewManager(enabledConfig("/tmp/x.db"), nil, nil, logger)
	if m3.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m3.Status().State, StateIdle)
	}
}

func TestManagerStopSafety(t *testing.T) {
	m := NewManager(enabledConfig("/tmp/x.db"), nil, nil, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	m.Stop()

	// Double stop should not panic
	m.Stop()
}

func TestManagerDisabledNoStart(t *testing.T) {
	m := NewManager(Config{}, nil, nil, slog.New(slog.DiscardHandler))

	m.Start(context.Background()) // no-op for disabled state
	m.Stop()                      // must not block
}

func TestRunNowRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "listado.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bs := store.NewBackupStore(db)
	m := NewManager(enabledConfig(dbPath), db, bs, slog.New(slog.DiscardHandler))
	mock := newMockS3()
	m.client = mock

	id, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	record, err := bs.GetByID(id)
	if err != nil || record == nil {
		t.Fatalf("backup record missing: %v", err)
	}
	if record.Status != model.BackupStatusComplete {
		t.Errorf("status = %q, want %q", record.Status, model.BackupStatusComplete)
	}
	if record.SizeBytes == 0 {
		t.Error("expected non-zero backup size")
	}

	mock.mu.Lock()
	data, ok := mock.objects[record.S3Key]
	mock.mu.Unlock()
	if !ok {
		t.Fatal("encrypted object not uploaded")
	}
	if len(data) <= saltSize+nonceSize {
		t.Errorf("uploaded object too small: %d bytes", len(data))
	}

	if st := m.Status(); st.State != StateIdle || st.LastBackup == nil {
		t.Errorf("status after backup = %+v, want idle with last_backup", st)
	}
}

func TestCleanupDeletesOldObjects(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "listado.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bs := store.NewBackupStore(db)
	m := NewManager(enabledConfig(dbPath), db, bs, slog.New(slog.DiscardHandler))
	mock := newMockS3()
	m.client = mock

	old, err := bs.Create("old.db.enc", "old.db.enc")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := db.Exec(`UPDATE backups SET created_at = ? WHERE id = ?`,
		time.Now().UTC().AddDate(0, 0, -60), old.ID); err != nil {
		t.Fatalf("age record: %v", err)
	}
	mock.objects["old.db.enc"] = []byte("stale")

	fresh, err := bs.Create("fresh.db.enc", "fresh.db.enc")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	mock.objects["fresh.db.enc"] = []byte("current")

	if err := m.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if got, _ := bs.GetByID(old.ID); got != nil {
		t.Error("old record should be gone")
	}
	if got, _ := bs.GetByID(fresh.ID); got == nil {
		t.Error("fresh record should survive")
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if _, ok := mock.objects["old.db.enc"]; ok {
		t.Error("old S3 object should be deleted")
	}
	if _, ok := mock.objects["fresh.db.enc"]; !ok {
		t.Error("fresh S3 object should survive")
	}
}
