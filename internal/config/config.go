package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all process-wide configuration, loaded once at startup.
// Store and auth credentials are injected via environment; nothing is
// hardcoded in the packages that use them.
type Config struct {
	Addr     string
	DBPath   string
	BaseURL  string
	LogLevel string

	// GraceWindow suppresses the access redirect right after a
	// logged-in user creates a list, to tolerate read-after-write lag
	// on the live feed.
	GraceWindow time.Duration

	// Federated identity tokens are HS256 JWTs minted by the external
	// identity broker and verified locally.
	FederatedSecret string
	FederatedIssuer string

	Email  EmailConfig
	Backup BackupConfig
	Push   PushConfig
}

// EmailConfig configures the Postmark client used for verification codes.
type EmailConfig struct {
	ServerToken string
	FromEmail   string
}

// BackupConfig configures encrypted database backups.
type BackupConfig struct {
	S3Endpoint    string
	S3Bucket      string
	S3Region      string
	S3AccessKey   string
	S3SecretKey   string
	Passphrase    string
	ScheduleHour  int
	RetentionDays int
}

// PushConfig holds VAPID keys for web push notifications.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

// Load reads configuration from the environment, applying defaults for
// anything optional. It fails only on values that parse but are invalid.
func Load() (Config, error) {
	cfg := Config{
		Addr:            getenv("LISTADO_ADDR", ":8080"),
		DBPath:          getenv("LISTADO_DB_PATH", "listado.db"),
		BaseURL:         getenv("LISTADO_BASE_URL", "http://localhost:8080"),
		LogLevel:        getenv("LISTADO_LOG_LEVEL", "info"),
		GraceWindow:     5 * time.Second,
		FederatedSecret: os.Getenv("LISTADO_FEDERATED_SECRET"),
		FederatedIssuer: getenv("LISTADO_FEDERATED_ISSUER", "listado-identity"),
		Email: EmailConfig{
			ServerToken: os.Getenv("LISTADO_POSTMARK_TOKEN"),
			FromEmail:   getenv("LISTADO_FROM_EMAIL", "noreply@listado.app"),
		},
		Backup: BackupConfig{
			S3Endpoint:    os.Getenv("LISTADO_S3_ENDPOINT"),
			S3Bucket:      os.Getenv("LISTADO_S3_BUCKET"),
			S3Region:      getenv("LISTADO_S3_REGION", "auto"),
			S3AccessKey:   os.Getenv("LISTADO_S3_ACCESS_KEY"),
			S3SecretKey:   os.Getenv("LISTADO_S3_SECRET_KEY"),
			Passphrase:    os.Getenv("LISTADO_BACKUP_PASSPHRASE"),
			ScheduleHour:  3,
			RetentionDays: 30,
		},
		Push: PushConfig{
			VAPIDPublicKey:  os.Getenv("LISTADO_VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("LISTADO_VAPID_PRIVATE_KEY"),
		},
	}

	if v := os.Getenv("LISTADO_GRACE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse LISTADO_GRACE_WINDOW: %w", err)
		}
		cfg.GraceWindow = d
	}
	if v := os.Getenv("LISTADO_BACKUP_HOUR"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h < 0 || h > 23 {
			return Config{}, fmt.Errorf("invalid LISTADO_BACKUP_HOUR %q", v)
		}
		cfg.Backup.ScheduleHour = h
	}
	if v := os.Getenv("LISTADO_BACKUP_RETENTION_DAYS"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 {
			return Config{}, fmt.Errorf("invalid LISTADO_BACKUP_RETENTION_DAYS %q", v)
		}
		cfg.Backup.RetentionDays = d
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
