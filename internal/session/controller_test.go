package session

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/grumpy-ui/listado/internal/auth"
	"github.com/grumpy-ui/listado/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	nextID  int
	created []model.List
	failing bool

	subs map[string]func(*model.List)
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: make(map[string]func(*model.List))}
}

func (f *fakeStore) Create(ownerID, ownerName, name string) (*model.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("store down")
	}
	f.nextID++
	l := model.List{ID: "list-" + string(rune('a'+f.nextID-1)), Name: name, Items: []model.Item{}}
	if ownerID != "" {
		l.OwnerID = &ownerID
		l.OwnerName = &ownerName
	}
	f.created = append(f.created, l)
	return &l, nil
}

func (f *fakeStore) Subscribe(id string, fn func(*model.List)) (cancel func()) {
	f.mu.Lock()
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// push delivers a document to the live subscriber for id, the way the
// feed would after a write.
func (f *fakeStore) push(t *testing.T, id string, l *model.List) {
	t.Helper()
	f.mu.Lock()
	fn, ok := f.subs[id]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscriber for %s", id)
	}
	fn(l)
}

func (f *fakeStore) subscribed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[id]
	return ok
}

type recorder struct {
	mu        sync.Mutex
	navs      []string
	snapshots []Snapshot
}

func (r *recorder) Navigate(listID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navs = append(r.navs, listID)
}

func (r *recorder) Update(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) lastNav(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.navs) == 0 {
		t.Fatal("no navigation events")
	}
	return r.navs[len(r.navs)-1]
}

func (r *recorder) navCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.navs)
}

func newTestController(t *testing.T) (*Controller, *fakeStore, *auth.State, *recorder) {
	t.Helper()
	store := newFakeStore()
	st := auth.NewState()
	rec := &recorder{}
	c := NewController(store, st, rec, 5*time.Second, slog.New(slog.DiscardHandler))
	c.Start()
	t.Cleanup(c.Close)
	return c, store, st, rec
}

func verifiedUser(id string) *model.User {
	return &model.User{ID: id, Email: id + "@example.com", EmailVerified: true}
}

func TestAnonymousNewCreatesAndSubscribes(t *testing.T) {
	c, store, _, rec := newTestController(t)

	c.SetRoute(RouteNew)

	if len(store.created) != 1 {
		t.Fatalf("created %d lists, want 1", len(store.created))
	}
	id := store.created[0].ID
	if got := rec.lastNav(t); got != id {
		t.Errorf("navigated to %q, want %q", got, id)
	}
	if !store.subscribed(id) {
		t.Error("not subscribed to the created list")
	}
	if snap := c.Snapshot(); snap.State != Subscribed {
		t.Errorf("state = %s, want %s", snap.State, Subscribed)
	}

	store.push(t, id, &store.created[0])
	snap := c.Snapshot()
	if snap.List == nil || snap.List.ID != id {
		t.Errorf("snapshot list = %+v, want %s", snap.List, id)
	}
	if snap.BelongsToUser {
		t.Error("anonymous list should not belong to anyone")
	}
}

func TestAnonymousCreateFailureDegrades(t *testing.T) {
	c, store, _, rec := newTestController(t)
	store.failing = true

	c.SetRoute(RouteNew)

	if got := rec.navCount(); got != 0 {
		t.Errorf("navigated %d times, want 0", got)
	}
	snap := c.Snapshot()
	if snap.State != Unattached {
		t.Errorf("state = %s, want %s", snap.State, Unattached)
	}
	if snap.List != nil {
		t.Error("expected empty view after failed create")
	}
}

func TestSignedInNewAwaitsWelcome(t *testing.T) {
	c, store, st, _ := newTestController(t)
	st.Set(verifiedUser("u1"))

	c.SetRoute(RouteNew)

	if len(store.created) != 0 {
		t.Fatalf("created %d lists, want 0 before the welcome action", len(store.created))
	}
	if snap := c.Snapshot(); snap.State != AwaitingWelcome {
		t.Errorf("state = %s, want %s", snap.State, AwaitingWelcome)
	}
}

func TestCreateNamed(t *testing.T) {
	c, store, st, rec := newTestController(t)
	st.Set(verifiedUser("u1"))
	c.SetRoute(RouteNew)

	l, err := c.CreateNamed("  Groceries  ")
	if err != nil {
		t.Fatalf("CreateNamed: %v", err)
	}
	if l.Name != "Groceries" {
		t.Errorf("name = %q, want trimmed %q", l.Name, "Groceries")
	}
	if l.OwnerID == nil || *l.OwnerID != "u1" {
		t.Errorf("owner = %v, want u1", l.OwnerID)
	}
	if got := rec.lastNav(t); got != l.ID {
		t.Errorf("navigated to %q, want %q", got, l.ID)
	}
	if !store.subscribed(l.ID) {
		t.Error("not subscribed after create")
	}
}

func TestCreateNamedValidation(t *testing.T) {
	c, _, st, _ := newTestController(t)

	if _, err := c.CreateNamed("x"); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("anonymous CreateNamed err = %v, want ErrNotSignedIn", err)
	}

	st.Set(verifiedUser("u1"))
	if _, err := c.CreateNamed("   "); !errors.Is(err, ErrNameRequired) {
		t.Errorf("blank name err = %v, want ErrNameRequired", err)
	}
}

func TestGraceWindowSuppressesRedirect(t *testing.T) {
	c, store, st, rec := newTestController(t)
	now := time.Now()
	c.now = func() time.Time { return now }

	st.Set(verifiedUser("u1"))
	c.SetRoute(RouteNew)
	l, err := c.CreateNamed("Weekend")
	if err != nil {
		t.Fatalf("CreateNamed: %v", err)
	}

	// The feed echoes the pre-ownership document first.
	stale := *l
	stale.OwnerID = nil
	stale.OwnerName = nil
	store.push(t, l.ID, &stale)

	if snap := c.Snapshot(); snap.State != Subscribed {
		t.Fatalf("state = %s during grace window, want %s", snap.State, Subscribed)
	}
	if got := rec.lastNav(t); got != l.ID {
		t.Errorf("navigated to %q during grace window, want %q", got, l.ID)
	}

	// After the window, the same stale document forces the redirect.
	now = now.Add(6 * time.Second)
	store.push(t, l.ID, &stale)
	if snap := c.Snapshot(); snap.State != AwaitingWelcome {
		t.Errorf("state = %s after grace window, want %s", snap.State, AwaitingWelcome)
	}
	if got := rec.lastNav(t); got != RouteNew {
		t.Errorf("navigated to %q, want %q", got, RouteNew)
	}
}

func TestForeignListRedirects(t *testing.T) {
	c, store, st, rec := newTestController(t)
	st.Set(verifiedUser("u1"))

	c.SetRoute("list-z")
	other := "u2"
	store.push(t, "list-z", &model.List{ID: "list-z", OwnerID: &other, Items: []model.Item{}})

	if got := rec.lastNav(t); got != RouteNew {
		t.Errorf("navigated to %q, want %q", got, RouteNew)
	}
	snap := c.Snapshot()
	if snap.State != AwaitingWelcome {
		t.Errorf("state = %s, want %s", snap.State, AwaitingWelcome)
	}
	if store.subscribed("list-z") {
		t.Error("foreign list subscription not cancelled")
	}
}

func TestAnonymousMayViewForeignList(t *testing.T) {
	c, store, _, rec := newTestController(t)

	c.SetRoute("list-z")
	owner := "u2"
	store.push(t, "list-z", &model.List{ID: "list-z", OwnerID: &owner, Items: []model.Item{}})

	if got := rec.navCount(); got != 0 {
		t.Errorf("navigated %d times, want 0", got)
	}
	snap := c.Snapshot()
	if snap.State != Subscribed {
		t.Errorf("state = %s, want %s", snap.State, Subscribed)
	}
	if snap.BelongsToUser {
		t.Error("foreign list reported as owned")
	}
}

func TestSignInOnForeignListRedirects(t *testing.T) {
	c, store, st, rec := newTestController(t)

	c.SetRoute("list-z")
	owner := "u2"
	store.push(t, "list-z", &model.List{ID: "list-z", OwnerID: &owner, Items: []model.Item{}})

	st.Set(verifiedUser("u1"))

	if got := rec.lastNav(t); got != RouteNew {
		t.Errorf("navigated to %q after sign-in, want %q", got, RouteNew)
	}
	if snap := c.Snapshot(); snap.State != AwaitingWelcome {
		t.Errorf("state = %s, want %s", snap.State, AwaitingWelcome)
	}
}

func TestSignInOnOwnListStays(t *testing.T) {
	c, store, st, rec := newTestController(t)

	c.SetRoute("list-z")
	owner := "u1"
	store.push(t, "list-z", &model.List{ID: "list-z", OwnerID: &owner, Items: []model.Item{}})

	st.Set(verifiedUser("u1"))

	if got := rec.navCount(); got != 0 {
		t.Errorf("navigated %d times, want 0", got)
	}
	snap := c.Snapshot()
	if snap.State != Subscribed || !snap.BelongsToUser {
		t.Errorf("snapshot = %+v, want owned subscription", snap)
	}
}

func TestSignOutSpinsUpFreshAnonymousList(t *testing.T) {
	c, store, st, rec := newTestController(t)
	st.Set(verifiedUser("u1"))

	c.SetRoute("list-z")
	owner := "u1"
	store.push(t, "list-z", &model.List{ID: "list-z", OwnerID: &owner, Items: []model.Item{
		{Text: "milk", Quantity: 1},
	}})

	st.Set(nil)

	if len(store.created) != 1 {
		t.Fatalf("created %d lists after sign-out, want 1", len(store.created))
	}
	fresh := store.created[0].ID
	if got := rec.lastNav(t); got != fresh {
		t.Errorf("navigated to %q, want fresh list %q", got, fresh)
	}
	if store.subscribed("list-z") {
		t.Error("old subscription survived sign-out")
	}
	snap := c.Snapshot()
	if snap.List != nil {
		t.Error("stale list state survived sign-out")
	}
	if snap.BelongsToUser {
		t.Error("ownership flag survived sign-out")
	}
}

func TestStaleCallbacksDiscarded(t *testing.T) {
	c, store, _, _ := newTestController(t)

	c.SetRoute("list-a")
	store.mu.Lock()
	staleFn := store.subs["list-a"]
	store.mu.Unlock()

	c.SetRoute("list-b")
	store.push(t, "list-b", &model.List{ID: "list-b", Items: []model.Item{}})

	// A late delivery from the abandoned subscription must not clobber
	// the current list.
	staleFn(&model.List{ID: "list-a", Items: []model.Item{{Text: "ghost", Quantity: 1}}})

	snap := c.Snapshot()
	if snap.List == nil || snap.List.ID != "list-b" {
		t.Errorf("snapshot list = %+v, want list-b", snap.List)
	}
}

func TestDeletedListRendersEmpty(t *testing.T) {
	c, store, _, _ := newTestController(t)

	c.SetRoute("list-a")
	store.push(t, "list-a", &model.List{ID: "list-a", Items: []model.Item{{Text: "milk", Quantity: 1}}})
	store.push(t, "list-a", nil)

	snap := c.Snapshot()
	if snap.State != Subscribed {
		t.Errorf("state = %s, want %s", snap.State, Subscribed)
	}
	if snap.List != nil {
		t.Error("deleted list should render as empty")
	}
	if snap.BelongsToUser {
		t.Error("deleted list should not report ownership")
	}
}

func TestRouteChangeCancelsPreviousSubscription(t *testing.T) {
	c, store, _, _ := newTestController(t)

	c.SetRoute("list-a")
	if !store.subscribed("list-a") {
		t.Fatal("not subscribed to list-a")
	}
	c.SetRoute("list-b")
	if store.subscribed("list-a") {
		t.Error("list-a subscription not cancelled on route change")
	}
	if !store.subscribed("list-b") {
		t.Error("not subscribed to list-b")
	}
}

func TestSetRouteSameIDIsNoOp(t *testing.T) {
	c, store, _, _ := newTestController(t)

	c.SetRoute("list-a")
	store.push(t, "list-a", &model.List{ID: "list-a", Items: []model.Item{{Text: "milk", Quantity: 1}}})

	// Re-setting the same route must not tear down and resubscribe.
	c.SetRoute("list-a")

	snap := c.Snapshot()
	if snap.State != Subscribed {
		t.Errorf("state = %s, want %s", snap.State, Subscribed)
	}
	if snap.List == nil || len(snap.List.Items) != 1 {
		t.Errorf("snapshot list = %+v, want the delivered document intact", snap.List)
	}
}

func TestCloseIsSafeWithPanickyDisposer(t *testing.T) {
	store := newFakeStore()
	st := auth.NewState()
	rec := &recorder{}
	c := NewController(store, st, rec, time.Second, slog.New(slog.DiscardHandler))
	c.Start()

	c.SetRoute("list-a")

	// Swap the disposer for one that panics.
	c.mu.Lock()
	c.cancelSub = func() { panic("boom") }
	c.mu.Unlock()

	c.Close()

	// Inputs after close are ignored.
	c.SetRoute("list-b")
	if store.subscribed("list-b") {
		t.Error("subscription created after close")
	}
}
