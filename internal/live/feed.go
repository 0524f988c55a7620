// Package live layers real-time subscriptions over the list store.
// All list mutations go through the Feed so that every attached
// subscriber (WebSocket rooms, session controllers, push notifiers)
// observes them.
package live

import (
	"log/slog"
	"sync"

	"github.com/grumpy-ui/listado/internal/model"
	"github.com/grumpy-ui/listado/internal/store"
)

type listSub struct {
	ch   chan *model.List
	done chan struct{}
}

type ownerSub struct {
	ch   chan []model.List
	done chan struct{}
}

// Feed wraps a ListStore with change fan-out. Each subscriber gets its
// own delivery goroutine with a latest-value buffer: a slow consumer
// never blocks writers, and only ever misses intermediate states; the
// most recent snapshot always arrives.
type Feed struct {
	store  *store.ListStore
	logger *slog.Logger

	mu        sync.Mutex
	onChange  func(*model.List)
	nextID    int
	listSubs  map[string]map[int]*listSub
	ownerSubs map[string]map[int]*ownerSub
}

// SetOnChange installs a hook fired after every list mutation, off the
// caller's goroutine. Deletes are not reported. Set it once during
// startup, before traffic.
func (f *Feed) SetOnChange(fn func(*model.List)) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

func NewFeed(s *store.ListStore, logger *slog.Logger) *Feed {
	return &Feed{
		store:     s,
		logger:    logger,
		listSubs:  make(map[string]map[int]*listSub),
		ownerSubs: make(map[string]map[int]*ownerSub),
	}
}

// --- Mutations (persist, then publish) ---

func (f *Feed) Create(ownerID, ownerName, name string) (*model.List, error) {
	l, err := f.store.Create(ownerID, ownerName, name)
	if err != nil {
		return nil, err
	}
	f.publishList(l.ID, l)
	if l.OwnerID != nil {
		f.publishOwner(*l.OwnerID)
	}
	return l, nil
}

func (f *Feed) Get(id string) (*model.List, error) {
	return f.store.GetByID(id)
}

func (f *Feed) ReplaceItems(id string, items []model.Item) (*model.List, error) {
	l, err := f.store.ReplaceItems(id, items)
	if err != nil {
		return nil, err
	}
	if l != nil {
		f.publishList(id, l)
		if l.OwnerID != nil {
			f.publishOwner(*l.OwnerID)
		}
	}
	return l, nil
}

func (f *Feed) SetOwner(id, ownerID, ownerName string) (*model.List, error) {
	l, err := f.store.SetOwner(id, ownerID, ownerName)
	if err != nil {
		return nil, err
	}
	if l != nil {
		f.publishList(id, l)
		f.publishOwner(ownerID)
	}
	return l, nil
}

func (f *Feed) Rename(id, name string) (*model.List, error) {
	l, err := f.store.Rename(id, name)
	if err != nil {
		return nil, err
	}
	if l != nil {
		f.publishList(id, l)
		if l.OwnerID != nil {
			f.publishOwner(*l.OwnerID)
		}
	}
	return l, nil
}

func (f *Feed) ListByOwner(ownerID string) ([]model.List, error) {
	return f.store.ListByOwner(ownerID)
}

func (f *Feed) Delete(id string) error {
	l, err := f.store.GetByID(id)
	if err != nil {
		return err
	}
	if err := f.store.Delete(id); err != nil {
		return err
	}
	f.publishList(id, nil)
	if l != nil && l.OwnerID != nil {
		f.publishOwner(*l.OwnerID)
	}
	return nil
}

// --- Subscriptions ---

// Subscribe registers fn for a list id. fn fires once immediately with
// the current state (nil if the list does not exist, or was deleted
// while subscribed) and again on each mutation. The returned cancel is
// idempotent and safe to call at any point; a store failure reading
// the initial state degrades to a nil delivery rather than an error.
func (f *Feed) Subscribe(id string, fn func(*model.List)) (cancel func()) {
	sub := &listSub{
		ch:   make(chan *model.List, 1),
		done: make(chan struct{}),
	}

	// The initial read and the registration share the lock publishers
	// take after persisting, so no mutation lands between them.
	f.mu.Lock()
	initial, err := f.store.GetByID(id)
	if err != nil {
		f.logger.Error("subscribe initial read", "list_id", id, "error", err)
		initial = nil
	}
	sub.ch <- initial

	f.nextID++
	subID := f.nextID
	if f.listSubs[id] == nil {
		f.listSubs[id] = make(map[int]*listSub)
	}
	f.listSubs[id][subID] = sub
	f.mu.Unlock()

	go func() {
		for {
			select {
			case l := <-sub.ch:
				fn(l)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if subs, ok := f.listSubs[id]; ok {
				delete(subs, subID)
				if len(subs) == 0 {
					delete(f.listSubs, id)
				}
			}
			f.mu.Unlock()
			close(sub.done)
		})
	}
}

// SubscribeOwner registers fn for a user's list history, newest first.
// Semantics match Subscribe: immediate delivery, then one per change
// to any list the user owns.
func (f *Feed) SubscribeOwner(ownerID string, fn func([]model.List)) (cancel func()) {
	sub := &ownerSub{
		ch:   make(chan []model.List, 1),
		done: make(chan struct{}),
	}

	f.mu.Lock()
	initial, err := f.store.ListByOwner(ownerID)
	if err != nil {
		f.logger.Error("subscribe owner initial read", "owner_id", ownerID, "error", err)
		initial = []model.List{}
	}
	sub.ch <- initial

	f.nextID++
	subID := f.nextID
	if f.ownerSubs[ownerID] == nil {
		f.ownerSubs[ownerID] = make(map[int]*ownerSub)
	}
	f.ownerSubs[ownerID][subID] = sub
	f.mu.Unlock()

	go func() {
		for {
			select {
			case lists := <-sub.ch:
				fn(lists)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if subs, ok := f.ownerSubs[ownerID]; ok {
				delete(subs, subID)
				if len(subs) == 0 {
					delete(f.ownerSubs, ownerID)
				}
			}
			f.mu.Unlock()
			close(sub.done)
		})
	}
}

// publishList hands the new state to every subscriber of the id,
// replacing any undelivered older snapshot.
func (f *Feed) publishList(id string, l *model.List) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onChange != nil && l != nil {
		go f.onChange(l)
	}
	for _, sub := range f.listSubs[id] {
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- l
	}
}

func (f *Feed) publishOwner(ownerID string) {
	f.mu.Lock()
	subs := f.ownerSubs[ownerID]
	if len(subs) == 0 {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	lists, err := f.store.ListByOwner(ownerID)
	if err != nil {
		f.logger.Error("publish owner read", "owner_id", ownerID, "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.ownerSubs[ownerID] {
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- lists
	}
}
