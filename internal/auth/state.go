package auth

import (
	"sync"

	"github.com/grumpy-ui/listado/internal/model"
)

// State is one client session's view of the current user. The
// transport layer owning the session calls Set on sign-in and
// sign-out; consumers subscribe and are told about every change,
// starting with the current value.
type State struct {
	mu     sync.Mutex
	user   *model.User
	nextID int
	subs   map[int]func(*model.User)
}

func NewState() *State {
	return &State{subs: make(map[int]func(*model.User))}
}

// Current returns the user as of the last Set, nil when signed out.
func (s *State) Current() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Set updates the current user and notifies all subscribers. A nil
// user means signed out.
func (s *State) Set(user *model.User) {
	s.mu.Lock()
	s.user = user
	fns := make([]func(*model.User), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(user)
	}
}

// Subscribe registers fn, fires it immediately with the current user,
// and returns an idempotent cancel.
func (s *State) Subscribe(fn func(*model.User)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	current := s.user
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
