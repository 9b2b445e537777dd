// Package session holds the per-browser authentication state.
package session

import (
	"sync"

	"github.com/hnrobert/trydo/internal/provider"
)

// State is a snapshot of the auth state. When Loading is false, User and
// Session are either both set or both nil.
type State struct {
	User    *provider.User    `json:"user"`
	Session *provider.Session `json:"session"`
	Loading bool              `json:"loading"`
	Err     error             `json:"-"`
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool {
	return !s.Loading && s.User != nil && s.Session != nil
}

// Store guards one State and fans out changes to subscribers.
type Store struct {
	mu     sync.Mutex
	state  State
	closed bool
	next   int
	subs   map[int]func(State)
}

// New returns a store in the initial loading state.
func New() *Store {
	return &Store{
		state: State{Loading: true},
		subs:  make(map[int]func(State)),
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state)
}

// Subscribe registers fn for state changes. The returned func removes it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Update applies fn to a copy of the state. Subscribers are notified only
// when the result differs. Updates after Close are dropped.
func (s *Store) Update(fn func(*State)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := copyState(s.state)
	fn(&next)
	normalize(&next)
	if equal(s.state, next) {
		s.mu.Unlock()
		return
	}
	s.state = next
	fns := s.snapshotSubsLocked()
	snap := copyState(next)
	s.mu.Unlock()

	for _, f := range fns {
		f(snap)
	}
}

// Reconcile makes sess the current session, replacing User as well.
// Applying an identical session twice only resolves Loading; a push that
// keeps the token but changes the user still lands.
func (s *Store) Reconcile(sess *provider.Session) {
	s.Update(func(st *State) {
		st.Loading = false
		st.Err = nil
		if sess == nil {
			st.User, st.Session = nil, nil
			return
		}
		cp := *sess
		u := cp.User
		st.Session = &cp
		st.User = &u
	})
}

// Fail records err and resolves to unauthenticated.
func (s *Store) Fail(err error) {
	s.Update(func(st *State) {
		st.Loading = false
		st.Err = err
		st.User, st.Session = nil, nil
	})
}

// Clear drops user and session without recording an error.
func (s *Store) Clear() {
	s.Update(func(st *State) {
		st.Loading = false
		st.Err = nil
		st.User, st.Session = nil, nil
	})
}

// Close stops further updates and drops all subscribers.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = map[int]func(State){}
}

func (s *Store) snapshotSubsLocked() []func(State) {
	fns := make([]func(State), 0, len(s.subs))
	for _, f := range s.subs {
		fns = append(fns, f)
	}
	return fns
}

// normalize keeps User and Session paired.
func normalize(st *State) {
	if st.Session == nil {
		st.User = nil
		return
	}
	if st.User == nil {
		u := st.Session.User
		st.User = &u
	}
}

func copyState(st State) State {
	out := st
	if st.User != nil {
		u := *st.User
		out.User = &u
	}
	if st.Session != nil {
		sess := *st.Session
		out.Session = &sess
	}
	return out
}

func equal(a, b State) bool {
	if a.Loading != b.Loading || a.Err != b.Err {
		return false
	}
	if (a.Session == nil) != (b.Session == nil) {
		return false
	}
	if a.Session != nil && *a.Session != *b.Session {
		return false
	}
	if (a.User == nil) != (b.User == nil) {
		return false
	}
	return a.User == nil || *a.User == *b.User
}
