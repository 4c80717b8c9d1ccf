// Package session carries the authentication state the cart depends on.
//
// The cart never owns the session lifecycle. It only observes transitions
// through a Signal, which the HTTP API or the NATS bridge drive.
package session

import (
	"sync"
)

// User is the authenticated principal. Token is sent to the cart API as a
// bearer credential.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// Listener is called with the previous and new session user. A nil user means
// logged out.
type Listener func(prev, next *User)

// Signal is an observable holder of the current session user.
type Signal struct {
	mu        sync.RWMutex
	current   *User
	nextID    int
	listeners []listenerEntry

	// notify serializes listener delivery so transitions are observed in order.
	notify sync.Mutex
}

type listenerEntry struct {
	id int
	fn Listener
}

// NewSignal creates a signal holding initial (nil for logged out).
func NewSignal(initial *User) *Signal {
	return &Signal{current: clone(initial)}
}

// Current returns a copy of the current user, or nil when logged out.
func (s *Signal) Current() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current)
}

// Token returns the bearer token of the current user, or "".
func (s *Signal) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// Set replaces the current user and notifies listeners when the logged-in
// state or the user ID changes. A token refresh for the same user is applied
// silently.
func (s *Signal) Set(u *User) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	prev := s.current
	s.current = clone(u)
	next := s.current
	listeners := make([]listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	if !changed(prev, next) {
		return
	}
	for _, l := range listeners {
		l.fn(clone(prev), clone(next))
	}
}

// Login is shorthand for Set(u).
func (s *Signal) Login(u User) { s.Set(&u) }

// Logout is shorthand for Set(nil).
func (s *Signal) Logout() { s.Set(nil) }

// Subscribe registers fn for future transitions and returns a function that
// removes it.
func (s *Signal) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func changed(prev, next *User) bool {
	if (prev == nil) != (next == nil) {
		return true
	}
	if prev == nil {
		return false
	}
	return prev.ID != next.ID
}

func clone(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
