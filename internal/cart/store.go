package cart

import (
	"sync"

	"github.com/dukerupert/cartsync/internal/domain"
)

// Store holds the in-memory cart that every reader observes. Only the Engine
// and the Updater write to it.
type Store struct {
	mu     sync.RWMutex
	state  domain.CartAggregate
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id int
	fn func(domain.CartAggregate)
}

// NewStore creates a store holding initial.
func NewStore(initial domain.CartAggregate) *Store {
	return &Store{state: initial.Clone()}
}

// Snapshot returns a deep copy of the current cart.
func (s *Store) Snapshot() domain.CartAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Replace swaps the whole cart for c.
func (s *Store) Replace(c domain.CartAggregate) {
	s.mu.Lock()
	s.state = c.Clone()
	next, subs := s.publishLocked()
	s.mu.Unlock()
	notify(subs, next)
}

// Update applies fn to the cart atomically and returns the result.
func (s *Store) Update(fn func(*domain.CartAggregate)) domain.CartAggregate {
	s.mu.Lock()
	fn(&s.state)
	if s.state.Items == nil {
		s.state.Items = []domain.CartLineItem{}
	}
	next, subs := s.publishLocked()
	s.mu.Unlock()
	notify(subs, next)
	return next
}

// Subscribe registers fn to receive the cart after every change and returns
// a function that removes it.
func (s *Store) Subscribe(fn func(domain.CartAggregate)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) publishLocked() (domain.CartAggregate, []subscriber) {
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	return s.state.Clone(), subs
}

func notify(subs []subscriber, c domain.CartAggregate) {
	for _, sub := range subs {
		sub.fn(c.Clone())
	}
}
