// Package state provides a reducer-driven state container.
package state

import (
	"maps"
	"slices"
	"sync"
)

// Reducer computes the next state from the current state and an action.
// It must not mutate its input or call back into the store.
type Reducer[S, A any] func(state S, action A) S

// Store is a concurrency-safe state container following the
// dispatch / getState / subscribe contract. Instances are constructed
// explicitly and passed to whatever needs them.
type Store[S, A any] struct {
	dispatchMu sync.Mutex // serializes reduce + notify so listeners see states in order
	mu         sync.RWMutex
	state      S
	reducer    Reducer[S, A]
	listeners  map[int]func(S)
	nextID     int
}

// NewStore creates a store holding initial.
func NewStore[S, A any](reducer Reducer[S, A], initial S) *Store[S, A] {
	return &Store[S, A]{
		state:     initial,
		reducer:   reducer,
		listeners: make(map[int]func(S)),
	}
}

// Dispatch reduces action into the current state and notifies every listener
// with the new state, in subscription order. Listeners must not call Dispatch.
func (s *Store[S, A]) Dispatch(action A) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	next := s.reducer(s.state, action)
	s.state = next
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// GetState returns the current state.
func (s *Store[S, A]) GetState() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers listener for every subsequent state change and returns a
// function that removes it. Calling the returned function more than once is a no-op.
func (s *Store[S, A]) Subscribe(listener func(S)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store[S, A]) snapshotListenersLocked() []func(S) {
	ids := slices.Sorted(maps.Keys(s.listeners))
	out := make([]func(S), len(ids))
	for i, id := range ids {
		out[i] = s.listeners[id]
	}
	return out
}
