// Package feature holds the presentation state machines (meal, timetable,
// home, settings, school setting). Each is a reducer over a value state;
// asynchronous work runs as effects whose results are fed back as actions.
package feature

import (
	"context"
	"sync"
	"time"
)

// Effect is asynchronous work requested by a reducer. When Run reports
// ok, its action is reduced into the store.
//
// Effects sharing an ID supersede each other: starting one cancels the
// in-flight one, and a superseded effect's result is dropped even if it
// completes afterwards.
type Effect[A any] struct {
	ID  string
	Run func(ctx context.Context) (A, bool)

	// cancelOnly stops the in-flight effect with ID without starting one.
	cancelOnly bool
}

// Cancel returns an effect that only cancels the in-flight effect id.
func Cancel[A any](id string) Effect[A] {
	return Effect[A]{ID: id, cancelOnly: true}
}

// Debounce delays run by d; a newer effect with the same id restarts the wait.
func Debounce[A any](id string, d time.Duration, run func(ctx context.Context) (A, bool)) Effect[A] {
	return Effect[A]{
		ID: id,
		Run: func(ctx context.Context) (A, bool) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				var zero A
				return zero, false
			case <-t.C:
			}
			return run(ctx)
		},
	}
}

// Reducer mutates state for action and returns the effects to start.
type Reducer[S, A any] func(state *S, action A) []Effect[A]

type flight struct {
	gen    uint64
	cancel context.CancelFunc
}

// Store serializes actions through a reducer and owns in-flight effects.
type Store[S, A any] struct {
	reduce Reducer[S, A]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    S
	gen      uint64
	inflight map[string]flight
	subs     []func(S)

	// running counts effect goroutines; idle is closed when it drops to 0.
	running int
	idle    chan struct{}
}

// NewStore creates a store with the initial state.
func NewStore[S, A any](initial S, reduce Reducer[S, A]) *Store[S, A] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store[S, A]{
		reduce:   reduce,
		ctx:      ctx,
		cancel:   cancel,
		state:    initial,
		inflight: make(map[string]flight),
	}
}

// State returns the current state snapshot.
func (s *Store[S, A]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive every new state after an action.
func (s *Store[S, A]) Subscribe(fn func(S)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Send reduces action synchronously and starts any resulting effects.
func (s *Store[S, A]) Send(action A) {
	s.mu.Lock()
	snap, subs := s.reduceLocked(action)
	s.mu.Unlock()
	notify(subs, snap)
}

// Settle blocks until no effect is running or ctx is done.
func (s *Store[S, A]) Settle(ctx context.Context) error {
	s.mu.Lock()
	if s.running == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all in-flight effects and waits for them to return.
func (s *Store[S, A]) Close() {
	s.cancel()
	_ = s.Settle(context.Background())
}

func (s *Store[S, A]) reduceLocked(action A) (S, []func(S)) {
	for _, e := range s.reduce(&s.state, action) {
		s.startLocked(e)
	}
	subs := make([]func(S), len(s.subs))
	copy(subs, s.subs)
	return s.state, subs
}

func (s *Store[S, A]) startLocked(e Effect[A]) {
	if e.ID != "" {
		if f, ok := s.inflight[e.ID]; ok {
			f.cancel()
			delete(s.inflight, e.ID)
		}
	}
	if e.cancelOnly || e.Run == nil {
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.gen++
	gen := s.gen
	if e.ID != "" {
		s.inflight[e.ID] = flight{gen: gen, cancel: cancel}
	}

	if s.running == 0 {
		s.idle = make(chan struct{})
	}
	s.running++

	go func() {
		defer s.done()
		defer cancel()

		action, ok := e.Run(ctx)
		if !ok {
			s.finish(e.ID, gen)
			return
		}
		s.deliver(ctx, e.ID, gen, action)
	}()
}

func (s *Store[S, A]) done() {
	s.mu.Lock()
	s.running--
	if s.running == 0 {
		close(s.idle)
	}
	s.mu.Unlock()
}

// deliver reduces an effect result unless it was superseded or cancelled.
// The check and the reduce happen under one lock so a newer request can
// never be overwritten by an older response.
func (s *Store[S, A]) deliver(ctx context.Context, id string, gen uint64, action A) {
	s.mu.Lock()
	if ctx.Err() != nil || !s.currentLocked(id, gen) {
		s.mu.Unlock()
		return
	}
	if id != "" {
		delete(s.inflight, id)
	}
	snap, subs := s.reduceLocked(action)
	s.mu.Unlock()
	notify(subs, snap)
}

func (s *Store[S, A]) finish(id string, gen uint64) {
	if id == "" {
		return
	}
	s.mu.Lock()
	if s.currentLocked(id, gen) {
		delete(s.inflight, id)
	}
	s.mu.Unlock()
}

func (s *Store[S, A]) currentLocked(id string, gen uint64) bool {
	if id == "" {
		return true
	}
	f, ok := s.inflight[id]
	return ok && f.gen == gen
}

func notify[S any](subs []func(S), snap S) {
	for _, fn := range subs {
		fn(snap)
	}
}
