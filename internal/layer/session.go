package layer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tofunori/glacier-albedo-west-canada/internal/errhandling"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
)

// Binder is implemented by collections that bind to a remote source.
type Binder interface {
	Bind(ctx context.Context) error
}

// Session holds the collections of one running view. It is passed to the
// components that act on collections instead of package-level state.
type Session struct {
	mu          sync.RWMutex
	collections map[string]Collection
	order       []string
}

// NewSession creates a session holding the given collections.
func NewSession(collections ...Collection) *Session {
	s := &Session{collections: make(map[string]Collection)}
	for _, c := range collections {
		s.Add(c)
	}
	return s
}

// Add registers a collection, replacing any collection with the same name.
func (s *Session) Add(c Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[c.Name()]; !exists {
		s.order = append(s.order, c.Name())
	}
	s.collections[c.Name()] = c
}

// Get returns the named collection. A nil Session has no collections.
func (s *Session) Get(name string) (Collection, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	return c, ok
}

// Names lists collections in insertion order.
func (s *Session) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Readiness reports the ready state of every collection, keyed by name.
func (s *Session) Readiness() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.collections))
	for name, c := range s.collections {
		out[name] = c.Ready()
	}
	return out
}

// BindAll binds every unbound Binder concurrently. Failures are logged and
// joined; successfully bound collections stay bound.
func (s *Session) BindAll(ctx context.Context) error {
	s.mu.RLock()
	var binders []Binder
	var names []string
	for _, name := range s.order {
		c := s.collections[name]
		if b, ok := c.(Binder); ok && !c.Ready() {
			binders = append(binders, b)
			names = append(names, name)
		}
	}
	s.mu.RUnlock()

	errs := make([]error, len(binders))
	var wg sync.WaitGroup
	for i, b := range binders {
		wg.Add(1)
		go func(i int, b Binder) {
			defer wg.Done()
			if err := b.Bind(ctx); err != nil {
				logger.LogError("layer bind failed", logger.ErrorContext{
					Operation: "bind",
					Layer:     names[i],
					Err:       err,
				})
				errs[i] = err
			}
		}(i, b)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// WaitReady blocks until every collection with a readiness future has
// resolved or ctx is done. Collections without a future are skipped.
func (s *Session) WaitReady(ctx context.Context) error {
	s.mu.RLock()
	var names []string
	var futures []*Readiness
	for _, name := range s.order {
		if w, ok := s.collections[name].(Waiter); ok {
			names = append(names, name)
			futures = append(futures, w.Readiness())
		}
	}
	s.mu.RUnlock()

	var errs []error
	for i, r := range futures {
		if err := r.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// Pending lists collections that are not yet ready, sorted by name.
func (s *Session) Pending() []string {
	var pending []string
	for name, ready := range s.Readiness() {
		if !ready {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending
}

// ShouldRebind reports whether a BindAll error holds at least one failure a
// later attempt could fix. Authentication, validation and not-found failures
// are fatal.
func ShouldRebind(err error) bool {
	if err == nil {
		return false
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return !errhandling.IsFatal(err)
	}
	for _, e := range joined.Unwrap() {
		if ShouldRebind(e) {
			return true
		}
	}
	return false
}
