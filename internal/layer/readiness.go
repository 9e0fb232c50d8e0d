package layer

import (
	"context"
	"sync"
)

// Readiness is a one-shot future resolved when a collection finishes binding.
// The first Resolve wins; later calls are ignored.
type Readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewReadiness returns an unresolved future.
func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

// Resolve completes the future with err (nil means ready).
func (r *Readiness) Resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done is closed once the future resolves.
func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

// Resolved reports whether Resolve has been called.
func (r *Readiness) Resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Err returns the binding error. It is nil until the future resolves.
func (r *Readiness) Err() error {
	if !r.Resolved() {
		return nil
	}
	return r.err
}

// Ready reports whether the future resolved without error.
func (r *Readiness) Ready() bool {
	return r.Resolved() && r.err == nil
}

// Wait blocks until the future resolves or ctx is done.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
