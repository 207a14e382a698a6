// Package scope ties live subscriptions to an explicit owner. A Handle releases exactly one
// subscription; an Owner (a websocket connection, a command invocation) runs its teardown hooks
// when it ends, closing every handle bound to it.
package scope

import (
	"sync"
)

// Handle is a disposable for one subscription. Close is the only way to release it.
type Handle struct {
	once    sync.Once
	release func()
	done    chan struct{}
}

// NewHandle returns a handle that runs release on its first Close.
func NewHandle(release func()) *Handle {
	return &Handle{release: release, done: make(chan struct{})}
}

// Close releases the subscription. Only the first call has an effect.
func (h *Handle) Close() error {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
		close(h.done)
	})
	return nil
}

// Done is closed once the handle has been closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Closer is anything bound to an owner.
type Closer interface {
	Close() error
}

// Owner is a scope with a teardown hook.
type Owner interface {
	// OnTeardown registers fn to run when the owner ends. If the owner already ended fn runs
	// immediately.
	OnTeardown(fn func())
}

// Bind closes c when owner tears down and returns c for chaining.
func Bind(owner Owner, c Closer) Closer {
	if owner != nil {
		owner.OnTeardown(func() { c.Close() })
	}
	return c
}

// Lifetime is a plain Owner whose End runs the registered teardowns in reverse order.
type Lifetime struct {
	mu        sync.Mutex
	ended     bool
	teardowns []func()
}

// NewLifetime returns a running lifetime.
func NewLifetime() *Lifetime {
	return &Lifetime{}
}

// OnTeardown implements Owner.
func (l *Lifetime) OnTeardown(fn func()) {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		fn()
		return
	}
	l.teardowns = append(l.teardowns, fn)
	l.mu.Unlock()
}

// End runs every teardown once. Later calls do nothing.
func (l *Lifetime) End() {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return
	}
	l.ended = true
	teardowns := l.teardowns
	l.teardowns = nil
	l.mu.Unlock()

	for i := len(teardowns) - 1; i >= 0; i-- {
		teardowns[i]()
	}
}

// Ended reports whether End has been called.
func (l *Lifetime) Ended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ended
}
