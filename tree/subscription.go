package tree

import (
	"context"
	"errors"
	"sync"
)

// Subscription is a live observation of one path. The backend feeding it calls Emit for every
// snapshot and Finish exactly once when it stops; the consumer ranges over Updates and checks Err
// once the channel is closed.
type Subscription struct {
	path    Path
	updates chan Node
	ctx     context.Context
	cancel  context.CancelFunc

	mu  sync.Mutex
	err error
}

// NewSubscription creates a subscription for path whose lifetime is bounded by ctx.
func NewSubscription(ctx context.Context, path Path) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{
		path:    path,
		updates: make(chan Node),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Path is the observed location.
func (s *Subscription) Path() Path {
	return s.path
}

// Updates yields a full snapshot per change. It is closed after Finish.
func (s *Subscription) Updates() <-chan Node {
	return s.updates
}

// Context is done once the subscription has been closed; backends stop producing then.
func (s *Subscription) Context() context.Context {
	return s.ctx
}

// Err returns the error that ended the subscription, nil if it was closed by its owner.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.cancel()
	return nil
}

// Emit hands a snapshot to the consumer, blocking until it is taken. It returns false once
// the subscription has been closed.
func (s *Subscription) Emit(n Node) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case <-s.ctx.Done():
		return false
	case s.updates <- n:
		return true
	}
}

// Finish records why the backend stopped and closes Updates. Cancellation caused by Close is
// not reported as an error.
func (s *Subscription) Finish(err error) {
	if err != nil && s.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.cancel()
	close(s.updates)
}
