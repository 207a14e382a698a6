// Package rtdbtree implements tree.Store on the Firebase Realtime Database through the Admin
// SDK. The Admin SDK has no streaming listener, so Observe polls with ETag-conditional reads and
// only delivers when the ETag moves.
package rtdbtree

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/db"
	"github.com/cenkalti/backoff/v4"

	log "carpool/cloudlog"
	"carpool/tree"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultPollMaxElapsed = 5 * time.Minute
)

// Store implements tree.Store over a Realtime Database client.
type Store struct {
	client *db.Client

	// How often an observed path is checked for changes.
	pollInterval time.Duration

	// How long a failing observation keeps retrying before it ends with the error.
	pollMaxElapsed time.Duration
}

var _ tree.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets the interval between change checks of observed paths.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithPollMaxElapsed bounds the retries of a failing observation.
func WithPollMaxElapsed(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollMaxElapsed = d
		}
	}
}

// New wraps a database client.
func New(client *db.Client, opts ...Option) *Store {
	s := &Store{
		client:         client,
		pollInterval:   defaultPollInterval,
		pollMaxElapsed: defaultPollMaxElapsed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the database at url using the app's credentials.
func Open(ctx context.Context, app *firebase.App, url string, opts ...Option) (*Store, error) {
	client, err := app.DatabaseWithURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("initiate Realtime Database client failed: %w", err)
	}
	return New(client, opts...), nil
}

func (s *Store) ref(path tree.Path) (*db.Ref, error) {
	if err := path.Valid(); err != nil {
		return nil, err
	}
	return s.client.NewRef(path.String()), nil
}

// Get implements tree.Store.
func (s *Store) Get(ctx context.Context, path tree.Path) (tree.Node, error) {
	ref, err := s.ref(path)
	if err != nil {
		return tree.Node{}, err
	}
	var value interface{}
	if err := ref.Get(ctx, &value); err != nil {
		return tree.Node{}, err
	}
	return tree.Node{Key: path.Key(), Value: value}, nil
}

// Set implements tree.Store.
func (s *Store) Set(ctx context.Context, path tree.Path, value interface{}) error {
	if value == nil {
		return s.Remove(ctx, path)
	}
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	return ref.Set(ctx, value)
}

// Update implements tree.Store.
func (s *Store) Update(ctx context.Context, path tree.Path, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return fmt.Errorf("update of %s with no fields", path)
	}
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	return ref.Update(ctx, fields)
}

// Remove implements tree.Store.
func (s *Store) Remove(ctx context.Context, path tree.Path) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	return ref.Delete(ctx)
}

// Observe implements tree.Store.
func (s *Store) Observe(ctx context.Context, path tree.Path) (*tree.Subscription, error) {
	ref, err := s.ref(path)
	if err != nil {
		return nil, err
	}
	sub := tree.NewSubscription(ctx, path)
	go s.poll(sub, ref)
	return sub, nil
}

func (s *Store) poll(sub *tree.Subscription, ref *db.Ref) {
	ctx := sub.Context()
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.pollInterval
	retry.MaxElapsedTime = s.pollMaxElapsed

	etag := ""
	for {
		var value interface{}
		var changed bool
		var err error
		if etag == "" {
			var tag string
			tag, err = ref.GetWithETag(ctx, &value)
			if err == nil {
				etag, changed = tag, true
			}
		} else {
			var tag string
			changed, tag, err = ref.GetIfChanged(ctx, etag, &value)
			if err == nil {
				etag = tag
			}
		}

		wait := s.pollInterval
		if err != nil {
			if ctx.Err() != nil {
				sub.Finish(nil)
				return
			}
			wait = retry.NextBackOff()
			if wait == backoff.Stop {
				log.Printf("observe %s giving up: %v", sub.Path(), err)
				sub.Finish(err)
				return
			}
			log.Printf("observe %s failed, retrying in %s: %v", sub.Path(), wait, err)
		} else {
			retry.Reset()
			if changed && !sub.Emit(tree.Node{Key: sub.Path().Key(), Value: value}) {
				sub.Finish(nil)
				return
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			sub.Finish(nil)
			return
		case <-timer.C:
		}
	}
}
