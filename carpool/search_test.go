package carpool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpool/carpool"
	"carpool/schema"
	"carpool/tree"
)

func TestSearch(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	_, alice := e.user(t, "Alice Smith")
	_, alina := e.user(t, "Alina Aldana")
	e.user(t, "Bob Jones")
	me, _ := e.user(t, "Alicia Me")

	tests := []struct {
		name  string
		query string
		want  []string
		err   error
	}{
		{name: "prefix of first name", query: "ali", want: []string{alice.Key, alina.Key}},
		{name: "case insensitive", query: "SMI", want: []string{alice.Key}},
		{name: "every term must match", query: "ali smith", want: []string{alice.Key}},
		{name: "no match", query: "zed", want: []string{}},
		{name: "blank", query: "  \t", err: carpool.ErrEmptySearch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := me.Search(ctx, tt.query)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.ErrorIs(t, err, carpool.ErrValidation)
				return
			}
			require.NoError(t, err)
			keys := []string{}
			for _, u := range users {
				keys = append(keys, u.Key)
			}
			assert.Equal(t, tt.want, keys)
		})
	}
}

// gateStore blocks the first read of the user list until released.
type gateStore struct {
	tree.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gateStore) Get(ctx context.Context, path tree.Path) (tree.Node, error) {
	if len(path) == 1 && path[0] == schema.Users {
		select {
		case s.entered <- struct{}{}:
			select {
			case <-s.release:
			case <-ctx.Done():
				return tree.Node{}, ctx.Err()
			}
		default:
		}
	}
	return s.Store.Get(ctx, path)
}

func TestSearchSuperseded(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	_, bob := e.user(t, "Bob Jones")
	me, _ := e.user(t, "Ann")

	gate := &gateStore{Store: e.store, entered: make(chan struct{}), release: make(chan struct{})}
	api := carpool.New(gate, e.ids, carpool.WithSession(me.Session()))
	_, err := api.EnsureSession(ctx)
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := api.Search(ctx, "ann")
		first <- err
	}()
	select {
	case <-gate.entered:
	case <-time.After(waitFor):
		t.Fatal("first search never read the users")
	}

	users, err := api.Search(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, bob.Key, users[0].Key)

	select {
	case err := <-first:
		assert.ErrorIs(t, err, carpool.ErrSearchSuperseded)
	case <-time.After(waitFor):
		t.Fatal("first search never returned")
	}
	close(gate.release)
}

// holdStore blocks the first hold reads of the user list until their context ends.
type holdStore struct {
	tree.Store
	entered chan struct{}

	mu   sync.Mutex
	hold int
}

func (s *holdStore) Get(ctx context.Context, path tree.Path) (tree.Node, error) {
	if len(path) == 1 && path[0] == schema.Users {
		s.mu.Lock()
		held := s.hold > 0
		s.hold--
		s.mu.Unlock()
		if held {
			s.entered <- struct{}{}
			<-ctx.Done()
			return tree.Node{}, ctx.Err()
		}
	}
	return s.Store.Get(ctx, path)
}

func TestSearchCancelsEverySupersededCall(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	_, bob := e.user(t, "Bob Jones")
	me, _ := e.user(t, "Ann")

	held := &holdStore{Store: e.store, entered: make(chan struct{}, 2), hold: 2}
	api := carpool.New(held, e.ids, carpool.WithSession(me.Session()))
	_, err := api.EnsureSession(ctx)
	require.NoError(t, err)

	stale := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := api.Search(ctx, "ann")
			stale <- err
		}()
		select {
		case <-held.entered:
		case <-time.After(waitFor):
			t.Fatal("search never read the users")
		}
	}

	users, err := api.Search(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, bob.Key, users[0].Key)

	for i := 0; i < 2; i++ {
		select {
		case err := <-stale:
			assert.ErrorIs(t, err, carpool.ErrSearchSuperseded)
		case <-time.After(waitFor):
			t.Fatal("a superseded search kept running")
		}
	}
}
