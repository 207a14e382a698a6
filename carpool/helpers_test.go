package carpool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"carpool/carpool"
	"carpool/identity/identitytest"
	"carpool/model"
	"carpool/tree"
	"carpool/tree/memtree"
)

const waitFor = 2 * time.Second

// monday is 2021-03-01 08:00 UTC.
var monday = time.Date(2021, time.March, 1, 8, 0, 0, 0, time.UTC)

// env is a shared backend several users' APIs talk to.
type env struct {
	store *memtree.Store
	ids   *identitytest.Provider
}

func newEnv() *env {
	return &env{store: memtree.New(), ids: identitytest.New()}
}

func (e *env) api(opts ...carpool.Option) *carpool.API {
	return carpool.New(e.store, e.ids, opts...)
}

// user returns an API signed up as name.
func (e *env) user(t *testing.T, name string, opts ...carpool.Option) (*carpool.API, model.User) {
	t.Helper()
	api := e.api(opts...)
	u, err := api.SignUp(context.Background(), name+"@example.com", "secret", name)
	require.NoError(t, err)
	return api, u
}

func (e *env) get(t *testing.T, path tree.Path) tree.Node {
	t.Helper()
	n, err := e.store.Get(context.Background(), path)
	require.NoError(t, err)
	return n
}

func (e *env) set(t *testing.T, path tree.Path, value interface{}) {
	t.Helper()
	require.NoError(t, e.store.Set(context.Background(), path, value))
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []carpool.Change
}

func (r *recordingNotifier) Notify(ctx context.Context, c carpool.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recordingNotifier) kinds() []carpool.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []carpool.ChangeKind
	for _, c := range r.changes {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

// waitTrips reads the stream until ok accepts an update.
func waitTrips(t *testing.T, s *carpool.TripsStream, ok func(carpool.TripsUpdate) bool) carpool.TripsUpdate {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case u, open := <-s.C:
			require.True(t, open, "stream closed")
			if ok(u) {
				return u
			}
		case <-timeout:
			t.Fatal("no matching trips update")
		}
	}
}

func tripKeys(trips []model.Trip) []string {
	keys := []string{}
	for _, t := range trips {
		keys = append(keys, t.Key)
	}
	return keys
}

func hasTrips(keys ...string) func(carpool.TripsUpdate) bool {
	return func(u carpool.TripsUpdate) bool {
		if u.Err != nil || len(u.Trips) != len(keys) {
			return false
		}
		got := map[string]bool{}
		for _, t := range u.Trips {
			got[t.Key] = true
		}
		for _, k := range keys {
			if !got[k] {
				return false
			}
		}
		return true
	}
}
