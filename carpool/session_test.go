package carpool_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpool/carpool"
	"carpool/identity"
	"carpool/schema"
	"carpool/tree"
)

func TestEnsureSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	now := monday
	api := e.api(carpool.WithClock(func() time.Time { return now }))

	s, err := api.EnsureSession(ctx)
	require.NoError(t, err)
	assert.True(t, s.Anonymous)

	now = now.Add(time.Hour)
	again, err := api.EnsureSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.UID, again.UID)
	assert.Equal(t, 1, e.ids.AnonymousSignIns)

	users := e.get(t, tree.P(schema.Users))
	assert.Equal(t, []string{s.UID}, users.Keys())
	ctime, err := users.Child(s.UID).Child(schema.CTimeKey).Float()
	require.NoError(t, err)
	assert.Equal(t, float64(monday.Unix()), ctime, "ctime is written once")
}

func TestEnsureSessionConcurrentCallersShareBootstrap(t *testing.T) {
	e := newEnv()
	api := e.api()

	uids := make(chan string, 8)
	for i := 0; i < cap(uids); i++ {
		go func() {
			s, err := api.EnsureSession(context.Background())
			if err != nil {
				uids <- ""
				return
			}
			uids <- s.UID
		}()
	}
	first := <-uids
	require.NotEmpty(t, first)
	for i := 1; i < cap(uids); i++ {
		assert.Equal(t, first, <-uids)
	}
	assert.Len(t, e.get(t, tree.P(schema.Users)).Keys(), 1)
}

// stallingProvider holds the first anonymous sign-in until its context ends.
type stallingProvider struct {
	identity.Provider
	entered chan struct{}
	once    sync.Once
}

func (p *stallingProvider) SignInAnonymously(ctx context.Context) (*identity.Session, error) {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-ctx.Done()
		return nil, identity.Wrap("signInAnonymously", ctx.Err())
	}
	return p.Provider.SignInAnonymously(ctx)
}

func TestEnsureSessionSurvivesAnotherCallersCancellation(t *testing.T) {
	e := newEnv()
	stalling := &stallingProvider{Provider: e.ids, entered: make(chan struct{})}
	api := carpool.New(e.store, stalling)

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := api.EnsureSession(firstCtx)
		first <- err
	}()
	select {
	case <-stalling.entered:
	case <-time.After(waitFor):
		t.Fatal("bootstrap never started")
	}

	type result struct {
		s   *identity.Session
		err error
	}
	second := make(chan result, 1)
	go func() {
		s, err := api.EnsureSession(context.Background())
		second <- result{s, err}
	}()
	// Give the second caller time to join the bootstrap in flight.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("first caller never returned")
	}
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.NotEmpty(t, r.s.UID)
		assert.True(t, e.get(t, schema.UserPath(r.s.UID).Child(schema.CTimeKey)).Exists())
	case <-time.After(waitFor):
		t.Fatal("second caller never returned")
	}
}

func TestEnsureSessionKeepsExistingRecord(t *testing.T) {
	e := newEnv()
	s, err := e.ids.SignUp(context.Background(), "kim@example.com", "pw")
	require.NoError(t, err)
	e.set(t, schema.UserPath(s.UID).Child(schema.CTimeKey), 5)

	api := e.api(carpool.WithSession(s))
	got, err := api.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.UID, got.UID)
	assert.Zero(t, e.ids.AnonymousSignIns)

	ctime, err := e.get(t, schema.UserPath(s.UID).Child(schema.CTimeKey)).Float()
	require.NoError(t, err)
	assert.Equal(t, 5.0, ctime)
}

func TestEnsureSessionSurfacesProviderFailure(t *testing.T) {
	e := newEnv()
	offline := errors.New("offline")
	e.ids.Fail(offline)

	_, err := e.api().EnsureSession(context.Background())
	assert.ErrorIs(t, err, offline)
	assert.ErrorIs(t, err, carpool.ErrIdentityProvider)
	assert.False(t, e.get(t, tree.P(schema.Users)).Exists(), "nothing is written")
}

func TestEnsureSessionRetriesFailedRecordWrite(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	api := e.api()
	e.store.SetWriteError(errors.New("disk full"))

	_, err := api.EnsureSession(ctx)
	require.Error(t, err)

	e.store.SetWriteError(nil)
	s, err := api.EnsureSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.ids.AnonymousSignIns, "the anonymous identity is kept")
	assert.True(t, e.get(t, schema.UserPath(s.UID).Child(schema.CTimeKey)).Exists())
}

func TestSignUpLinksAnonymousSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	api := e.api()

	anon, err := api.EnsureSession(ctx)
	require.NoError(t, err)
	child, err := api.AddChild(ctx, "Sam")
	require.NoError(t, err)

	user, err := api.SignUp(ctx, "ann@example.com", "secret", "Ann Lee")
	require.NoError(t, err)

	assert.Equal(t, anon.UID, user.Key)
	assert.Equal(t, "Ann Lee", user.Name)
	assert.Equal(t, []string{child.Key}, []string{user.Children[0].Key})
	assert.Equal(t, "Ann Lee", e.ids.DisplayName(user.Key))
	assert.False(t, api.Session().Anonymous)
	assert.Equal(t, 1, e.ids.AnonymousSignIns)
}

func TestSignUpLinkFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.user(t, "ann")

	api := e.api()
	_, err := api.EnsureSession(ctx)
	require.NoError(t, err)

	_, err = api.SignUp(ctx, "ann@example.com", "other", "Impostor")
	var signInFailed *carpool.SignInFailedError
	require.True(t, errors.As(err, &signInFailed))
	assert.ErrorIs(t, err, carpool.ErrIdentityProvider)
	assert.True(t, api.Session().Anonymous, "the anonymous session survives")
}

func TestSignUpWithoutSession(t *testing.T) {
	e := newEnv()
	api, user := e.user(t, "Bob Jones")

	assert.Equal(t, "Bob Jones", user.Name)
	assert.Equal(t, api.CurrentUID(), user.Key)
	assert.Zero(t, e.ids.AnonymousSignIns)
	assert.True(t, e.get(t, schema.UserPath(user.Key).Child(schema.CTimeKey)).Exists())
}

func TestSignInAndResume(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	_, ann := e.user(t, "Ann")

	other := e.api()
	user, err := other.SignIn(ctx, "Ann@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, ann.Key, user.Key)

	_, err = e.api().SignIn(ctx, "Ann@example.com", "wrong")
	assert.ErrorIs(t, err, carpool.ErrIdentityProvider)

	resumed := e.api()
	user, err = resumed.Resume(ctx, other.Session().IDToken)
	require.NoError(t, err)
	assert.Equal(t, ann.Key, user.Key)

	_, err = e.api().Resume(ctx, "bogus")
	assert.ErrorIs(t, err, identity.ErrProvider)
}

func TestFetchCurrentUserDefaults(t *testing.T) {
	api := newEnv().api()
	user, err := api.FetchCurrentUser(context.Background())
	require.NoError(t, err)

	assert.Equal(t, api.CurrentUID(), user.Key)
	assert.Equal(t, "Anonymous Parent", user.DisplayName())
	assert.Empty(t, user.Children)
	assert.Empty(t, user.Friends)
}

func TestFetchUserNotFound(t *testing.T) {
	_, err := newEnv().api().FetchUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, carpool.ErrNoSuchUser)
	assert.ErrorIs(t, err, carpool.ErrNotFound)
}
