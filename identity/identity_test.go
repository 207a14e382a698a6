package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpool/identity"
	"carpool/identity/identitytest"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, identity.Wrap("sign-in", nil))

	underlying := errors.New("network down")
	err := identity.Wrap("sign-in", underlying)

	assert.ErrorIs(t, err, identity.ErrProvider)
	assert.ErrorIs(t, err, underlying)
	assert.Same(t, err, identity.Wrap("again", err), "provider errors are not double wrapped")
}

func TestLinkKeepsUID(t *testing.T) {
	ctx := context.Background()
	p := identitytest.New()

	anon, err := p.SignInAnonymously(ctx)
	require.NoError(t, err)
	require.True(t, anon.Anonymous)

	linked, err := p.Link(ctx, anon, "ann@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, anon.UID, linked.UID)
	assert.False(t, linked.Anonymous)

	signedIn, err := p.SignIn(ctx, "ann@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, anon.UID, signedIn.UID)

	looked, err := p.Lookup(ctx, signedIn.IDToken)
	require.NoError(t, err)
	assert.Equal(t, anon.UID, looked.UID)
}

func TestFailuresAreProviderErrors(t *testing.T) {
	ctx := context.Background()
	p := identitytest.New()

	_, err := p.SignIn(ctx, "nobody@example.com", "x")
	assert.ErrorIs(t, err, identity.ErrProvider)
	assert.ErrorIs(t, err, identitytest.ErrInvalidPassword)

	offline := errors.New("offline")
	p.Fail(offline)
	_, err = p.SignInAnonymously(ctx)
	assert.ErrorIs(t, err, offline)

	_, err = p.SignInAnonymously(ctx)
	assert.NoError(t, err, "Fail only affects the next call")
}
