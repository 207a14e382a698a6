// Package identity defines the boundary to the identity provider: anonymous sign-in, email and
// password accounts, linking an anonymous account to a credential, token lookup and display
// names. Every failure coming out of a Provider is a *ProviderError.
package identity

import (
	"context"
	"errors"
	"fmt"
)

// ErrProvider is the kind shared by every identity provider failure.
var ErrProvider = errors.New("identity provider failure")

// Session is an established identity. Anonymous sessions are identified but unregistered.
type Session struct {
	UID          string
	IDToken      string
	RefreshToken string
	Email        string
	DisplayName  string
	Anonymous    bool
}

// Provider wraps the identity service into uniform calls.
type Provider interface {
	// SignInAnonymously creates a fresh anonymous identity.
	SignInAnonymously(ctx context.Context) (*Session, error)

	// SignUp registers a new email/password identity.
	SignUp(ctx context.Context, email, password string) (*Session, error)

	// SignIn authenticates an existing email/password identity.
	SignIn(ctx context.Context, email, password string) (*Session, error)

	// Link attaches an email/password credential to the anonymous session s, keeping its UID.
	Link(ctx context.Context, s *Session, email, password string) (*Session, error)

	// Lookup resolves the session an ID token belongs to.
	Lookup(ctx context.Context, idToken string) (*Session, error)

	// UpdateDisplayName sets the provider-side display name of s.
	UpdateDisplayName(ctx context.Context, s *Session, name string) error
}

// ProviderError wraps an error returned by the identity service.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is makes every ProviderError match ErrProvider.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// Wrap returns nil for a nil err and a *ProviderError otherwise. Errors that already are
// provider errors are returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}
