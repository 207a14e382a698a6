// Package identitytest provides an in-memory identity.Provider for tests.
package identitytest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"carpool/identity"
)

var (
	// ErrEmailExists is returned when signing up or linking with a taken email.
	ErrEmailExists = errors.New("EMAIL_EXISTS")
	// ErrInvalidPassword is returned for a wrong password or unknown email.
	ErrInvalidPassword = errors.New("INVALID_PASSWORD")
	// ErrInvalidToken is returned by Lookup for unknown tokens.
	ErrInvalidToken = errors.New("INVALID_ID_TOKEN")
)

type account struct {
	uid         string
	email       string
	password    string
	displayName string
}

// Provider keeps accounts in memory. Fail makes the next call fail with an arbitrary error.
type Provider struct {
	mu       sync.Mutex
	accounts map[string]*account
	tokens   map[string]string
	failNext error

	// AnonymousSignIns counts SignInAnonymously calls.
	AnonymousSignIns int
}

var _ identity.Provider = (*Provider)(nil)

// New returns an empty provider.
func New() *Provider {
	return &Provider{
		accounts: map[string]*account{},
		tokens:   map[string]string{},
	}
}

// Fail makes the next provider call return err.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// DisplayName returns the display name stored for uid.
func (p *Provider) DisplayName(uid string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.accounts[uid]; ok {
		return a.displayName
	}
	return ""
}

func (p *Provider) takeFailure(op string) error {
	if p.failNext == nil {
		return nil
	}
	err := p.failNext
	p.failNext = nil
	return identity.Wrap(op, err)
}

func (p *Provider) session(a *account) *identity.Session {
	token := uuid.NewString()
	p.tokens[token] = a.uid
	return &identity.Session{
		UID:          a.uid,
		IDToken:      token,
		RefreshToken: uuid.NewString(),
		Email:        a.email,
		DisplayName:  a.displayName,
		Anonymous:    a.email == "",
	}
}

func (p *Provider) byEmail(email string) *account {
	for _, a := range p.accounts {
		if a.email == email {
			return a
		}
	}
	return nil
}

// SignInAnonymously implements identity.Provider.
func (p *Provider) SignInAnonymously(ctx context.Context) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnonymousSignIns++
	if err := p.takeFailure("anonymous sign-in"); err != nil {
		return nil, err
	}
	a := &account{uid: uuid.NewString()}
	p.accounts[a.uid] = a
	return p.session(a), nil
}

// SignUp implements identity.Provider.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("sign-up"); err != nil {
		return nil, err
	}
	if p.byEmail(email) != nil {
		return nil, identity.Wrap("sign-up", ErrEmailExists)
	}
	a := &account{uid: uuid.NewString(), email: email, password: password}
	p.accounts[a.uid] = a
	return p.session(a), nil
}

// SignIn implements identity.Provider.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("sign-in"); err != nil {
		return nil, err
	}
	a := p.byEmail(email)
	if a == nil || a.password != password {
		return nil, identity.Wrap("sign-in", ErrInvalidPassword)
	}
	return p.session(a), nil
}

// Link implements identity.Provider.
func (p *Provider) Link(ctx context.Context, s *identity.Session, email, password string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("link"); err != nil {
		return nil, err
	}
	if p.byEmail(email) != nil {
		return nil, identity.Wrap("link", ErrEmailExists)
	}
	a, ok := p.accounts[s.UID]
	if !ok {
		return nil, identity.Wrap("link", ErrInvalidToken)
	}
	a.email, a.password = email, password
	return p.session(a), nil
}

// Lookup implements identity.Provider.
func (p *Provider) Lookup(ctx context.Context, idToken string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("lookup"); err != nil {
		return nil, err
	}
	uid, ok := p.tokens[idToken]
	if !ok {
		return nil, identity.Wrap("verify token", ErrInvalidToken)
	}
	s := p.session(p.accounts[uid])
	s.IDToken = idToken
	return s, nil
}

// UpdateDisplayName implements identity.Provider.
func (p *Provider) UpdateDisplayName(ctx context.Context, s *identity.Session, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("update display name"); err != nil {
		return err
	}
	a, ok := p.accounts[s.UID]
	if !ok {
		return identity.Wrap("update display name", ErrInvalidToken)
	}
	a.displayName = name
	return nil
}
