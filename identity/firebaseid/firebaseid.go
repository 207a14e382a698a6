// Package firebaseid implements identity.Provider with Firebase Authentication: the Identity
// Toolkit relying party API for the client flows (anonymous sign-up, email sign-up, password
// sign-in, linking) and the Admin SDK for token verification and profile updates.
package firebaseid

import (
	"context"
	"errors"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	log "carpool/cloudlog"
	"carpool/identity"
)

var errNoSession = errors.New("no session to link")

// Provider talks to Firebase Authentication.
type Provider struct {
	toolkit *identitytoolkit.RelyingpartyService
	admin   *auth.Client
}

var _ identity.Provider = (*Provider)(nil)

// New builds a Provider. apiKey is the project's Web API key used by the relying party calls;
// the app supplies the admin credentials.
func New(ctx context.Context, app *firebase.App, apiKey string) (*Provider, error) {
	svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	admin, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return &Provider{toolkit: svc.Relyingparty, admin: admin}, nil
}

// SignInAnonymously implements identity.Provider. A sign-up without credentials creates an
// anonymous account.
func (p *Provider) SignInAnonymously(ctx context.Context) (*identity.Session, error) {
	resp, err := p.toolkit.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, identity.Wrap("anonymous sign-in", err)
	}
	log.Printf("anonymous sign-in created %s", resp.LocalId)
	return &identity.Session{
		UID:          resp.LocalId,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
		Anonymous:    true,
	}, nil
}

// SignUp implements identity.Provider.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*identity.Session, error) {
	resp, err := p.toolkit.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return nil, identity.Wrap("sign-up", err)
	}
	return &identity.Session{
		UID:          resp.LocalId,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
	}, nil
}

// SignIn implements identity.Provider.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	resp, err := p.toolkit.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, identity.Wrap("sign-in", err)
	}
	return &identity.Session{
		UID:          resp.LocalId,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
	}, nil
}

// Link implements identity.Provider by setting the credential on the anonymous account.
func (p *Provider) Link(ctx context.Context, s *identity.Session, email, password string) (*identity.Session, error) {
	if s == nil || s.IDToken == "" {
		return nil, identity.Wrap("link", errNoSession)
	}
	resp, err := p.toolkit.SetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartySetAccountInfoRequest{
		IdToken:           s.IDToken,
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, identity.Wrap("link", err)
	}
	linked := *s
	linked.Anonymous = false
	linked.Email = resp.Email
	if resp.IdToken != "" {
		linked.IDToken = resp.IdToken
		linked.RefreshToken = resp.RefreshToken
	}
	return &linked, nil
}

// Lookup implements identity.Provider: the token is verified by the Admin SDK and the account
// is read back to tell anonymous users from registered ones.
func (p *Provider) Lookup(ctx context.Context, idToken string) (*identity.Session, error) {
	token, err := p.admin.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, identity.Wrap("verify token", err)
	}
	record, err := p.admin.GetUser(ctx, token.UID)
	if err != nil {
		return nil, identity.Wrap("lookup", err)
	}
	return &identity.Session{
		UID:         record.UID,
		IDToken:     idToken,
		Email:       record.Email,
		DisplayName: record.DisplayName,
		Anonymous:   record.Email == "" && len(record.ProviderUserInfo) == 0,
	}, nil
}

// UpdateDisplayName implements identity.Provider.
func (p *Provider) UpdateDisplayName(ctx context.Context, s *identity.Session, name string) error {
	_, err := p.admin.UpdateUser(ctx, s.UID, (&auth.UserToUpdate{}).DisplayName(name))
	return identity.Wrap("update display name", err)
}
