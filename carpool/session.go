package carpool

import (
	"context"
	"errors"
	"fmt"

	log "carpool/cloudlog"
	"carpool/identity"
	"carpool/model"
	"carpool/schema"
)

// Session returns the current session, nil before the first operation.
func (a *API) Session() *identity.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// CurrentUID is the current user's key, empty before the first operation.
func (a *API) CurrentUID() string {
	if s := a.Session(); s != nil {
		return s.UID
	}
	return ""
}

func (a *API) adopt(s *identity.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = s
	a.ready = false
}

func (a *API) readySession() *identity.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return a.session
	}
	return nil
}

// requireSession returns the current session without creating one.
func (a *API) requireSession() (*identity.Session, error) {
	s := a.Session()
	if s == nil {
		return nil, ErrNotAuthenticated
	}
	return s, nil
}

// EnsureSession guarantees an identity with a user record. Without an identity it signs in
// anonymously; the user record's ctime is written only if absent. Concurrent callers share one
// bootstrap, and once it succeeded later calls return immediately.
//
// The shared bootstrap runs under the context of the caller that started it. A caller whose
// own context is still live retries once when that bootstrap was cancelled under it.
func (a *API) EnsureSession(ctx context.Context) (*identity.Session, error) {
	s, err := a.bootstrap(ctx)
	if err != nil && ctx.Err() == nil && isContextError(err) {
		s, err = a.bootstrap(ctx)
	}
	return s, err
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (a *API) bootstrap(ctx context.Context) (*identity.Session, error) {
	if s := a.readySession(); s != nil {
		return s, nil
	}
	v, err, _ := a.boot.Do("session", func() (interface{}, error) {
		if s := a.readySession(); s != nil {
			return s, nil
		}
		s := a.Session()
		if s == nil {
			var err error
			s, err = a.auth.SignInAnonymously(ctx)
			if err != nil {
				return nil, err
			}
			log.Printf("signed in anonymously as %s", s.UID)
			a.adopt(s)
		}
		if err := a.ensureUserRecord(ctx, s.UID); err != nil {
			return nil, err
		}
		a.mu.Lock()
		if a.session == s {
			a.ready = true
		}
		a.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*identity.Session), nil
}

func (a *API) ensureUserRecord(ctx context.Context, uid string) error {
	path := schema.UserPath(uid).Child(schema.CTimeKey)
	n, err := a.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("reading user record %s: %w", uid, err)
	}
	if n.Exists() {
		return nil
	}
	if err := a.store.Set(ctx, path, epoch(a.now())); err != nil {
		return fmt.Errorf("creating user record %s: %w", uid, err)
	}
	log.Printf("created user record for %s", uid)
	return nil
}

// SignUp registers an email/password identity named fullName. An anonymous session is linked to
// the credential so everything it already owns is kept; a failed link is a *SignInFailedError.
func (a *API) SignUp(ctx context.Context, email, password, fullName string) (model.User, error) {
	current := a.Session()
	var (
		s   *identity.Session
		err error
	)
	if current != nil && current.Anonymous {
		s, err = a.auth.Link(ctx, current, email, password)
		if err != nil {
			return model.User{}, &SignInFailedError{Err: err}
		}
	} else {
		s, err = a.auth.SignUp(ctx, email, password)
		if err != nil {
			return model.User{}, err
		}
	}
	a.adopt(s)
	if _, err := a.EnsureSession(ctx); err != nil {
		return model.User{}, err
	}
	if err := a.store.Set(ctx, schema.UserPath(s.UID).Child(schema.NameKey), fullName); err != nil {
		return model.User{}, fmt.Errorf("naming user %s: %w", s.UID, err)
	}
	if err := a.auth.UpdateDisplayName(ctx, s, fullName); err != nil {
		return model.User{}, err
	}
	log.Printf("user %s signed up", s.UID)
	return a.FetchUser(ctx, s.UID)
}

// SignIn authenticates an email/password identity and replaces the current session with it.
// An anonymous session is abandoned, not linked.
func (a *API) SignIn(ctx context.Context, email, password string) (model.User, error) {
	s, err := a.auth.SignIn(ctx, email, password)
	if err != nil {
		return model.User{}, err
	}
	a.adopt(s)
	return a.FetchCurrentUser(ctx)
}

// Resume adopts the session an ID token belongs to.
func (a *API) Resume(ctx context.Context, idToken string) (model.User, error) {
	s, err := a.auth.Lookup(ctx, idToken)
	if err != nil {
		return model.User{}, err
	}
	a.adopt(s)
	return a.FetchCurrentUser(ctx)
}

// FetchCurrentUser returns the session's user, bootstrapping the session if needed.
func (a *API) FetchCurrentUser(ctx context.Context) (model.User, error) {
	s, err := a.EnsureSession(ctx)
	if err != nil {
		return model.User{}, err
	}
	return a.FetchUser(ctx, s.UID)
}

// FetchUser returns the user stored under key.
func (a *API) FetchUser(ctx context.Context, key string) (model.User, error) {
	if _, err := a.EnsureSession(ctx); err != nil {
		return model.User{}, err
	}
	return a.newDecoder(ctx).User(ctx, key)
}
