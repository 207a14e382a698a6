package carpool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"carpool/model"
	"carpool/schema"
	"carpool/tree"
)

// childLocks serialises AddChild per user across every API in the process, so two connections
// of one user cannot both create a child with the same name. Writers in other processes are not
// covered.
var childLocks = &keyedMutex{locks: map[string]*refMutex{}}

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex is a set of mutexes by key. An entry lives while someone holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

// lock acquires the mutex of key and returns its release.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		defer k.mu.Unlock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
	}
}

// AddChild returns the current user's child with this name, creating and linking it if the user
// has none yet.
func (a *API) AddChild(ctx context.Context, name string) (model.Child, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Child{}, ErrNoChildName
	}
	s, err := a.EnsureSession(ctx)
	if err != nil {
		return model.Child{}, err
	}
	defer childLocks.lock(s.UID)()

	user, err := a.FetchUser(ctx, s.UID)
	if err != nil {
		return model.Child{}, err
	}
	if child, ok := user.ChildNamed(name); ok {
		return child, nil
	}
	child := model.Child{Key: tree.NewKey(), Name: name}
	if err := a.store.Set(ctx, schema.ChildPath(child.Key), map[string]interface{}{schema.NameKey: name}); err != nil {
		return model.Child{}, fmt.Errorf("writing child: %w", err)
	}
	if err := a.store.Set(ctx, schema.UserPath(user.Key).Child(schema.ChildrenKey, child.Key), name); err != nil {
		return model.Child{}, fmt.Errorf("linking child %s to user %s: %w", child.Key, user.Key, err)
	}
	return child, nil
}

// AddFriend adds friend to the current user's friends.
func (a *API) AddFriend(ctx context.Context, friend model.User) error {
	s, err := a.EnsureSession(ctx)
	if err != nil {
		return err
	}
	if friend.Key == s.UID {
		return ErrCannotFriendYourself
	}
	if friend.Key == "" {
		return ErrNoSuchUser
	}
	n, err := a.store.Get(ctx, schema.UserPath(friend.Key).Child(schema.CTimeKey))
	if err != nil {
		return fmt.Errorf("fetching user %s: %w", friend.Key, err)
	}
	if !n.Exists() {
		return fmt.Errorf("%w: %s", ErrNoSuchUser, friend.Key)
	}
	return a.store.Set(ctx, schema.UserPath(s.UID).Child(schema.FriendsKey, friend.Key), friend.DisplayName())
}

// RemoveFriend removes friend from the current user's friends. Removing a non-friend succeeds.
func (a *API) RemoveFriend(ctx context.Context, friend model.User) error {
	s, err := a.EnsureSession(ctx)
	if err != nil {
		return err
	}
	if friend.Key == "" {
		return ErrNoSuchUser
	}
	return a.store.Remove(ctx, schema.UserPath(s.UID).Child(schema.FriendsKey, friend.Key))
}
