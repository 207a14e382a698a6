// Package model contains the carpool domain records and the view-friendly rules derived from
// them: identity and ordering, who drives which leg, and schedule bucketing.
package model

import (
	"context"
	"sort"
	"strings"
)

// AnonymousName is shown for users who have not registered a name. It is never stored as a
// user's own name, only in the {uid: name} references other records keep.
const AnonymousName = "Anonymous Parent"

// Child is owned by exactly one user and referenced by key from users and trips.
type Child struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// User is identified by Key alone.
type User struct {
	Key string `json:"key"`

	// Name is empty for anonymous users.
	Name string `json:"name,omitempty"`

	Children []Child `json:"children"`

	// Friends holds user keys; friends are not embedded.
	Friends []string `json:"friends"`
}

// DisplayName is the name to present, falling back to AnonymousName.
func (u User) DisplayName() string {
	if strings.TrimSpace(u.Name) == "" {
		return AnonymousName
	}
	return u.Name
}

// IsNamed reports whether the user registered a real name.
func (u User) IsNamed() bool {
	name := strings.TrimSpace(u.Name)
	return name != "" && name != AnonymousName
}

// Equal compares users by key.
func (u User) Equal(o User) bool {
	return u.Key == o.Key
}

// Less orders users by name, case-sensitively, with unnamed users first.
func (u User) Less(o User) bool {
	return u.Name < o.Name
}

// HasFriend reports whether key is in the user's friends list.
func (u User) HasFriend(key string) bool {
	for _, f := range u.Friends {
		if f == key {
			return true
		}
	}
	return false
}

// ChildNamed finds one of the user's children by exact name.
func (u User) ChildNamed(name string) (Child, bool) {
	for _, c := range u.Children {
		if c.Name == name {
			return c, true
		}
	}
	return Child{}, false
}

// SortUsers sorts in place by Less, keeping equal names in key order.
func SortUsers(users []User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Less(users[j])
		}
		return users[i].Key < users[j].Key
	})
}

// UserResolver fetches full users by key.
type UserResolver interface {
	User(ctx context.Context, key string) (User, error)
}

// UserRef is a weak reference to a user as stored in {uid: name} stubs. It is never an embedded
// value; Resolve fetches the user it points at.
type UserRef struct {
	Key string

	// Name is the denormalised name written alongside the key, possibly stale.
	Name string
}

// Resolve fetches the referenced user.
func (r UserRef) Resolve(ctx context.Context, resolver UserResolver) (User, error) {
	return resolver.User(ctx, r.Key)
}
