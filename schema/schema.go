// Package schema contains the constants naming the remote tree's top level collections and
// their child keys, as well as the raw record structs nodes are decoded into before references
// are resolved.
//
//	/users/{uid}          { name?, ctime, children?: {childKey: name}, friends?: {uid: name} }
//	/children/{childKey}  { name }
//	/events/{eventKey}    { description, time, endTime?, owner: {uid: name}, geohash?, trips?: {tripKey: true} }
//	/trips/{tripKey}      { event: {eventKey: event}, owner: {uid: name}, dropOff?, pickUp?,
//	                        children?: {childKey: name}, comments?: {commentKey: true}, repeats? }
//	/comments/{key}       { body, owner: uid, ctime }
//
// All timestamps are seconds since the epoch.
package schema

import "carpool/tree"

const (
	// Top level collections.
	Users    = "users"
	Children = "children"
	Events   = "events"
	Trips    = "trips"
	Comments = "comments"

	// Child keys.
	NameKey        = "name"
	CTimeKey       = "ctime"
	ChildrenKey    = "children"
	FriendsKey     = "friends"
	DescriptionKey = "description"
	TimeKey        = "time"
	EndTimeKey     = "endTime"
	OwnerKey       = "owner"
	GeohashKey     = "geohash"
	TripsKey       = "trips"
	EventKey       = "event"
	DropOffKey     = "dropOff"
	PickUpKey      = "pickUp"
	CommentsKey    = "comments"
	RepeatsKey     = "repeats"
	BodyKey        = "body"
)

// UserPath is /users/{uid}.
func UserPath(uid string) tree.Path { return tree.P(Users, uid) }

// ChildPath is /children/{key}.
func ChildPath(key string) tree.Path { return tree.P(Children, key) }

// EventPath is /events/{key}.
func EventPath(key string) tree.Path { return tree.P(Events, key) }

// TripPath is /trips/{key}.
func TripPath(key string) tree.Path { return tree.P(Trips, key) }

// CommentPath is /comments/{key}.
func CommentPath(key string) tree.Path { return tree.P(Comments, key) }

// UserRecord is the raw shape of /users/{uid}. Children and friends stay raw until resolved.
type UserRecord struct {
	Name     string                 `mapstructure:"name"`
	CTime    float64                `mapstructure:"ctime"`
	Children map[string]interface{} `mapstructure:"children"`
	Friends  map[string]interface{} `mapstructure:"friends"`
}

// ChildRecord is the raw shape of /children/{key}.
type ChildRecord struct {
	Name string `mapstructure:"name"`
}

// EventRecord is the raw shape of an event, both at /events/{key} and embedded in a trip.
type EventRecord struct {
	Description string                 `mapstructure:"description"`
	Time        *float64               `mapstructure:"time"`
	EndTime     *float64               `mapstructure:"endTime"`
	Owner       map[string]interface{} `mapstructure:"owner"`
	Geohash     string                 `mapstructure:"geohash"`
	Trips       map[string]interface{} `mapstructure:"trips"`
}

// TripRecord is the raw shape of /trips/{key}. Legs stay raw so a bare scalar can be told
// apart from an absent leg.
type TripRecord struct {
	Event    map[string]interface{} `mapstructure:"event"`
	Owner    map[string]interface{} `mapstructure:"owner"`
	DropOff  interface{}            `mapstructure:"dropOff"`
	PickUp   interface{}            `mapstructure:"pickUp"`
	Children interface{}            `mapstructure:"children"`
	Comments interface{}            `mapstructure:"comments"`
	Repeats  interface{}            `mapstructure:"repeats"`
}

// CommentRecord is the raw shape of /comments/{key}.
type CommentRecord struct {
	Body  string   `mapstructure:"body"`
	Owner string   `mapstructure:"owner"`
	CTime *float64 `mapstructure:"ctime"`
}
