package wsapi

import (
	"time"

	"carpool/model"
)

const (
	endpointSignUp              = "SIGN_UP"
	endpointSignIn              = "SIGN_IN"
	endpointCurrentUser         = "CURRENT_USER"
	endpointCreateTrip          = "CREATE_TRIP"
	endpointClaim               = "CLAIM"
	endpointUnclaim             = "UNCLAIM"
	endpointDeleteTrip          = "DELETE_TRIP"
	endpointAddChild            = "ADD_CHILD"
	endpointAddChildToTrip      = "ADD_CHILD_TO_TRIP"
	endpointSetEndTime          = "SET_END_TIME"
	endpointMarkRepeating       = "MARK_REPEATING"
	endpointAddComment          = "ADD_COMMENT"
	endpointSearch              = "SEARCH"
	endpointAddFriend           = "ADD_FRIEND"
	endpointRemoveFriend        = "REMOVE_FRIEND"
	endpointObserveTrips        = "OBSERVE_TRIPS"
	endpointObserveMyTrips      = "OBSERVE_MY_TRIPS"
	endpointObserveFriendsTrips = "OBSERVE_FRIENDS_TRIPS"
	endpointObserveTrip         = "OBSERVE_TRIP"
	endpointObserveFriends      = "OBSERVE_FRIENDS"
	endpointObserveCalendar     = "OBSERVE_CALENDAR"
	endpointUnobserve           = "UNOBSERVE"
)

// Message defines the websocket message between a carpool client and this server. Requests and
// responses share the shape; UID is chosen by the client and echoed on every response to it.
type Message struct {
	UID      string `json:"uid"`
	Endpoint string `json:"endpoint"`
	Status   string `json:"status,omitempty"`
	Text     string `json:"text,omitempty"`

	// Subscription names a live observation; pushed updates and UNOBSERVE carry it.
	Subscription string `json:"subscription,omitempty"`

	Email       string          `json:"email,omitempty"`
	Password    string          `json:"password,omitempty"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Time        *time.Time      `json:"time,omitempty"`
	Location    *model.Location `json:"location,omitempty"`
	Leg         model.LegKind   `json:"leg,omitempty"`
	TripKey     string          `json:"tripKey,omitempty"`
	ChildKey    string          `json:"childKey,omitempty"`
	UserKey     string          `json:"userKey,omitempty"`
	Body        string          `json:"body,omitempty"`
	Query       string          `json:"query,omitempty"`
	Repeats     *bool           `json:"repeats,omitempty"`

	// Friends selects the friends' calendar on OBSERVE_CALENDAR.
	Friends bool `json:"friends,omitempty"`

	User    *model.User           `json:"user,omitempty"`
	Users   []model.User          `json:"users,omitempty"`
	Child   *model.Child          `json:"child,omitempty"`
	Trip    *model.Trip           `json:"trip,omitempty"`
	Trips   []model.Trip          `json:"trips,omitempty"`
	Comment *model.Comment        `json:"comment,omitempty"`
	Week    []model.DailySchedule `json:"week,omitempty"`
}

func toOriginWithStatus(message *Message, status, text string) *Message {
	return &Message{
		UID:          message.UID,
		Endpoint:     message.Endpoint,
		Subscription: message.Subscription,
		Status:       status,
		Text:         text,
	}
}
