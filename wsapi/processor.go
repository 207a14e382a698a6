package wsapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"carpool/carpool"
	log "carpool/cloudlog"
	"carpool/metrics"
	"carpool/model"
	"carpool/scope"
	"carpool/wscodes"
)

var (
	errNoSuchChild        = fmt.Errorf("%w: no such child", carpool.ErrNotFound)
	errNoSuchSubscription = fmt.Errorf("%w: no such subscription", carpool.ErrNotFound)
)

// processMessage runs one request and returns the response to send back to its origin. Observe
// endpoints answer and then keep pushing updates themselves; they return nil.
func (c *Client) processMessage(message *Message) *Message {
	switch message.Endpoint {
	case endpointObserveTrips, endpointObserveMyTrips, endpointObserveFriendsTrips,
		endpointObserveTrip, endpointObserveFriends, endpointObserveCalendar:
		c.handleObserve(message)
		return nil
	case endpointUnobserve:
		return c.handleUnobserve(message)
	}

	handle, ok := handlers[message.Endpoint]
	if !ok {
		log.Printf("message endpoint %q is not supported", message.Endpoint)
		return toOriginWithStatus(message, wscodes.StatusEndpointNotValid, "")
	}
	ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
	defer cancel()
	ret, err := handle(ctx, c.api, message)
	metrics.Observe(message.Endpoint, err)
	if err != nil {
		log.Printf("client %s %s failed: %v", c.id, message.Endpoint, err)
		status, text := wscodes.ForError(err)
		return toOriginWithStatus(message, status, text)
	}
	if ret == nil {
		ret = &Message{}
	}
	ret.UID = message.UID
	ret.Endpoint = message.Endpoint
	ret.Status = wscodes.StatusSuccess
	return ret
}

type endpointHandler func(ctx context.Context, api *carpool.API, message *Message) (*Message, error)

var handlers = map[string]endpointHandler{
	endpointSignUp:         handleSignUp,
	endpointSignIn:         handleSignIn,
	endpointCurrentUser:    handleCurrentUser,
	endpointCreateTrip:     handleCreateTrip,
	endpointClaim:          handleClaim,
	endpointUnclaim:        handleUnclaim,
	endpointDeleteTrip:     handleDeleteTrip,
	endpointAddChild:       handleAddChild,
	endpointAddChildToTrip: handleAddChildToTrip,
	endpointSetEndTime:     handleSetEndTime,
	endpointMarkRepeating:  handleMarkRepeating,
	endpointAddComment:     handleAddComment,
	endpointSearch:         handleSearch,
	endpointAddFriend:      handleAddFriend,
	endpointRemoveFriend:   handleRemoveFriend,
}

func userMessage(u model.User) *Message {
	return &Message{User: &u}
}

func handleSignUp(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	u, err := api.SignUp(ctx, m.Email, m.Password, m.Name)
	if err != nil {
		return nil, err
	}
	return userMessage(u), nil
}

func handleSignIn(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	u, err := api.SignIn(ctx, m.Email, m.Password)
	if err != nil {
		return nil, err
	}
	return userMessage(u), nil
}

func handleCurrentUser(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	u, err := api.FetchCurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return userMessage(u), nil
}

func handleCreateTrip(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	if m.Time == nil {
		return nil, fmt.Errorf("%w: trip time", carpool.ErrValidation)
	}
	trip, err := api.CreateTrip(ctx, m.Description, *m.Time, m.Location)
	if err != nil {
		return nil, err
	}
	return &Message{Trip: &trip}, nil
}

// fetchTrip loads the trip a request names so the API sees its current state.
func fetchTrip(ctx context.Context, api *carpool.API, m *Message) (model.Trip, error) {
	if m.TripKey == "" {
		return model.Trip{}, carpool.ErrNoSuchTrip
	}
	return api.FetchTrip(ctx, m.TripKey)
}

func handleClaim(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	trip, err := fetchTrip(ctx, api, m)
	if err != nil {
		return nil, err
	}
	return nil, api.Claim(ctx, m.Leg, trip)
}

func handleUnclaim(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	trip, err := fetchTrip(ctx, api, m)
	if err != nil {
		return nil, err
	}
	return nil, api.Unclaim(ctx, m.Leg, trip)
}

func handleDeleteTrip(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	trip, err := fetchTrip(ctx, api, m)
	if err != nil {
		return nil, err
	}
	return nil, api.DeleteTrip(ctx, trip)
}

func handleAddChild(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	child, err := api.AddChild(ctx, m.Name)
	if err != nil {
		return nil, err
	}
	return &Message{Child: &child}, nil
}

func handleAddChildToTrip(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	user, err := api.FetchCurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	var child *model.Child
	for i := range user.Children {
		if user.Children[i].Key == m.ChildKey {
			child = &user.Children[i]
			break
		}
	}
	if child == nil {
		return nil, errNoSuchChild
	}
	trip, err := fetchTrip(ctx, api, m)
	if err != nil {
		return nil, err
	}
	return nil, api.AddChildToTrip(ctx, *child, trip)
}

func handleSetEndTime(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	if m.Time == nil {
		return nil, fmt.Errorf("%w: end time", carpool.ErrValidation)
	}
	trip, err := fetchTrip(ctx, api, m)
	if err != nil {
		return nil, err
	}
	return nil, api.SetEventEndTime(ctx, trip.Event, *m.Time)
}

func handleMarkRepeating(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	trip, err := fetchTrip(ctx, api, m)
	if err != nil {
		return nil, err
	}
	repeats := true
	if m.Repeats != nil {
		repeats = *m.Repeats
	}
	return nil, api.MarkRepeating(ctx, trip, repeats)
}

func handleAddComment(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	trip, err := fetchTrip(ctx, api, m)
	if err != nil {
		return nil, err
	}
	comment, err := api.AddComment(ctx, m.Body, trip)
	if err != nil {
		return nil, err
	}
	return &Message{Comment: &comment}, nil
}

func handleSearch(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	users, err := api.Search(ctx, m.Query)
	if err != nil {
		return nil, err
	}
	return &Message{Users: users}, nil
}

func handleAddFriend(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	if strings.TrimSpace(m.UserKey) == "" {
		return nil, carpool.ErrNoSuchUser
	}
	friend, err := api.FetchUser(ctx, m.UserKey)
	if err != nil {
		return nil, err
	}
	return nil, api.AddFriend(ctx, friend)
}

func handleRemoveFriend(ctx context.Context, api *carpool.API, m *Message) (*Message, error) {
	return nil, api.RemoveFriend(ctx, model.User{Key: m.UserKey})
}

// handleObserve starts the observation, acknowledges it with its subscription id and then
// forwards every delivery until the observation ends.
func (c *Client) handleObserve(message *Message) {
	updates, h, err := c.observe(message)
	metrics.Observe(message.Endpoint, err)
	if err != nil {
		log.Printf("client %s %s failed: %v", c.id, message.Endpoint, err)
		status, text := wscodes.ForError(err)
		c.push(toOriginWithStatus(message, status, text))
		return
	}
	id := uuid.NewString()
	c.track(id, h)
	ack := toOriginWithStatus(message, wscodes.StatusSuccess, "")
	ack.Subscription = id
	c.push(ack)

	for u := range updates {
		u.UID = message.UID
		u.Endpoint = message.Endpoint
		u.Subscription = id
		c.push(u)
	}
	c.untrack(id)
	closed := toOriginWithStatus(message, wscodes.StatusStreamClosed, "")
	closed.Subscription = id
	c.push(closed)
}

// observe starts the observation the message asks for, owned by the client, and adapts its
// deliveries to messages. The returned channel is closed when the observation ends.
func (c *Client) observe(m *Message) (<-chan *Message, scope.Closer, error) {
	api := c.api
	switch m.Endpoint {
	case endpointObserveTrips:
		s, err := api.ObserveTrips(c.ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return tripsMessages(s.C), s, nil
	case endpointObserveMyTrips:
		s, err := api.ObserveMyTrips(c.ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return tripsMessages(s.C), s, nil
	case endpointObserveFriendsTrips:
		s, err := api.ObserveTheTripsOfMyFriends(c.ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return tripsMessages(s.C), s, nil
	case endpointObserveTrip:
		if m.TripKey == "" {
			return nil, nil, carpool.ErrNoSuchTrip
		}
		s, err := api.ObserveTrip(c.ctx, c, model.Trip{Key: m.TripKey})
		if err != nil {
			return nil, nil, err
		}
		return tripMessages(s.C), s, nil
	case endpointObserveFriends:
		s, err := api.ObserveFriends(c.ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return usersMessages(s.C), s, nil
	default:
		observe := api.ObserveMyTripCalendar
		if m.Friends {
			observe = api.ObserveTheTripCalendarOfMyFriends
		}
		s, err := observe(c.ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return calendarMessages(s.C), s, nil
	}
}

func (c *Client) handleUnobserve(message *Message) *Message {
	h := c.untrack(message.Subscription)
	if h == nil {
		status, text := wscodes.ForError(errNoSuchSubscription)
		return toOriginWithStatus(message, status, text)
	}
	h.Close()
	return toOriginWithStatus(message, wscodes.StatusSuccess, "")
}

func update(err error) *Message {
	status, text := wscodes.StatusUpdate, ""
	if err != nil {
		status, text = wscodes.ForError(err)
	}
	return &Message{Status: status, Text: text}
}

func tripsMessages(in <-chan carpool.TripsUpdate) <-chan *Message {
	out := make(chan *Message)
	go func() {
		defer close(out)
		for u := range in {
			m := update(u.Err)
			m.Trips = u.Trips
			out <- m
		}
	}()
	return out
}

func tripMessages(in <-chan carpool.TripUpdate) <-chan *Message {
	out := make(chan *Message)
	go func() {
		defer close(out)
		for u := range in {
			m := update(u.Err)
			if u.Err == nil {
				trip := u.Trip
				m.Trip = &trip
			}
			out <- m
		}
	}()
	return out
}

func usersMessages(in <-chan carpool.UsersUpdate) <-chan *Message {
	out := make(chan *Message)
	go func() {
		defer close(out)
		for u := range in {
			m := update(u.Err)
			m.Users = u.Users
			out <- m
		}
	}()
	return out
}

func calendarMessages(in <-chan carpool.CalendarUpdate) <-chan *Message {
	out := make(chan *Message)
	go func() {
		defer close(out)
		for u := range in {
			m := update(u.Err)
			if u.Err == nil {
				m.Week = u.Calendar.Week()
			}
			out <- m
		}
	}()
	return out
}
