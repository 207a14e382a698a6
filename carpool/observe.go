package carpool

import (
	"context"
	"fmt"

	log "carpool/cloudlog"
	"carpool/metrics"
	"carpool/model"
	"carpool/schema"
	"carpool/scope"
	"carpool/tree"
)

// TripsUpdate is one delivery of a trip list stream. A delivery carrying Err does not end the
// stream unless C is closed after it.
type TripsUpdate struct {
	Trips []model.Trip
	Err   error
}

// TripUpdate is one delivery of a single trip stream.
type TripUpdate struct {
	Trip model.Trip
	Err  error
}

// UsersUpdate is one delivery of a user list stream.
type UsersUpdate struct {
	Users []model.User
	Err   error
}

// CalendarUpdate is one delivery of a calendar stream.
type CalendarUpdate struct {
	Calendar model.Calendar
	Err      error
}

// TripsStream delivers trip lists on C until its handle is closed, its owner tears down or the
// observation fails. C is closed afterwards.
type TripsStream struct {
	*scope.Handle
	C <-chan TripsUpdate
}

// TripStream delivers one trip on C.
type TripStream struct {
	*scope.Handle
	C <-chan TripUpdate
}

// UsersStream delivers user lists on C.
type UsersStream struct {
	*scope.Handle
	C <-chan UsersUpdate
}

// CalendarStream delivers calendars on C.
type CalendarStream struct {
	*scope.Handle
	C <-chan CalendarUpdate
}

// watch observes path and calls onNode for every snapshot until onNode returns false, the handle
// is closed or the subscription ends. onEnd receives the error that ended the subscription, nil
// when it was closed. The returned handle is bound to owner.
func (a *API) watch(ctx context.Context, owner scope.Owner, path tree.Path, onNode func(ctx context.Context, h *scope.Handle, n tree.Node) bool, onEnd func(h *scope.Handle, err error)) (*scope.Handle, error) {
	sub, err := a.store.Observe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("observing %s: %w", path, err)
	}
	h := scope.NewHandle(func() { sub.Close() })
	scope.Bind(owner, h)
	metrics.ActiveSubscriptions.Inc()
	log.Printf("observing %s", path)

	go func() {
		defer metrics.ActiveSubscriptions.Dec()
		stopped := false
		for n := range sub.Updates() {
			if !stopped && !onNode(sub.Context(), h, n) {
				stopped = true
				h.Close()
			}
		}
		err := sub.Err()
		if err != nil {
			log.Printf("observation of %s failed: %v", path, err)
		} else {
			log.Printf("stopped observing %s", path)
		}
		onEnd(h, err)
	}()
	return h, nil
}

func sendTrips(h *scope.Handle, out chan<- TripsUpdate, u TripsUpdate) bool {
	select {
	case out <- u:
		return true
	case <-h.Done():
		return false
	}
}

func sendTrip(h *scope.Handle, out chan<- TripUpdate, u TripUpdate) bool {
	select {
	case out <- u:
		return true
	case <-h.Done():
		return false
	}
}

func sendUsers(h *scope.Handle, out chan<- UsersUpdate, u UsersUpdate) bool {
	select {
	case out <- u:
		return true
	case <-h.Done():
		return false
	}
}

func sendCalendar(h *scope.Handle, out chan<- CalendarUpdate, u CalendarUpdate) bool {
	select {
	case out <- u:
		return true
	case <-h.Done():
		return false
	}
}

// ObserveTrips delivers every trip, newest first, on every change.
func (a *API) ObserveTrips(ctx context.Context, owner scope.Owner) (*TripsStream, error) {
	return a.observeTrips(ctx, owner, nil)
}

// ObserveMyTrips delivers the trips whose event the current user owns.
func (a *API) ObserveMyTrips(ctx context.Context, owner scope.Owner) (*TripsStream, error) {
	s, err := a.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	return a.observeTrips(ctx, owner, func(t model.Trip) bool {
		return t.Event.Owner.Key == s.UID
	})
}

func (a *API) observeTrips(ctx context.Context, owner scope.Owner, keep func(model.Trip) bool) (*TripsStream, error) {
	if _, err := a.EnsureSession(ctx); err != nil {
		return nil, err
	}
	out := make(chan TripsUpdate)
	h, err := a.watch(ctx, owner, tree.P(schema.Trips),
		func(ctx context.Context, h *scope.Handle, n tree.Node) bool {
			trips, err := a.newDecoder(ctx).trips(ctx, n)
			if err == nil && keep != nil {
				trips = filterTrips(trips, keep)
			}
			return sendTrips(h, out, TripsUpdate{Trips: trips, Err: err})
		},
		func(h *scope.Handle, err error) {
			if err != nil {
				sendTrips(h, out, TripsUpdate{Err: err})
			}
			close(out)
		})
	if err != nil {
		return nil, err
	}
	return &TripsStream{Handle: h, C: out}, nil
}

func filterTrips(trips []model.Trip, keep func(model.Trip) bool) []model.Trip {
	kept := make([]model.Trip, 0, len(trips))
	for _, t := range trips {
		if keep(t) {
			kept = append(kept, t)
		}
	}
	return kept
}

// ObserveTrip delivers the trip on every change. Deleting the trip delivers ErrNoSuchTrip.
func (a *API) ObserveTrip(ctx context.Context, owner scope.Owner, trip model.Trip) (*TripStream, error) {
	if _, err := a.EnsureSession(ctx); err != nil {
		return nil, err
	}
	if trip.Key == "" {
		return nil, ErrNoSuchTrip
	}
	out := make(chan TripUpdate)
	h, err := a.watch(ctx, owner, schema.TripPath(trip.Key),
		func(ctx context.Context, h *scope.Handle, n tree.Node) bool {
			if !n.Exists() {
				return sendTrip(h, out, TripUpdate{Err: fmt.Errorf("%w: %s", ErrNoSuchTrip, trip.Key)})
			}
			t, err := a.newDecoder(ctx).trip(ctx, n)
			return sendTrip(h, out, TripUpdate{Trip: t, Err: err})
		},
		func(h *scope.Handle, err error) {
			if err != nil {
				sendTrip(h, out, TripUpdate{Err: err})
			}
			close(out)
		})
	if err != nil {
		return nil, err
	}
	return &TripStream{Handle: h, C: out}, nil
}

// ObserveFriends delivers the current user's friends, sorted by name, whenever the user's record
// changes.
func (a *API) ObserveFriends(ctx context.Context, owner scope.Owner) (*UsersStream, error) {
	s, err := a.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan UsersUpdate)
	h, err := a.watch(ctx, owner, schema.UserPath(s.UID),
		func(ctx context.Context, h *scope.Handle, n tree.Node) bool {
			users, err := a.newDecoder(ctx).friends(ctx, n)
			return sendUsers(h, out, UsersUpdate{Users: users, Err: err})
		},
		func(h *scope.Handle, err error) {
			if err != nil {
				sendUsers(h, out, UsersUpdate{Err: err})
			}
			close(out)
		})
	if err != nil {
		return nil, err
	}
	return &UsersStream{Handle: h, C: out}, nil
}

// ObserveTheTripsOfMyFriends delivers the trips owned by the current user's friends. Nothing is
// delivered until both the trips and the friends have been observed once; afterwards every
// change on either side recomputes from the latest value of both.
func (a *API) ObserveTheTripsOfMyFriends(ctx context.Context, owner scope.Owner) (*TripsStream, error) {
	parts := scope.NewLifetime()
	trips, err := a.ObserveTrips(ctx, parts)
	if err != nil {
		return nil, err
	}
	friends, err := a.ObserveFriends(ctx, parts)
	if err != nil {
		parts.End()
		return nil, err
	}
	out := make(chan TripsUpdate)
	h := scope.NewHandle(parts.End)
	scope.Bind(owner, h)

	go func() {
		defer close(out)
		defer h.Close()
		j := join{}
		for {
			var (
				u    TripsUpdate
				emit bool
			)
			select {
			case <-h.Done():
				return
			case tu, ok := <-trips.C:
				if !ok {
					return
				}
				u, emit = j.trips(tu)
			case fu, ok := <-friends.C:
				if !ok {
					return
				}
				u, emit = j.friends(fu)
			}
			if emit && !sendTrips(h, out, u) {
				return
			}
		}
	}()
	return &TripsStream{Handle: h, C: out}, nil
}

// join caches the latest value of both sides of the friends' trips stream.
type join struct {
	latest      []model.Trip
	friendKeys  map[string]bool
	haveTrips   bool
	haveFriends bool
}

func (j *join) trips(u TripsUpdate) (TripsUpdate, bool) {
	if u.Err != nil {
		return TripsUpdate{Err: u.Err}, true
	}
	j.latest, j.haveTrips = u.Trips, true
	return j.result()
}

func (j *join) friends(u UsersUpdate) (TripsUpdate, bool) {
	if u.Err != nil {
		return TripsUpdate{Err: u.Err}, true
	}
	j.friendKeys = make(map[string]bool, len(u.Users))
	for _, f := range u.Users {
		j.friendKeys[f.Key] = true
	}
	j.haveFriends = true
	return j.result()
}

func (j *join) result() (TripsUpdate, bool) {
	if !j.haveTrips || !j.haveFriends {
		return TripsUpdate{}, false
	}
	return TripsUpdate{Trips: filterTrips(j.latest, func(t model.Trip) bool {
		return j.friendKeys[t.Event.Owner.Key]
	})}, true
}

// ObserveMyTripCalendar delivers a calendar of the current user's trips.
func (a *API) ObserveMyTripCalendar(ctx context.Context, owner scope.Owner) (*CalendarStream, error) {
	return a.observeCalendar(ctx, owner, a.ObserveMyTrips)
}

// ObserveTheTripCalendarOfMyFriends delivers a calendar of the current user's friends' trips.
func (a *API) ObserveTheTripCalendarOfMyFriends(ctx context.Context, owner scope.Owner) (*CalendarStream, error) {
	return a.observeCalendar(ctx, owner, a.ObserveTheTripsOfMyFriends)
}

func (a *API) observeCalendar(ctx context.Context, owner scope.Owner, source func(context.Context, scope.Owner) (*TripsStream, error)) (*CalendarStream, error) {
	parts := scope.NewLifetime()
	trips, err := source(ctx, parts)
	if err != nil {
		return nil, err
	}
	out := make(chan CalendarUpdate)
	h := scope.NewHandle(parts.End)
	scope.Bind(owner, h)

	go func() {
		defer close(out)
		defer h.Close()
		for u := range trips.C {
			cu := CalendarUpdate{Err: u.Err}
			if u.Err == nil {
				cu.Calendar = model.NewCalendar(u.Trips, a.now())
			}
			if !sendCalendar(h, out, cu) {
				return
			}
		}
	}()
	return &CalendarStream{Handle: h, C: out}, nil
}
