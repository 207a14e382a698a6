package carpool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	log "carpool/cloudlog"
	"carpool/model"
	"carpool/schema"
	"carpool/tree"
)

// stub is the {uid: name} reference stored for a user. Unnamed users are stored under the
// anonymous display name.
func stub(u model.User) map[string]interface{} {
	return map[string]interface{}{u.Key: u.DisplayName()}
}

// CreateTrip writes a new event and a trip referencing it, with the creator driving the
// drop-off and the pick-up unclaimed. The returned trip is built locally; it does not wait for
// an observation to echo the write. A nil location stores no geohash.
func (a *API) CreateTrip(ctx context.Context, description string, when time.Time, location *model.Location) (model.Trip, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return model.Trip{}, ErrEmptyDescription
	}
	user, err := a.FetchCurrentUser(ctx)
	if err != nil {
		return model.Trip{}, err
	}
	if !user.IsNamed() {
		return model.Trip{}, ErrAnonymousUsersCannotCreateTrips
	}
	var geohash string
	if location != nil {
		if geohash, err = location.Geohash(); err != nil {
			return model.Trip{}, fmt.Errorf("%w: %v", ErrLocationInvalid, err)
		}
	}

	eventKey, tripKey := tree.NewKey(), tree.NewKey()
	event := map[string]interface{}{
		schema.DescriptionKey: description,
		schema.TimeKey:        epoch(when),
		schema.OwnerKey:       stub(user),
	}
	if geohash != "" {
		event[schema.GeohashKey] = geohash
	}
	err = a.store.Set(ctx, schema.TripPath(tripKey), map[string]interface{}{
		schema.DropOffKey: stub(user),
		schema.EventKey:   map[string]interface{}{eventKey: event},
		schema.OwnerKey:   stub(user),
	})
	if err != nil {
		return model.Trip{}, fmt.Errorf("writing trip: %w", err)
	}
	canonical := map[string]interface{}{schema.TripsKey: map[string]interface{}{tripKey: true}}
	for k, v := range event {
		canonical[k] = v
	}
	if err := a.store.Set(ctx, schema.EventPath(eventKey), canonical); err != nil {
		return model.Trip{}, fmt.Errorf("writing event: %w", err)
	}
	log.Printf("user %s created trip %s", user.Key, tripKey)

	return model.Trip{
		Key: tripKey,
		Event: model.Event{
			Key:         eventKey,
			Description: description,
			Owner:       user,
			Time:        fromEpoch(epoch(when)),
			Geohash:     geohash,
		},
		DropOff:  &model.Leg{Driver: user},
		Children: []model.Child{},
		Comments: []model.Comment{},
	}, nil
}

// requireTrip reads the stored trip, failing with ErrNoSuchTrip if it is gone. Writes below a
// trip go through it so they never recreate a deleted trip as a partial node.
func (a *API) requireTrip(ctx context.Context, key string) (tree.Node, error) {
	if key == "" {
		return tree.Node{}, ErrNoSuchTrip
	}
	n, err := a.store.Get(ctx, schema.TripPath(key))
	if err != nil {
		return tree.Node{}, fmt.Errorf("fetching trip %s: %w", key, err)
	}
	if !n.Exists() {
		return tree.Node{}, fmt.Errorf("%w: %s", ErrNoSuchTrip, key)
	}
	return n, nil
}

// FetchTrip is a one-shot read of a trip.
func (a *API) FetchTrip(ctx context.Context, key string) (model.Trip, error) {
	if _, err := a.EnsureSession(ctx); err != nil {
		return model.Trip{}, err
	}
	n, err := a.requireTrip(ctx, key)
	if err != nil {
		return model.Trip{}, err
	}
	return a.newDecoder(ctx).trip(ctx, n)
}

// Claim makes the current user the driver of the leg, replacing any previous driver. Claiming a
// leg one already drives changes nothing.
func (a *API) Claim(ctx context.Context, kind model.LegKind, trip model.Trip) error {
	if !kind.Valid() {
		return ErrInvalidLeg
	}
	user, err := a.FetchCurrentUser(ctx)
	if err != nil {
		return err
	}
	if _, err := a.requireTrip(ctx, trip.Key); err != nil {
		return err
	}
	if err := a.store.Set(ctx, schema.TripPath(trip.Key).Child(string(kind)), stub(user)); err != nil {
		return fmt.Errorf("claiming %s of trip %s: %w", kind, trip.Key, err)
	}
	a.notify(ctx, Change{Kind: ChangeClaimed, TripKey: trip.Key, Leg: kind, UserKey: user.Key})
	return nil
}

// Unclaim clears the leg's driver. Only the driver and the event owner may do so; unclaiming
// an unclaimed leg succeeds.
func (a *API) Unclaim(ctx context.Context, kind model.LegKind, trip model.Trip) error {
	if !kind.Valid() {
		return ErrInvalidLeg
	}
	s, err := a.EnsureSession(ctx)
	if err != nil {
		return err
	}
	n, err := a.requireTrip(ctx, trip.Key)
	if err != nil {
		return err
	}
	driver, claimed, err := userRef(n.Child(string(kind)))
	if err != nil {
		return fmt.Errorf("trip %s: %w", trip.Key, err)
	}
	if !claimed {
		return nil
	}
	if driver.Key != s.UID {
		event, err := embeddedEvent(n)
		if err != nil {
			return err
		}
		owner, err := ownerKey(event)
		if err != nil {
			return err
		}
		if owner != s.UID {
			return ErrNotYourLeg
		}
	}
	if err := a.store.Remove(ctx, schema.TripPath(trip.Key).Child(string(kind))); err != nil {
		return fmt.Errorf("unclaiming %s of trip %s: %w", kind, trip.Key, err)
	}
	a.notify(ctx, Change{Kind: ChangeUnclaimed, TripKey: trip.Key, Leg: kind, UserKey: s.UID})
	return nil
}

// DeleteTrip removes the trip. Only the owner of its event may delete it. The event node is
// kept; only its back-reference to the trip is removed.
func (a *API) DeleteTrip(ctx context.Context, trip model.Trip) error {
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	if trip.Event.Owner.Key != s.UID {
		return ErrNotYourTripToDelete
	}
	n, err := a.requireTrip(ctx, trip.Key)
	if err != nil {
		return err
	}
	event, err := embeddedEvent(n)
	if err != nil {
		return err
	}
	owner, err := ownerKey(event)
	if err != nil {
		return err
	}
	if owner != s.UID {
		return ErrNotYourTripToDelete
	}
	if err := a.store.Remove(ctx, schema.TripPath(trip.Key)); err != nil {
		return fmt.Errorf("deleting trip %s: %w", trip.Key, err)
	}
	if err := a.store.Remove(ctx, schema.EventPath(event.Key).Child(schema.TripsKey, trip.Key)); err != nil {
		return fmt.Errorf("unlinking trip %s from event %s: %w", trip.Key, event.Key, err)
	}
	log.Printf("user %s deleted trip %s", s.UID, trip.Key)
	a.notify(ctx, Change{Kind: ChangeTripDeleted, TripKey: trip.Key, UserKey: s.UID})
	return nil
}

// SetEventEndTime stores the end time on the event and on every trip embedding a copy of it.
// The end may equal the start; both are compared at the stored millisecond precision.
func (a *API) SetEventEndTime(ctx context.Context, event model.Event, end time.Time) error {
	end = fromEpoch(epoch(end))
	if end.Before(fromEpoch(epoch(event.Time))) {
		return ErrEventEndTimeBeforeStart
	}
	s, err := a.EnsureSession(ctx)
	if err != nil {
		return err
	}
	n, err := a.store.Get(ctx, schema.EventPath(event.Key))
	if err != nil {
		return fmt.Errorf("fetching event %s: %w", event.Key, err)
	}
	if !n.Exists() {
		return fmt.Errorf("%w: %s", ErrNoSuchEvent, event.Key)
	}
	start, err := n.Child(schema.TimeKey).Float()
	if err != nil {
		return fmt.Errorf("event %s: %w", event.Key, err)
	}
	if end.Before(fromEpoch(start)) {
		return ErrEventEndTimeBeforeStart
	}

	value := epoch(end)
	if err := a.store.Set(ctx, schema.EventPath(event.Key).Child(schema.EndTimeKey), value); err != nil {
		return fmt.Errorf("setting end time of event %s: %w", event.Key, err)
	}
	tripKeys := n.Child(schema.TripsKey).Keys()
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range tripKeys {
		embedded := schema.TripPath(key).Child(schema.EventKey, event.Key)
		g.Go(func() error {
			current, err := a.store.Get(gctx, embedded)
			if err != nil {
				return err
			}
			if !current.Exists() {
				return nil
			}
			return a.store.Set(gctx, embedded.Child(schema.EndTimeKey), value)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("propagating end time of event %s: %w", event.Key, err)
	}
	for _, key := range tripKeys {
		a.notify(ctx, Change{Kind: ChangeEndTime, TripKey: key, UserKey: s.UID})
	}
	return nil
}

// MarkRepeating sets whether the trip repeats weekly.
func (a *API) MarkRepeating(ctx context.Context, trip model.Trip, repeats bool) error {
	if _, err := a.EnsureSession(ctx); err != nil {
		return err
	}
	if _, err := a.requireTrip(ctx, trip.Key); err != nil {
		return err
	}
	return a.store.Set(ctx, schema.TripPath(trip.Key).Child(schema.RepeatsKey), repeats)
}

// AddChildToTrip lists the child as riding on the trip.
func (a *API) AddChildToTrip(ctx context.Context, child model.Child, trip model.Trip) error {
	if strings.TrimSpace(child.Name) == "" {
		return ErrNoChildName
	}
	if _, err := a.EnsureSession(ctx); err != nil {
		return err
	}
	if _, err := a.requireTrip(ctx, trip.Key); err != nil {
		return err
	}
	return a.store.Set(ctx, schema.TripPath(trip.Key).Child(schema.ChildrenKey, child.Key), child.Name)
}

// AddComment attaches a comment by the current user to the trip.
func (a *API) AddComment(ctx context.Context, body string, trip model.Trip) (model.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return model.Comment{}, ErrEmptyComment
	}
	user, err := a.FetchCurrentUser(ctx)
	if err != nil {
		return model.Comment{}, err
	}
	if _, err := a.requireTrip(ctx, trip.Key); err != nil {
		return model.Comment{}, err
	}
	key := tree.NewKey()
	now := a.now()
	err = a.store.Set(ctx, schema.CommentPath(key), map[string]interface{}{
		schema.BodyKey:  body,
		schema.OwnerKey: user.Key,
		schema.CTimeKey: epoch(now),
	})
	if err != nil {
		return model.Comment{}, fmt.Errorf("writing comment: %w", err)
	}
	if err := a.store.Set(ctx, schema.TripPath(trip.Key).Child(schema.CommentsKey, key), true); err != nil {
		return model.Comment{}, fmt.Errorf("attaching comment %s to trip %s: %w", key, trip.Key, err)
	}
	a.notify(ctx, Change{Kind: ChangeCommented, TripKey: trip.Key, CommentKey: key, UserKey: user.Key})
	return model.Comment{Key: key, Time: fromEpoch(epoch(now)), Body: body, User: user}, nil
}
