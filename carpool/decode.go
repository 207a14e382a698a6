package carpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "carpool/cloudlog"
	"carpool/metrics"
	"carpool/model"
	"carpool/schema"
	"carpool/tree"
)

// decoder turns raw nodes into model values, resolving user and comment references as a
// separate asynchronous step. One decoder serves one decode pass: each referenced user is
// fetched at most once per pass.
type decoder struct {
	// ctx bounds every fetch of the pass, so one failed trip does not cancel a lookup another
	// trip is waiting on.
	ctx   context.Context
	store tree.Store

	mu     sync.Mutex
	users  map[string]model.User
	flight singleflight.Group
}

func (a *API) newDecoder(ctx context.Context) *decoder {
	return &decoder{ctx: ctx, store: a.store, users: map[string]model.User{}}
}

// User implements model.UserResolver.
func (d *decoder) User(_ context.Context, key string) (model.User, error) {
	d.mu.Lock()
	u, ok := d.users[key]
	d.mu.Unlock()
	if ok {
		return u, nil
	}
	v, err, _ := d.flight.Do(key, func() (interface{}, error) {
		n, err := d.store.Get(d.ctx, schema.UserPath(key))
		if err != nil {
			return nil, fmt.Errorf("fetching user %s: %w", key, err)
		}
		u, err := decodeUser(n)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.users[key] = u
		d.mu.Unlock()
		return u, nil
	})
	if err != nil {
		return model.User{}, err
	}
	return v.(model.User), nil
}

func decodeUser(n tree.Node) (model.User, error) {
	if !n.Exists() {
		return model.User{}, fmt.Errorf("%w: %s", ErrNoSuchUser, n.Key)
	}
	var rec schema.UserRecord
	if err := tree.DecodeRecord(n, &rec); err != nil {
		return model.User{}, fmt.Errorf("user %s: %w", n.Key, err)
	}
	children, err := decodeChildren(n.Child(schema.ChildrenKey))
	if err != nil {
		return model.User{}, fmt.Errorf("user %s: %w", n.Key, err)
	}
	return model.User{
		Key:      n.Key,
		Name:     rec.Name,
		Children: children,
		Friends:  n.Child(schema.FriendsKey).Keys(),
	}, nil
}

// decodeChildren reads a {childKey: name} map. Entries written as {name: ...} objects are
// accepted too.
func decodeChildren(n tree.Node) ([]model.Child, error) {
	nodes, err := n.Children()
	if err != nil {
		return nil, err
	}
	children := make([]model.Child, 0, len(nodes))
	for _, c := range nodes {
		var name string
		if c.IsObject() {
			var rec schema.ChildRecord
			if err := tree.DecodeRecord(c, &rec); err != nil {
				return nil, err
			}
			name = rec.Name
		} else if name, err = c.String(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: name of child %q", tree.ErrNoChild, c.Key)
		}
		children = append(children, model.Child{Key: c.Key, Name: name})
	}
	return children, nil
}

// userRef reads a {uid: name} stub. An absent node is not a reference.
func userRef(n tree.Node) (ref model.UserRef, ok bool, err error) {
	key, value, ok, err := tree.Singleton(n)
	if err != nil || !ok {
		return model.UserRef{}, false, err
	}
	name, isString := value.(string)
	if !isString && value != nil {
		return model.UserRef{}, false, tree.InvalidType(n.Key+"/"+key, value)
	}
	return model.UserRef{Key: key, Name: name}, true, nil
}

// ownerKey returns the key stored in the owner stub of an event node without resolving it.
func ownerKey(event tree.Node) (string, error) {
	ref, ok, err := userRef(event.Child(schema.OwnerKey))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: owner of event %q", tree.ErrNoChild, event.Key)
	}
	return ref.Key, nil
}

// embeddedEvent returns the single {eventKey: event} entry of a trip node.
func embeddedEvent(trip tree.Node) (tree.Node, error) {
	key, value, ok, err := tree.Singleton(trip.Child(schema.EventKey))
	if err != nil {
		return tree.Node{}, err
	}
	if !ok {
		return tree.Node{}, fmt.Errorf("%w: event of trip %q", tree.ErrNoChild, trip.Key)
	}
	return tree.Node{Key: key, Value: value}, nil
}

func (d *decoder) event(ctx context.Context, n tree.Node) (model.Event, error) {
	var rec schema.EventRecord
	if err := tree.DecodeRecord(n, &rec); err != nil {
		return model.Event{}, err
	}
	if strings.TrimSpace(rec.Description) == "" {
		return model.Event{}, fmt.Errorf("%w: description of event %q", tree.ErrNoChild, n.Key)
	}
	if rec.Time == nil {
		return model.Event{}, fmt.Errorf("%w: time of event %q", tree.ErrNoChild, n.Key)
	}
	ref, ok, err := userRef(n.Child(schema.OwnerKey))
	if err != nil {
		return model.Event{}, err
	}
	if !ok {
		return model.Event{}, fmt.Errorf("%w: owner of event %q", tree.ErrNoChild, n.Key)
	}
	owner, err := ref.Resolve(ctx, d)
	if err != nil {
		return model.Event{}, err
	}
	event := model.Event{
		Key:         n.Key,
		Description: rec.Description,
		Owner:       owner,
		Time:        fromEpoch(*rec.Time),
		Geohash:     rec.Geohash,
	}
	if rec.EndTime != nil {
		end := fromEpoch(*rec.EndTime)
		event.EndTime = &end
	}
	return event, nil
}

func (d *decoder) comment(ctx context.Context, key string) (model.Comment, error) {
	n, err := d.store.Get(d.ctx, schema.CommentPath(key))
	if err != nil {
		return model.Comment{}, fmt.Errorf("fetching comment %s: %w", key, err)
	}
	var rec schema.CommentRecord
	if err := tree.DecodeRecord(n, &rec); err != nil {
		return model.Comment{}, fmt.Errorf("comment %s: %w", key, err)
	}
	switch {
	case rec.CTime == nil:
		return model.Comment{}, fmt.Errorf("%w: ctime of comment %q", tree.ErrNoChild, key)
	case strings.TrimSpace(rec.Body) == "":
		return model.Comment{}, fmt.Errorf("%w: body of comment %q", tree.ErrNoChild, key)
	case rec.Owner == "":
		return model.Comment{}, fmt.Errorf("%w: owner of comment %q", tree.ErrNoChild, key)
	}
	user, err := model.UserRef{Key: rec.Owner}.Resolve(ctx, d)
	if err != nil {
		return model.Comment{}, err
	}
	return model.Comment{Key: key, Time: fromEpoch(*rec.CTime), Body: rec.Body, User: user}, nil
}

// trip decodes a trip node. Shape checks happen before any fetch; the event owner, both
// drivers and the comments are then resolved concurrently.
func (d *decoder) trip(ctx context.Context, n tree.Node) (model.Trip, error) {
	var rec schema.TripRecord
	if err := tree.DecodeRecord(n, &rec); err != nil {
		return model.Trip{}, fmt.Errorf("trip %s: %w", n.Key, err)
	}
	eventNode, err := embeddedEvent(n)
	if err != nil {
		return model.Trip{}, err
	}
	dropOff, hasDropOff, err := userRef(n.Child(schema.DropOffKey))
	if err != nil {
		return model.Trip{}, fmt.Errorf("trip %s: %w", n.Key, err)
	}
	pickUp, hasPickUp, err := userRef(n.Child(schema.PickUpKey))
	if err != nil {
		return model.Trip{}, fmt.Errorf("trip %s: %w", n.Key, err)
	}
	children, err := decodeChildren(n.Child(schema.ChildrenKey))
	if err != nil {
		return model.Trip{}, fmt.Errorf("trip %s: %w", n.Key, err)
	}
	repeats, err := n.Child(schema.RepeatsKey).Bool(false)
	if err != nil {
		return model.Trip{}, fmt.Errorf("trip %s: %w", n.Key, err)
	}
	commentsNode := n.Child(schema.CommentsKey)
	if commentsNode.Exists() && !commentsNode.IsObject() {
		return model.Trip{}, fmt.Errorf("trip %s: %w", n.Key, tree.InvalidType(commentsNode.Key, commentsNode.Value))
	}
	commentKeys := commentsNode.Keys()

	trip := model.Trip{Key: n.Key, Children: children, Repeats: repeats}
	comments := make([]model.Comment, len(commentKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		event, err := d.event(gctx, eventNode)
		trip.Event = event
		return err
	})
	if hasDropOff {
		g.Go(func() error {
			driver, err := dropOff.Resolve(gctx, d)
			trip.DropOff = &model.Leg{Driver: driver}
			return err
		})
	}
	if hasPickUp {
		g.Go(func() error {
			driver, err := pickUp.Resolve(gctx, d)
			trip.PickUp = &model.Leg{Driver: driver}
			return err
		})
	}
	for i, key := range commentKeys {
		i, key := i, key
		g.Go(func() error {
			c, err := d.comment(gctx, key)
			comments[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return model.Trip{}, fmt.Errorf("trip %s: %w", n.Key, err)
	}
	model.SortComments(comments)
	trip.Comments = comments
	return trip, nil
}

// trips decodes every child of the /trips node, newest first. Malformed trips are logged and
// dropped; the list fails only if every trip failed.
func (d *decoder) trips(ctx context.Context, n tree.Node) ([]model.Trip, error) {
	nodes, err := n.Children()
	if err != nil {
		return nil, err
	}
	decoded := make([]model.Trip, len(nodes))
	errs := make([]error, len(nodes))
	var g errgroup.Group
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			decoded[i], errs[i] = d.trip(ctx, node)
			return nil
		})
	}
	g.Wait()

	trips := make([]model.Trip, 0, len(nodes))
	var firstErr error
	for i, err := range errs {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			metrics.DroppedTrips.Inc()
			log.Printf("dropping trip %s: %v", nodes[i].Key, err)
			continue
		}
		trips = append(trips, decoded[i])
	}
	if len(trips) == 0 && firstErr != nil {
		return nil, fmt.Errorf("no trip could be decoded: %w", firstErr)
	}
	model.SortTrips(trips, model.Descending)
	return trips, nil
}

// friends resolves the friend keys of a user node. Friends whose record no longer exists are
// skipped.
func (d *decoder) friends(ctx context.Context, n tree.Node) ([]model.User, error) {
	self, err := decodeUser(n)
	if err != nil {
		return nil, err
	}
	found := make([]*model.User, len(self.Friends))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range self.Friends {
		i, key := i, key
		g.Go(func() error {
			u, err := d.User(gctx, key)
			if errors.Is(err, ErrNoSuchUser) {
				log.Printf("user %s has a dangling friend %s", n.Key, key)
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = &u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(found))
	for _, u := range found {
		if u != nil {
			users = append(users, *u)
		}
	}
	model.SortUsers(users)
	return users, nil
}
