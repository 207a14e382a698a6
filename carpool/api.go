// Package carpool is the API facade over the remote tree and the identity provider. It
// bootstraps sessions, enforces the trip and leg rules, decodes remote nodes into the model and
// runs live observations bound to a scope.
//
// An API holds one user's session; a process serving many users creates one API per connection
// over a shared store and provider.
package carpool

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	log "carpool/cloudlog"
	"carpool/identity"
	"carpool/metrics"
	"carpool/model"
	"carpool/tree"
)

// ChangeKind names a change other users may want to be told about.
type ChangeKind string

const (
	ChangeClaimed     ChangeKind = "CLAIMED"
	ChangeUnclaimed   ChangeKind = "UNCLAIMED"
	ChangeCommented   ChangeKind = "COMMENTED"
	ChangeTripDeleted ChangeKind = "TRIP_DELETED"
	ChangeEndTime     ChangeKind = "END_TIME"
)

// Change describes a write to a trip made by UserKey.
type Change struct {
	Kind       ChangeKind    `json:"kind"`
	TripKey    string        `json:"tripKey"`
	Leg        model.LegKind `json:"leg,omitempty"`
	CommentKey string        `json:"commentKey,omitempty"`
	UserKey    string        `json:"userKey"`
	Time       time.Time     `json:"time"`
}

// Notifier forwards changes to the push notification service. Failures are logged and never
// fail the write that caused them.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

// API is the carpool facade. It is safe for concurrent use.
type API struct {
	store    tree.Store
	auth     identity.Provider
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	session *identity.Session
	// ready is set once the session's user record is known to exist.
	ready bool
	boot  singleflight.Group

	searchMu    sync.Mutex
	searchGen   uint64
	searchQuery string
	// searchCancels holds the cancel of every search in flight, by call.
	searchSeq     uint64
	searchCancels map[uint64]context.CancelFunc
}

// Option configures an API.
type Option func(*API)

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) Option {
	return func(a *API) { a.notifier = n }
}

// WithClock overrides the time source used for timestamps and calendars.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// WithSession starts the API with an already established session, such as one resumed from an
// ID token.
func WithSession(s *identity.Session) Option {
	return func(a *API) { a.session = s }
}

// New returns an API over store and provider.
func New(store tree.Store, provider identity.Provider, opts ...Option) *API {
	a := &API{
		store: store,
		auth:  provider,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) notify(ctx context.Context, c Change) {
	if a.notifier == nil {
		return
	}
	c.Time = a.now()
	if err := a.notifier.Notify(ctx, c); err != nil {
		metrics.NotificationsFailed.Inc()
		log.Printf("notify %s for trip %s: %v", c.Kind, c.TripKey, err)
	}
}

// Stored times are seconds since the epoch at millisecond precision. epoch and fromEpoch
// round to that precision so a time read back compares equal to the one written.
func epoch(t time.Time) float64 {
	return float64(t.Round(time.Millisecond).UnixMilli()) / 1000
}

func fromEpoch(sec float64) time.Time {
	return time.UnixMilli(int64(math.Round(sec * 1000)))
}
