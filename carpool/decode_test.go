package carpool_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpool/carpool"
	"carpool/model"
	"carpool/schema"
	"carpool/scope"
)

// rawTrip is a minimal well formed trip owned by uid.
func rawTrip(uid, name, eventKey string) map[string]interface{} {
	return map[string]interface{}{
		schema.EventKey: map[string]interface{}{
			eventKey: map[string]interface{}{
				schema.DescriptionKey: "Soccer",
				schema.TimeKey:        float64(monday.Unix()),
				schema.OwnerKey:       map[string]interface{}{uid: name},
			},
		},
		schema.OwnerKey: map[string]interface{}{uid: name},
	}
}

func TestFetchTripDefaults(t *testing.T) {
	e := newEnv()
	api, ann := e.user(t, "Ann")
	e.set(t, schema.TripPath("t1"), rawTrip(ann.Key, "Ann", "e1"))

	trip, err := api.FetchTrip(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Soccer", trip.Event.Description)
	assert.True(t, trip.Event.Time.Equal(monday))
	assert.Equal(t, ann.Key, trip.Event.Owner.Key)
	assert.Nil(t, trip.DropOff)
	assert.Nil(t, trip.PickUp)
	assert.Empty(t, trip.Children)
	assert.Empty(t, trip.Comments)
	assert.False(t, trip.Repeats)
}

func TestFetchTripMalformed(t *testing.T) {
	e := newEnv()
	api, ann := e.user(t, "Ann")

	tests := []struct {
		name   string
		mutate func(raw map[string]interface{})
	}{
		{name: "bare string leg", mutate: func(raw map[string]interface{}) {
			raw[schema.DropOffKey] = ann.Key
		}},
		{name: "event is not an object", mutate: func(raw map[string]interface{}) {
			raw[schema.EventKey] = "e1"
		}},
		{name: "no event", mutate: func(raw map[string]interface{}) {
			delete(raw, schema.EventKey)
		}},
		{name: "comments is a list marker", mutate: func(raw map[string]interface{}) {
			raw[schema.CommentsKey] = true
		}},
		{name: "child without a name", mutate: func(raw map[string]interface{}) {
			raw[schema.ChildrenKey] = map[string]interface{}{"c1": map[string]interface{}{"age": 7}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawTrip(ann.Key, "Ann", "e1")
			tt.mutate(raw)
			e.set(t, schema.TripPath("bad"), raw)

			_, err := api.FetchTrip(context.Background(), "bad")
			assert.ErrorIs(t, err, carpool.ErrMalformedData)
		})
	}
}

func TestFetchTripDanglingDriver(t *testing.T) {
	e := newEnv()
	api, ann := e.user(t, "Ann")
	raw := rawTrip(ann.Key, "Ann", "e1")
	raw[schema.PickUpKey] = map[string]interface{}{"ghost": "Ghost"}
	e.set(t, schema.TripPath("t1"), raw)

	_, err := api.FetchTrip(context.Background(), "t1")
	assert.ErrorIs(t, err, carpool.ErrNoSuchUser)

	_, err = api.FetchTrip(context.Background(), "missing")
	assert.ErrorIs(t, err, carpool.ErrNoSuchTrip)
}

func TestTripListDropsMalformedTrips(t *testing.T) {
	e := newEnv()
	api, ann := e.user(t, "Ann")
	bad := rawTrip(ann.Key, "Ann", "e2")
	bad[schema.DropOffKey] = ann.Key
	e.set(t, schema.TripPath("good"), rawTrip(ann.Key, "Ann", "e1"))
	e.set(t, schema.TripPath("bad"), bad)

	life := scope.NewLifetime()
	defer life.End()
	stream, err := api.ObserveTrips(context.Background(), life)
	require.NoError(t, err)
	waitTrips(t, stream, hasTrips("good"))
}

func TestTripListFailsWhenNothingDecodes(t *testing.T) {
	e := newEnv()
	api, ann := e.user(t, "Ann")
	bad := rawTrip(ann.Key, "Ann", "e1")
	bad[schema.PickUpKey] = 3
	e.set(t, schema.TripPath("bad"), bad)

	life := scope.NewLifetime()
	defer life.End()
	stream, err := api.ObserveTrips(context.Background(), life)
	require.NoError(t, err)
	u := waitTrips(t, stream, func(u carpool.TripsUpdate) bool { return u.Err != nil })
	assert.ErrorIs(t, u.Err, carpool.ErrMalformedData)
	assert.Empty(t, u.Trips)
}

func TestUserChildrenAcceptBothShapes(t *testing.T) {
	e := newEnv()
	api, ann := e.user(t, "Ann")
	e.set(t, schema.UserPath(ann.Key).Child(schema.ChildrenKey), map[string]interface{}{
		"c1": "Sam",
		"c2": map[string]interface{}{schema.NameKey: "Kim"},
	})

	user, err := api.FetchUser(context.Background(), ann.Key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.Child{{Key: "c1", Name: "Sam"}, {Key: "c2", Name: "Kim"}}, user.Children)
}
