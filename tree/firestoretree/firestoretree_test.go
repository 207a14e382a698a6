package firestoretree

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpool/testutil"
	"carpool/tree"
)

func TestPrune(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{name: "scalar", in: "x", want: "x"},
		{name: "empty object", in: map[string]interface{}{}, want: nil},
		{name: "nested empties", in: map[string]interface{}{"a": map[string]interface{}{"b": map[string]interface{}{}}}, want: nil},
		{name: "keeps values", in: map[string]interface{}{"a": 1, "b": map[string]interface{}{}}, want: map[string]interface{}{"a": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prune(tt.in))
		})
	}
}

func TestFieldValue(t *testing.T) {
	data := map[string]interface{}{
		"name": "Ann",
		"friends": map[string]interface{}{
			"u2": "Bob",
		},
	}
	assert.Equal(t, data, fieldValue(data, nil))
	assert.Equal(t, "Ann", fieldValue(data, firestore.FieldPath{"name"}))
	assert.Equal(t, "Bob", fieldValue(data, firestore.FieldPath{"friends", "u2"}))
	assert.Nil(t, fieldValue(data, firestore.FieldPath{"name", "first"}))
	assert.Nil(t, fieldValue(data, firestore.FieldPath{"children"}))
}

func TestNest(t *testing.T) {
	got := nest(firestore.FieldPath{"trips", "t1"}, true)
	assert.Equal(t, map[string]interface{}{"trips": map[string]interface{}{"t1": true}}, got)

	merge(got, firestore.FieldPath{"trips", "t2"}, true)
	merge(got, firestore.FieldPath{"name"}, "Ann")
	assert.Equal(t, map[string]interface{}{
		"trips": map[string]interface{}{"t1": true, "t2": true},
		"name":  "Ann",
	}, got)
}

func TestRootIsNotAddressable(t *testing.T) {
	_, err := New(nil).Get(context.Background(), tree.P())
	assert.Error(t, err)
	assert.Nil(t, collectionValue(nil))
}

func TestStoreAgainstEmulator(t *testing.T) {
	ctx := context.Background()
	s := New(testutil.NewFirestoreTestClient(ctx, t))
	coll := testutil.UniqueName("users")

	require.NoError(t, s.Set(ctx, tree.P(coll, "u1"), map[string]interface{}{"name": "Ann", "ctime": 5.0}))
	require.NoError(t, s.Set(ctx, tree.P(coll, "u1", "friends", "u2"), "Bob"))

	n, err := s.Get(ctx, tree.P(coll, "u1", "friends"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, n.Keys())

	n, err = s.Get(ctx, tree.P(coll, "u1", "name"))
	require.NoError(t, err)
	name, err := n.String()
	require.NoError(t, err)
	assert.Equal(t, "Ann", name)

	require.NoError(t, s.Update(ctx, tree.P(coll, "u1"), map[string]interface{}{"name": nil, "ctime": 6.0}))
	n, err = s.Get(ctx, tree.P(coll, "u1", "name"))
	require.NoError(t, err)
	assert.False(t, n.Exists())

	n, err = s.Get(ctx, tree.P(coll))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, n.Keys())

	require.NoError(t, s.Remove(ctx, tree.P(coll, "u1", "friends", "u2")))
	n, err = s.Get(ctx, tree.P(coll, "u1", "friends"))
	require.NoError(t, err)
	assert.False(t, n.Exists(), "an emptied object does not exist")

	require.NoError(t, s.Remove(ctx, tree.P(coll)))
	n, err = s.Get(ctx, tree.P(coll, "u1"))
	require.NoError(t, err)
	assert.False(t, n.Exists())
}

func TestObserveAgainstEmulator(t *testing.T) {
	ctx := context.Background()
	s := New(testutil.NewFirestoreTestClient(ctx, t))
	path := tree.P(testutil.UniqueName("trips"), "t1", "pickUp")

	sub, err := s.Observe(ctx, path)
	require.NoError(t, err)
	defer sub.Close()

	next := func() tree.Node {
		select {
		case n := <-sub.Updates():
			return n
		case <-time.After(5 * time.Second):
			t.Fatal("no snapshot")
			return tree.Node{}
		}
	}
	assert.False(t, next().Exists())

	require.NoError(t, s.Set(ctx, path, map[string]interface{}{"u1": "Ann"}))
	n := next()
	for !n.Exists() {
		n = next()
	}
	assert.Equal(t, []string{"u1"}, n.Keys())

	sub.Close()
	for range sub.Updates() {
	}
	assert.NoError(t, sub.Err())
}
