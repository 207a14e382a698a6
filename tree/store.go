package tree

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Store defines the methods necessary for interacting with the remote tree. Implementations
// live in the memtree, firestoretree and rtdbtree packages; tests inject memtree.
//
// Writes return once the backend has acknowledged them. Callers that want fire-and-forget
// semantics run them in a goroutine; ordering across independent writes is last write wins.
type Store interface {
	// Get is a one-shot read of the subtree at path. An absent node is not an error.
	Get(ctx context.Context, path Path) (Node, error)

	// Observe delivers the full subtree at path now and after every change until the
	// subscription is closed or ctx ends.
	Observe(ctx context.Context, path Path) (*Subscription, error)

	// Set replaces the value at path. A nil value removes it.
	Set(ctx context.Context, path Path, value interface{}) error

	// Update replaces each named child of path, leaving the other children alone.
	Update(ctx context.Context, path Path, fields map[string]interface{}) error

	// Remove deletes the subtree at path. Removing an absent node succeeds.
	Remove(ctx context.Context, path Path) error
}

var (
	keyMu      sync.Mutex
	keyEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewKey generates a child key that sorts by creation time, in the spirit of push ids.
func NewKey() string {
	keyMu.Lock()
	defer keyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), keyEntropy).String()
}
