// Package testutil holds helpers shared by tests that need a real backend.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
)

// EmulatorHostEnv is read by the Firestore client to route traffic to a local emulator.
const EmulatorHostEnv = "FIRESTORE_EMULATOR_HOST"

var collectionSeq uint64

// NewFirestoreTestClient creates a new client for testing. It requires a local Firestore
// emulator; the test is skipped when FIRESTORE_EMULATOR_HOST is unset.
func NewFirestoreTestClient(ctx context.Context, t testing.TB) *firestore.Client {
	t.Helper()
	if os.Getenv(EmulatorHostEnv) == "" {
		t.Skipf("%s not set", EmulatorHostEnv)
	}
	client, err := firestore.NewClient(ctx, "test")
	if err != nil {
		t.Fatalf("firestore.NewClient err: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// UniqueName returns a collection or document name no other test in the run uses, so tests
// against a shared emulator do not see each other's data.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), atomic.AddUint64(&collectionSeq, 1))
}
