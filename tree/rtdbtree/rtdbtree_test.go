package rtdbtree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"carpool/tree"
)

func TestOptions(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		interval   time.Duration
		maxElapsed time.Duration
	}{
		{name: "defaults", interval: defaultPollInterval, maxElapsed: defaultPollMaxElapsed},
		{name: "overrides", opts: []Option{WithPollInterval(time.Second), WithPollMaxElapsed(time.Minute)}, interval: time.Second, maxElapsed: time.Minute},
		{name: "ignores non-positive", opts: []Option{WithPollInterval(0), WithPollMaxElapsed(-time.Second)}, interval: defaultPollInterval, maxElapsed: defaultPollMaxElapsed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil, tt.opts...)
			assert.Equal(t, tt.interval, s.pollInterval)
			assert.Equal(t, tt.maxElapsed, s.pollMaxElapsed)
		})
	}
}

func TestInvalidPathsAreRejectedBeforeAnyCall(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	bad := tree.P("users", "a/b")

	_, err := s.Get(ctx, bad)
	assert.Error(t, err)
	assert.Error(t, s.Set(ctx, bad, "x"))
	assert.Error(t, s.Remove(ctx, bad))
	assert.Error(t, s.Update(ctx, tree.P("users"), nil))
	_, err = s.Observe(ctx, bad)
	assert.Error(t, err)
}
