package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiptDeliveredAndReadSets(t *testing.T) {
	r := NewReceiptTracker(time.Hour)
	ctx := context.Background()

	require.NoError(t, r.MarkDelivered(ctx, "rc-m1", "bob"))
	require.NoError(t, r.MarkDelivered(ctx, "rc-m1", "carol"))
	require.NoError(t, r.MarkRead(ctx, "rc-m1", "bob"))

	status, err := r.StatusOf(ctx, "rc-m1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, status.Delivered)
	assert.ElementsMatch(t, []string{"bob"}, status.Read)
}

func TestReceiptMarkReadIdempotent(t *testing.T) {
	r := NewReceiptTracker(time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.MarkRead(ctx, "rc-m2", "bob"))
	}

	status, err := r.StatusOf(ctx, "rc-m2")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, status.Read)
}

func TestReceiptUnknownMessageEmpty(t *testing.T) {
	r := NewReceiptTracker(time.Hour)

	status, err := r.StatusOf(context.Background(), "rc-nope")
	require.NoError(t, err)
	assert.Empty(t, status.Delivered)
	assert.Empty(t, status.Read)
}

func TestReceiptSetsExpire(t *testing.T) {
	r := NewReceiptTracker(time.Minute)
	ctx := context.Background()

	require.NoError(t, r.MarkDelivered(ctx, "rc-m3", "bob"))
	mr.FastForward(2 * time.Minute)

	status, err := r.StatusOf(ctx, "rc-m3")
	require.NoError(t, err)
	assert.Empty(t, status.Delivered)
}
