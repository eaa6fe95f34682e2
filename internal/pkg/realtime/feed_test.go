package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvCue(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a change cue")
	}
}

func TestMemoryFeedFanout(t *testing.T) {
	feed := NewMemoryFeed()

	a, cancelA := feed.Subscribe()
	b, cancelB := feed.Subscribe()
	defer cancelA()
	defer cancelB()

	require.Equal(t, 2, feed.SubscriberCount())
	require.NoError(t, feed.Publish(context.Background()))

	recvCue(t, a)
	recvCue(t, b)
}

func TestMemoryFeedCoalescesCues(t *testing.T) {
	feed := NewMemoryFeed()
	ch, cancel := feed.Subscribe()
	defer cancel()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, feed.Publish(ctx))
	}

	// A burst of publishes collapses into a single pending cue.
	recvCue(t, ch)
	select {
	case <-ch:
		t.Fatal("cues must coalesce, not queue")
	case <-time.After(50 * time.Millisecond):
	}

	// The next publish is delivered again.
	require.NoError(t, feed.Publish(ctx))
	recvCue(t, ch)
}

func TestMemoryFeedCancel(t *testing.T) {
	feed := NewMemoryFeed()

	ch, cancel := feed.Subscribe()
	_, cancelOther := feed.Subscribe()
	defer cancelOther()

	cancel()
	assert.Equal(t, 1, feed.SubscriberCount())

	// The canceled channel is closed, not leaked.
	_, open := <-ch
	assert.False(t, open)

	// Cancel is idempotent.
	cancel()
	assert.Equal(t, 1, feed.SubscriberCount())

	// Publishing after a cancel reaches the remaining subscriber only.
	require.NoError(t, feed.Publish(context.Background()))
}

func TestMemoryFeedPublishWithoutSubscribers(t *testing.T) {
	feed := NewMemoryFeed()
	assert.NoError(t, feed.Publish(context.Background()))
}
