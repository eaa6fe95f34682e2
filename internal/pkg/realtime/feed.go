// Package realtime carries the "subscription data changed" push channel:
// a store-level change feed between the webhook ingestor (the writer) and
// every open sync session (the readers), plus the websocket hub that relays
// entitlement updates to connected clients.
//
// Feed delivery is at-least-once and unordered, and cues carry no payload.
// The feed is deliberately not filtered by user: recipients treat every cue
// as an invalidation signal and re-fetch their own record.
package realtime

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Feed is the change-notification channel over the subscription table.
type Feed interface {
	Publish(ctx context.Context) error
	Subscribe() (<-chan struct{}, func())
}

// fanout is the shared subscriber bookkeeping for both feed flavors.
type fanout struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int]chan struct{})}
}

func (f *fanout) subscribe() (<-chan struct{}, func()) {
	f.mu.Lock()
	ch := make(chan struct{}, 1)
	key := f.next
	f.next++
	f.subs[key] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[key]; ok {
			delete(f.subs, key)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// notify delivers one cue per subscriber. A cue already pending for a
// subscriber is sufficient; cues coalesce, they don't queue.
func (f *fanout) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (f *fanout) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// MemoryFeed is an in-process Feed for single-node deployments and tests.
type MemoryFeed struct {
	*fanout
}

// NewMemoryFeed creates an in-process change feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{fanout: newFanout()}
}

func (m *MemoryFeed) Publish(ctx context.Context) error {
	_ = ctx
	m.notify()
	return nil
}

func (m *MemoryFeed) Subscribe() (<-chan struct{}, func()) {
	return m.subscribe()
}

// SubscriberCount reports active subscriptions (used by tests to verify
// teardown releases listeners).
func (m *MemoryFeed) SubscriberCount() int {
	return m.len()
}

const changeChannel = "subscriptions.changed"

// RedisFeed is a Feed over Redis Pub/Sub, so webhook ingestion on one node
// reaches sync sessions on every node.
type RedisFeed struct {
	*fanout
	client *redis.Client
	pubsub *redis.PubSub
	once   sync.Once
}

// NewRedisFeed creates a Redis-backed change feed and starts its receive
// loop. Close releases the underlying Pub/Sub connection.
func NewRedisFeed(client *redis.Client) *RedisFeed {
	f := &RedisFeed{
		fanout: newFanout(),
		client: client,
	}
	f.once.Do(func() {
		f.pubsub = client.Subscribe(context.Background(), changeChannel)
		go f.receive()
	})
	return f
}

func (f *RedisFeed) Publish(ctx context.Context) error {
	return f.client.Publish(ctx, changeChannel, "1").Err()
}

func (f *RedisFeed) Subscribe() (<-chan struct{}, func()) {
	return f.subscribe()
}

// Close stops the receive loop and the Pub/Sub connection.
func (f *RedisFeed) Close() error {
	return f.pubsub.Close()
}

func (f *RedisFeed) receive() {
	for range f.pubsub.Channel() {
		f.notify()
	}
	log.Printf("realtime: redis change feed closed")
}
