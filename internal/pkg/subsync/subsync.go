// Package subsync maintains a live, eventually-consistent projection of one
// identity's entitlement. The projection is kept current across three
// independent triggers: explicit refreshes, identity sign-in/sign-out
// transitions, and change cues from the subscription store's push feed.
//
// Concurrent fetches are ordered by a monotonic sequence number taken at
// initiation: a completion only publishes if no later-initiated fetch has
// published before it. Identity loss takes a sequence number of its own, so
// fetches that were in flight when the identity went away are discarded
// instead of resurrecting stale state.
package subsync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/regscout/regscout/internal/pkg/entitlements"
)

// Store answers entitlement queries for the syncer. The production
// implementation is the billing service; tests substitute fakes.
type Store interface {
	EntitlementForUser(ctx context.Context, userID uint) (entitlements.Entitlement, error)
}

// Identity is one point in the identity lifecycle. Valid is false on
// sign-out (no identifier available).
type Identity struct {
	UserID uint
	Valid  bool
}

// IdentityFeed delivers the current identity on subscribe, then every
// transition. The returned cancel func releases the subscription.
type IdentityFeed interface {
	Subscribe() (<-chan Identity, func())
}

// ChangeFeed delivers store-change cues. The cue carries no payload the
// syncer would trust; every cue triggers a full re-fetch.
type ChangeFeed interface {
	Subscribe() (<-chan struct{}, func())
}

const defaultFetchTimeout = 10 * time.Second

// Option configures a Syncer.
type Option func(*Syncer)

// WithFetchTimeout bounds each store fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// Syncer is one sync session. Create with New, drive with Start/Stop.
type Syncer struct {
	store        Store
	identities   IdentityFeed
	changes      ChangeFeed
	fetchTimeout time.Duration

	mu       sync.Mutex
	seq      uint64
	applied  uint64
	ent      entitlements.Entitlement
	loading  bool
	identity Identity
	updates  chan entitlements.Entitlement

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a syncer with the safe default entitlement and loading set
// until the first fetch settles.
func New(store Store, identities IdentityFeed, changes ChangeFeed, opts ...Option) *Syncer {
	s := &Syncer{
		store:        store,
		identities:   identities,
		changes:      changes,
		fetchTimeout: defaultFetchTimeout,
		ent:          entitlements.None,
		loading:      true,
		updates:      make(chan entitlements.Entitlement, 16),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current projection and whether the first fetch is
// still outstanding.
func (s *Syncer) Snapshot() (entitlements.Entitlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ent, s.loading
}

// Updates returns the published projection stream. The channel is buffered;
// when a slow consumer falls behind, the oldest value is dropped so the
// newest is always deliverable.
func (s *Syncer) Updates() <-chan entitlements.Entitlement {
	return s.updates
}

// Start subscribes to both feeds and begins syncing. Safe to call once.
func (s *Syncer) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.run(ctx)
	})
}

// Stop tears the session down: cancels in-flight fetches and releases every
// feed subscription. Teardown claims a sequence number of its own, the same
// way identity loss does, so completions arriving after Stop lose the
// ordering check and are never applied or published.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		s.retire()
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

// retire claims a sequence number without publishing, invalidating every
// fetch initiated before it.
func (s *Syncer) retire() {
	s.mu.Lock()
	s.seq++
	s.applied = s.seq
	s.mu.Unlock()
}

// Refresh fetches the authoritative record now and returns the resulting
// projection. It fails soft: a store error logs and resolves to the safe
// default rather than propagating. Without a valid identity it returns the
// default immediately.
func (s *Syncer) Refresh(ctx context.Context) entitlements.Entitlement {
	s.mu.Lock()
	id := s.identity
	s.mu.Unlock()
	if !id.Valid {
		return entitlements.None
	}

	s.fetch(ctx, id, s.nextSeq())

	ent, _ := s.Snapshot()
	return ent
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.done)

	idCh, stopIdentities := s.identities.Subscribe()
	defer stopIdentities()

	var changeCh <-chan struct{}
	var stopChanges func()
	releaseFeed := func() {
		if stopChanges != nil {
			stopChanges()
			stopChanges = nil
			changeCh = nil
		}
	}
	defer releaseFeed()

	for {
		select {
		case <-ctx.Done():
			return

		case id, ok := <-idCh:
			if !ok {
				return
			}
			if id.Valid {
				s.setIdentity(id)
				if changeCh == nil {
					changeCh, stopChanges = s.changes.Subscribe()
				}
				go s.fetch(ctx, id, s.nextSeq())
			} else {
				s.identityLost()
				releaseFeed()
			}

		case _, ok := <-changeCh:
			if !ok {
				changeCh = nil
				continue
			}
			// Cache-invalidation cue only: never trust the push payload,
			// always re-derive from a fresh fetch.
			s.mu.Lock()
			id := s.identity
			s.mu.Unlock()
			if id.Valid {
				go s.fetch(ctx, id, s.nextSeq())
			}
		}
	}
}

func (s *Syncer) fetch(ctx context.Context, id Identity, seq uint64) {
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	ent, err := s.store.EntitlementForUser(fctx, id.UserID)
	if err != nil {
		// Deny by default: under-granting premium access beats over-granting.
		log.Printf("subsync: entitlement fetch failed for user %d: %v", id.UserID, err)
		ent = entitlements.None
	}
	s.apply(seq, ent)
}

// apply publishes ent unless a later-initiated fetch already published.
func (s *Syncer) apply(seq uint64, ent entitlements.Entitlement) bool {
	s.mu.Lock()
	if seq <= s.applied {
		s.mu.Unlock()
		return false
	}
	s.applied = seq
	s.ent = ent
	s.loading = false
	s.mu.Unlock()

	s.publish(ent)
	return true
}

func (s *Syncer) identityLost() {
	seq := s.nextSeq()
	s.mu.Lock()
	s.identity = Identity{}
	s.mu.Unlock()
	s.apply(seq, entitlements.None)
}

func (s *Syncer) setIdentity(id Identity) {
	s.mu.Lock()
	s.identity = id
	s.loading = true
	s.mu.Unlock()
}

func (s *Syncer) nextSeq() uint64 {
	s.mu.Lock()
	s.seq++
	n := s.seq
	s.mu.Unlock()
	return n
}

func (s *Syncer) publish(ent entitlements.Entitlement) {
	for {
		select {
		case s.updates <- ent:
			return
		default:
			// Buffer full: drop the oldest queued value and retry.
			select {
			case <-s.updates:
			default:
			}
		}
	}
}
