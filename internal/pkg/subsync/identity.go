package subsync

import "sync"

// IdentitySource is a manually driven IdentityFeed. Set publishes a
// transition to every subscriber; Subscribe delivers the latest known
// identity first, so a syncer starting after sign-in still fetches.
type IdentitySource struct {
	mu      sync.Mutex
	current Identity
	seen    bool
	subs    map[int]chan Identity
	next    int
}

// NewIdentitySource creates an empty identity source. Until Set is called,
// subscribers receive nothing.
func NewIdentitySource() *IdentitySource {
	return &IdentitySource{subs: make(map[int]chan Identity)}
}

// Set records the new identity and notifies subscribers.
func (f *IdentitySource) Set(id Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = id
	f.seen = true
	for _, ch := range f.subs {
		// Drop the oldest queued transition when a subscriber lags; the
		// latest identity is the only one that matters.
		for {
			select {
			case ch <- id:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe implements IdentityFeed.
func (f *IdentitySource) Subscribe() (<-chan Identity, func()) {
	f.mu.Lock()
	ch := make(chan Identity, 4)
	key := f.next
	f.next++
	f.subs[key] = ch
	if f.seen {
		ch <- f.current
	}
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

// StaticIdentity returns a feed for a fixed, already signed-in user. Used
// by per-connection consumers whose identity cannot change mid-session.
func StaticIdentity(userID uint) IdentityFeed {
	src := NewIdentitySource()
	src.Set(Identity{UserID: userID, Valid: true})
	return src
}
