package push

import (
	"errors"
	"sync"
)

// Registry maps principal ids to their currently open push channels. It is
// an injectable component constructed fresh per server (and per test), never
// a process-wide singleton; its state is rebuilt from zero on restart because
// clients re-subscribe.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Channel
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[string]*Channel),
	}
}

// Register adds the channel to the principal's bucket.
func (r *Registry) Register(principalID string, ch *Channel) {
	if principalID == "" || ch == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.channels[principalID]
	if !ok {
		bucket = make(map[string]*Channel)
		r.channels[principalID] = bucket
	}
	bucket[ch.ID()] = ch
}

// Unregister removes the channel from the principal's bucket. Removing a
// channel that is already gone is a no-op, not an error: disconnect detection
// and a failed pulse write may both trigger cleanup for the same channel.
func (r *Registry) Unregister(principalID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.channels[principalID]
	if bucket == nil {
		return
	}
	delete(bucket, channelID)
	if len(bucket) == 0 {
		delete(r.channels, principalID)
	}
}

// Send delivers the event to every channel currently open for the principal.
// A failure on one channel (closed or backed up) removes only that channel
// and delivery continues to the rest. Zero open channels is a silent no-op;
// the client's fallback poll covers that case.
func (r *Registry) Send(principalID string, event Event) {
	r.mu.RLock()
	bucket := r.channels[principalID]
	if len(bucket) == 0 {
		r.mu.RUnlock()
		return
	}
	snapshot := make([]*Channel, 0, len(bucket))
	for _, ch := range bucket {
		snapshot = append(snapshot, ch)
	}
	r.mu.RUnlock()

	for _, ch := range snapshot {
		if err := ch.TrySend(event); err != nil {
			if errors.Is(err, ErrChannelClosed) || errors.Is(err, ErrChannelFull) {
				ch.Close()
				r.Unregister(principalID, ch.ID())
			}
		}
	}
}

// ChannelCount reports how many channels the principal currently has open.
func (r *Registry) ChannelCount(principalID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[principalID])
}

// CloseAll closes and drops every registered channel. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for principalID, bucket := range r.channels {
		for _, ch := range bucket {
			ch.Close()
		}
		delete(r.channels, principalID)
	}
}
