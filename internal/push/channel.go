package push

import (
	"errors"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const channelBufferSize = 16

var (
	// ErrChannelClosed indicates a send against a channel whose consumer is gone.
	ErrChannelClosed = errors.New("push: channel closed")
	// ErrChannelFull indicates the channel's buffer is exhausted because the
	// consumer is not draining it.
	ErrChannelFull = errors.New("push: channel buffer full")
)

// Channel is the ephemeral per-connection handle held by the registry. It is
// tagged with the principal it belongs to and lives exactly as long as the
// underlying push connection; nothing about it is persisted.
type Channel struct {
	id          string
	principalID string

	mu     sync.Mutex
	events chan Event
	closed bool
}

// NewChannel allocates a channel for one open connection of the principal.
func NewChannel(principalID string) (*Channel, error) {
	suffix, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("push: generate channel id: %w", err)
	}
	return &Channel{
		id:          "chan-" + suffix,
		principalID: principalID,
		events:      make(chan Event, channelBufferSize),
	}, nil
}

// ID returns the channel identifier.
func (c *Channel) ID() string {
	return c.id
}

// PrincipalID returns the principal the channel delivers to.
func (c *Channel) PrincipalID() string {
	return c.principalID
}

// Events exposes the receive side consumed by the stream writer.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// TrySend enqueues the event without blocking. A closed channel or a full
// buffer is reported as an error so the registry can drop just this channel
// and keep the rest of a fan-out alive.
func (c *Channel) TrySend(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.events <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// Close marks the channel dead and releases its consumer. Safe to call more
// than once; a pulse ticker racing a disconnect may both reach cleanup.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}
