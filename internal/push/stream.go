package push

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPulseInterval spaces the liveness pings that keep intermediary
// network equipment from timing out an idle push connection.
const DefaultPulseInterval = 25 * time.Second

// StreamState names the lifecycle phase of one push connection.
type StreamState string

const (
	// StreamOpening covers registration and the handshake write.
	StreamOpening StreamState = "opening"
	// StreamOpen is the steady state: forwarding events and pulsing.
	StreamOpen StreamState = "open"
	// StreamClosed is terminal; the channel is unregistered and released.
	StreamClosed StreamState = "closed"
)

// StreamSink writes one event to the underlying connection. The HTTP layer
// implements it over the response writer with SSE framing.
type StreamSink interface {
	WriteEvent(event Event) error
}

// StreamConnConfig describes one connection's dependencies.
type StreamConnConfig struct {
	Registry      *Registry
	Channel       *Channel
	PulseInterval time.Duration
	Logger        *zap.Logger
}

// StreamConn drives a single push connection through Opening, Open, Closed.
// Every exit path, whether a failed write, a client disconnect, or a server
// stop, funnels through the same cleanup: the pulse stops, the channel is
// unregistered (idempotently) and closed, and the connection is released.
// Missed events are never buffered; a reconnecting client re-fetches state.
type StreamConn struct {
	registry *Registry
	channel  *Channel
	pulse    time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	state StreamState
}

// NewStreamConn constructs the state machine for one connection.
func NewStreamConn(cfg StreamConnConfig) *StreamConn {
	pulse := cfg.PulseInterval
	if pulse <= 0 {
		pulse = DefaultPulseInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamConn{
		registry: cfg.Registry,
		channel:  cfg.Channel,
		pulse:    pulse,
		logger:   logger,
		state:    StreamOpening,
	}
}

// State reports the connection's current lifecycle phase.
func (s *StreamConn) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StreamConn) setState(state StreamState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run registers the channel, writes the handshake, and pumps events and
// liveness pulses into the sink until the connection ends. It blocks for the
// lifetime of the connection and always leaves the registry clean.
func (s *StreamConn) Run(ctx context.Context, sink StreamSink) error {
	principalID := s.channel.PrincipalID()
	channelID := s.channel.ID()

	s.registry.Register(principalID, s.channel)
	defer func() {
		s.setState(StreamClosed)
		s.registry.Unregister(principalID, channelID)
		s.channel.Close()
	}()

	if err := sink.WriteEvent(NewConnectedEvent(channelID)); err != nil {
		s.logger.Info("push stream handshake write failed",
			zap.String("channel_id", channelID),
			zap.Error(err))
		return err
	}
	s.setState(StreamOpen)

	pulseTicker := time.NewTicker(s.pulse)
	defer pulseTicker.Stop()

	for {
		select {
		case event, ok := <-s.channel.Events():
			if !ok {
				// Channel closed underneath us (registry dropped it).
				return nil
			}
			if err := sink.WriteEvent(event); err != nil {
				s.logger.Info("push stream event write failed",
					zap.String("channel_id", channelID),
					zap.Error(err))
				return err
			}
		case <-pulseTicker.C:
			if err := sink.WriteEvent(NewPingEvent()); err != nil {
				s.logger.Info("push stream pulse write failed",
					zap.String("channel_id", channelID),
					zap.Error(err))
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
