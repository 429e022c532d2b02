package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnState is the controller's single authoritative view of the push
// connection.
type ConnState string

const (
	// StateDisconnected means no push connection exists and none is being
	// attempted; the fallback poll alone drives convergence.
	StateDisconnected ConnState = "disconnected"
	// StateConnecting means a subscription attempt is in flight.
	StateConnecting ConnState = "connecting"
	// StateConnected means the push stream is live.
	StateConnected ConnState = "connected"
	// StateReconnecting means the stream dropped and a retry is scheduled.
	StateReconnecting ConnState = "reconnecting"
)

const (
	// DefaultFallbackInterval spaces the safety-net polls that cover
	// environments where push delivery is blocked.
	DefaultFallbackInterval = 30 * time.Second
	// DefaultBackoffBase seeds the exponential reconnect delay.
	DefaultBackoffBase = time.Second
	// DefaultBackoffCap bounds the reconnect delay however many attempts
	// have failed.
	DefaultBackoffCap = time.Minute
	// DefaultMaxReconnectAttempts bounds automatic push retries; past the
	// cap the controller stops retrying and relies on the fallback poll.
	DefaultMaxReconnectAttempts = 6
)

// ControllerConfig describes a sync controller's dependencies and tuning.
type ControllerConfig struct {
	Client               *Client
	OnNotes              func([]Note)
	IncludeArchived      bool
	FallbackInterval     time.Duration
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	MaxReconnectAttempts int
	Logger               *zap.Logger
}

// Controller maintains a durable logical subscription for one principal: it
// owns the push connection, refreshes the note list on every change
// notification, reconnects with exponential backoff after failures, and runs
// a fixed-interval fallback poll whenever push is down. One goroutine owns
// the connection, so two simultaneous streams can never exist, and every
// timer derives from the controller context so Stop cancels them together.
type Controller struct {
	client          *Client
	onNotes         func([]Note)
	includeArchived bool
	fallback        time.Duration
	backoffBase     time.Duration
	backoffCap      time.Duration
	maxAttempts     int
	logger          *zap.Logger

	mu       sync.Mutex
	state    ConnState
	attempts int
	notes    []Note
	cancel   context.CancelFunc
	started  bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewController constructs a controller; Start begins synchronization.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Client == nil {
		return nil, errors.New("client: controller requires a client")
	}
	fallback := cfg.FallbackInterval
	if fallback <= 0 {
		fallback = DefaultFallbackInterval
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	backoffCap := cfg.BackoffCap
	if backoffCap <= 0 {
		backoffCap = DefaultBackoffCap
	}
	if backoffCap < backoffBase {
		backoffCap = backoffBase
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		client:          cfg.Client,
		onNotes:         cfg.OnNotes,
		includeArchived: cfg.IncludeArchived,
		fallback:        fallback,
		backoffBase:     backoffBase,
		backoffCap:      backoffCap,
		maxAttempts:     maxAttempts,
		logger:          logger,
		state:           StateDisconnected,
		wake:            make(chan struct{}, 1),
	}, nil
}

// Start opens the logical subscription: the push loop and the fallback poll.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("client: controller already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	c.wg.Add(2)
	go c.runPushLoop(runCtx)
	go c.runFallbackPoll(runCtx)
	return nil
}

// Stop tears the subscription down: the push connection closes, every timer
// is cancelled, and the cached note state is cleared. Used on logout.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateDisconnected
	c.attempts = 0
	c.notes = nil
	c.started = false
	c.mu.Unlock()
}

// State reports the current push connection state.
func (c *Controller) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notes returns the most recently fetched note snapshot.
func (c *Controller) Notes() []Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]Note, len(c.notes))
	copy(snapshot, c.notes)
	return snapshot
}

// WakeUp is the hook for the host regaining foreground visibility or network
// connectivity: a closed push connection is retried immediately with a fresh
// backoff, and one manual refresh covers whatever was missed while away. A
// live connection needs no retry nudge, so no token is queued then; a stale
// token would skip the first backoff delay after a later drop.
func (c *Controller) WakeUp(ctx context.Context) {
	c.mu.Lock()
	c.attempts = 0
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
	c.refresh(ctx)
}

func (c *Controller) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// runPushLoop is the single owner of the push connection.
func (c *Controller) runPushLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateConnecting)
		stream, err := c.client.OpenStream(ctx)
		if err == nil {
			c.mu.Lock()
			c.state = StateConnected
			c.attempts = 0
			c.mu.Unlock()

			// A retry token queued before this connect is spent; the
			// next drop starts its backoff from the base interval.
			select {
			case <-c.wake:
			default:
			}

			// Cover the gap between the last known state and now.
			c.refresh(ctx)

			err = c.consume(ctx, stream)
			_ = stream.Close()
		}

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		if err != nil && !IsStreamEnd(err) {
			c.logger.Info("push stream interrupted", zap.Error(err))
		}

		if !c.waitBeforeRetry(ctx) {
			c.setState(StateDisconnected)
			return
		}
	}
}

// consume reads stream events until an error or cancellation. Each
// note_updated triggers a full refresh: with last-writer-wins semantics the
// client re-fetches rather than applying deltas.
func (c *Controller) consume(ctx context.Context, stream *Stream) error {
	for {
		event, err := stream.Next()
		if err != nil {
			return err
		}
		switch event.Kind {
		case EventNoteUpdated:
			c.refresh(ctx)
		case EventConnected, EventPing:
			// Liveness only.
		}
	}
}

// waitBeforeRetry schedules the next reconnect attempt. It returns false when
// the controller is shutting down. Past the attempt cap it parks until a
// WakeUp, leaving convergence to the fallback poll.
func (c *Controller) waitBeforeRetry(ctx context.Context) bool {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if attempt > c.maxAttempts {
		c.setState(StateDisconnected)
		select {
		case <-c.wake:
			return true
		case <-ctx.Done():
			return false
		}
	}

	c.setState(StateReconnecting)
	timer := time.NewTimer(c.backoffDelay(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.wake:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffDelay doubles from the base for each successive attempt, bounded by
// the cap.
func (c *Controller) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.backoffCap {
			return c.backoffCap
		}
	}
	return delay
}

// runFallbackPoll refreshes on a fixed interval whenever push is not live.
// A poll firing while a connection is being re-established may duplicate a
// refresh; reads are idempotent so the race is left alone.
func (c *Controller) runFallbackPoll(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.fallback)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.State() != StateConnected {
				c.refresh(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) refresh(ctx context.Context) {
	fetched, err := c.client.ListNotes(ctx, c.includeArchived)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("note refresh failed", zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	c.notes = fetched
	c.mu.Unlock()

	if c.onNotes != nil {
		c.onNotes(fetched)
	}
}
