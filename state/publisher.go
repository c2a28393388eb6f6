package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/hwstreams/config"
	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/types"
)

// Conn is the broker surface the state package needs. *natsclient.Client
// satisfies it.
type Conn interface {
	IsHealthy() bool
	EnsureStream(ctx context.Context, name string, subjects ...string) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
	ConsumeStream(ctx context.Context, streamName, subject string, handler func([]byte)) error
	StopConsumer(streamName, subject string)
	Close(ctx context.Context) error
}

// Publisher broadcasts environmental state transitions. It holds the
// authoritative current state for its process; each SetState publishes
// a transition from the previous current state.
type Publisher struct {
	conn     Conn
	cfg      *config.Config
	ownsConn bool
	logger   *slog.Logger

	mu      sync.Mutex
	current *EnvironmentalState
	states  map[types.StateID]EnvironmentalState
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

// PublisherOwnsConnection makes Stop close the connection
func PublisherOwnsConnection() PublisherOption {
	return func(p *Publisher) { p.ownsConn = true }
}

// NewPublisher creates a state publisher over an established connection
func NewPublisher(conn Conn, cfg *config.Config, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		conn:   conn,
		cfg:    cfg,
		logger: slog.Default().With("component", "state.publisher"),
		states: make(map[types.StateID]EnvironmentalState),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start ensures the telemetry stream covers the state subject
func (p *Publisher) Start(ctx context.Context) error {
	if !p.conn.IsHealthy() {
		return errors.ErrNotConnected
	}
	if err := p.conn.EnsureStream(ctx, p.cfg.StreamName, p.cfg.StreamWildcard()); err != nil {
		return errors.WrapTransient(err, "Publisher", "Start", "ensure stream")
	}
	return nil
}

// RegisterState records a state definition for lookup by id
func (p *Publisher) RegisterState(s EnvironmentalState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[s.StateID] = s
}

// State returns a registered state definition by id
func (p *Publisher) State(id types.StateID) (EnvironmentalState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[id]
	return s, ok
}

// SetState transitions to a new environmental state and broadcasts the
// transition. The current state only advances when the publish
// succeeds, so a failed broadcast can be retried without fabricating an
// intermediate transition.
func (p *Publisher) SetState(ctx context.Context, s EnvironmentalState, reason string) error {
	if !p.conn.IsHealthy() {
		return errors.ErrNotConnected
	}

	p.mu.Lock()
	var from *types.StateID
	if p.current != nil {
		id := p.current.StateID
		from = &id
	}
	p.mu.Unlock()

	transition := StateTransition{
		FromState: from,
		ToState:   s.StateID,
		Timestamp: types.Now(),
		Reason:    reason,
	}

	data, err := transition.ToBytes()
	if err != nil {
		return err
	}

	if err := p.conn.PublishToStream(ctx, p.cfg.StateSubject(), data); err != nil {
		return errors.WrapTransient(err, "Publisher", "SetState", "publish transition")
	}

	p.mu.Lock()
	stateCopy := s
	p.current = &stateCopy
	p.states[s.StateID] = s
	p.mu.Unlock()

	fromStr := "<none>"
	if from != nil {
		fromStr = string(*from)
	}
	p.logger.Info("state transition",
		"from", fromStr,
		"to", s.StateID,
		"reason", reason)

	return nil
}

// CurrentState returns the current state. It returns ErrNoState before
// the first successful SetState.
func (p *Publisher) CurrentState() (EnvironmentalState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return EnvironmentalState{}, errors.ErrNoState
	}
	return *p.current, nil
}

// Stop closes the connection when the publisher owns it
func (p *Publisher) Stop(ctx context.Context) error {
	if p.ownsConn {
		return p.conn.Close(ctx)
	}
	return nil
}
