package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/hwstreams/config"
	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/metric"
	"github.com/c360/hwstreams/pkg/queue"
	"github.com/c360/hwstreams/types"
)

// Subscriber receives state transitions from the broker and tracks the
// current state. The current state only updates for transitions whose
// target state has been registered; unknown targets still flow through
// Transitions so callers can observe them.
type Subscriber struct {
	conn     Conn
	cfg      *config.Config
	ownsConn bool
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu         sync.Mutex
	subscribed bool
	current    *EnvironmentalState
	states     map[types.StateID]EnvironmentalState

	pending     *queue.Queue[StateTransition]
	transitions chan StateTransition
	pumpDone    chan struct{}
	cancelPump  context.CancelFunc
}

// SubscriberOption configures a Subscriber
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the logger
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = logger }
}

// WithSubscriberMetrics wires state change counters
func WithSubscriberMetrics(m *metric.Metrics) SubscriberOption {
	return func(s *Subscriber) { s.metrics = m }
}

// SubscriberOwnsConnection makes Stop close the connection
func SubscriberOwnsConnection() SubscriberOption {
	return func(s *Subscriber) { s.ownsConn = true }
}

// NewSubscriber creates a state subscriber over an established connection
func NewSubscriber(conn Conn, cfg *config.Config, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		conn:   conn,
		cfg:    cfg,
		logger: slog.Default().With("component", "state.subscriber"),
		states: make(map[types.StateID]EnvironmentalState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterState records a state definition so transitions into it can
// update the current state
func (s *Subscriber) RegisterState(st EnvironmentalState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.StateID] = st
}

// Subscribe starts consuming state transitions. It is an error to call
// it twice without an intervening Unsubscribe.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	if !s.conn.IsHealthy() {
		return errors.ErrNotConnected
	}

	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		return errors.ErrAlreadySubscribed
	}
	s.subscribed = true
	s.pending = queue.New[StateTransition]()
	s.transitions = make(chan StateTransition)
	s.pumpDone = make(chan struct{})
	s.mu.Unlock()

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancelPump = cancel
	go s.pump(pumpCtx)

	err := s.conn.ConsumeStream(ctx, s.cfg.StreamName, s.cfg.StateSubject(), s.handleMessage)
	if err != nil {
		cancel()
		<-s.pumpDone
		s.mu.Lock()
		s.subscribed = false
		s.mu.Unlock()
		return errors.WrapTransient(err, "Subscriber", "Subscribe", "consume state subject")
	}

	s.logger.Info("subscribed to state transitions", "subject", s.cfg.StateSubject())
	return nil
}

// handleMessage runs on the broker callback. It never blocks: parsed
// transitions go into the unbounded pending queue for the pump
// goroutine to deliver.
func (s *Subscriber) handleMessage(data []byte) {
	transition, err := TransitionFromBytes(data)
	if err != nil {
		s.logger.Warn("dropping malformed state transition", "error", err)
		return
	}

	s.mu.Lock()
	if st, ok := s.states[transition.ToState]; ok {
		stateCopy := st
		s.current = &stateCopy
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.StateChanges.Inc()
	}

	s.pending.Push(transition)
	s.logger.Debug("received state transition", "to", transition.ToState)
}

// pump moves transitions from the pending queue onto the delivery
// channel until the queue closes or the context is cancelled. It is the
// only sender on the channel and closes it on exit, so a consumer
// ranging over Transitions() unblocks when Unsubscribe tears down.
func (s *Subscriber) pump(ctx context.Context) {
	out := s.transitions
	defer close(s.pumpDone)
	defer close(out)
	for {
		transition, ok := s.pending.Pop(ctx)
		if !ok {
			return
		}
		select {
		case out <- transition:
		case <-ctx.Done():
			return
		}
	}
}

// Transitions returns the channel of received state transitions. The
// channel is created by Subscribe and closed by Unsubscribe.
func (s *Subscriber) Transitions() <-chan StateTransition {
	return s.transitions
}

// CurrentState returns the current state. It returns ErrNoState until a
// transition into a registered state has been received.
func (s *Subscriber) CurrentState() (EnvironmentalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return EnvironmentalState{}, errors.ErrNoState
	}
	return *s.current, nil
}

// Unsubscribe stops the consumer and the delivery pump. Safe to call
// when not subscribed.
func (s *Subscriber) Unsubscribe() {
	s.mu.Lock()
	if !s.subscribed {
		s.mu.Unlock()
		return
	}
	s.subscribed = false
	s.mu.Unlock()

	s.conn.StopConsumer(s.cfg.StreamName, s.cfg.StateSubject())
	s.pending.Close()
	s.cancelPump()
	<-s.pumpDone
}

// Stop unsubscribes and closes the connection when the subscriber owns it
func (s *Subscriber) Stop(ctx context.Context) error {
	s.Unsubscribe()
	if s.ownsConn {
		return s.conn.Close(ctx)
	}
	return nil
}
