package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/hwstreams/config"
	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/metric"
	"github.com/c360/hwstreams/state"
	"github.com/c360/hwstreams/stream"
	"github.com/c360/hwstreams/threshold"
	"github.com/c360/hwstreams/types"
	"github.com/c360/hwstreams/wire"
)

// Conn is the broker surface the monitor needs. *natsclient.Client
// satisfies it.
type Conn interface {
	IsHealthy() bool
	EnsureStream(ctx context.Context, name string, subjects ...string) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
	ConsumeStream(ctx context.Context, streamName, subject string, handler func([]byte)) error
	StopConsumer(streamName, subject string)
	Close(ctx context.Context) error
}

// TelemetryMonitor evaluates one source's telemetry against
// state-dependent thresholds. It follows the environmental state feed
// and the source's data feed concurrently; a batch is judged against
// whichever state is current when it is processed, so a batch in flight
// across a state change may be judged under either state.
type TelemetryMonitor struct {
	conn        Conn
	cfg         *config.Config
	monitorID   types.MonitorID
	sourceID    types.SourceID
	thresholds  map[types.StateID]threshold.StateThresholds
	ownsConn    bool
	onViolation func(MonitorResult)
	logger      *slog.Logger
	metrics     *metric.Metrics

	streamSub *stream.Subscriber
	stateSub  *state.Subscriber

	stateMu sync.Mutex
	current *state.EnvironmentalState

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a TelemetryMonitor
type Option func(*TelemetryMonitor)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *TelemetryMonitor) { m.logger = logger }
}

// WithMetrics wires evaluation and violation counters
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *TelemetryMonitor) { m.metrics = metrics }
}

// WithViolationHandler registers a callback invoked for every FAIL
// result, after the result has been published
func WithViolationHandler(fn func(MonitorResult)) Option {
	return func(m *TelemetryMonitor) { m.onViolation = fn }
}

// OwnsConnection makes Stop close the connection
func OwnsConnection() Option {
	return func(m *TelemetryMonitor) { m.ownsConn = true }
}

// New creates a monitor for one source with thresholds keyed by state
func New(
	conn Conn,
	cfg *config.Config,
	monitorID types.MonitorID,
	sourceID types.SourceID,
	thresholds map[types.StateID]threshold.StateThresholds,
	opts ...Option,
) *TelemetryMonitor {
	m := &TelemetryMonitor{
		conn:       conn,
		cfg:        cfg,
		monitorID:  monitorID,
		sourceID:   sourceID,
		thresholds: thresholds,
		logger:     slog.Default().With("component", "monitor", "monitor_id", monitorID),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MonitorID returns the monitor's identifier
func (m *TelemetryMonitor) MonitorID() types.MonitorID {
	return m.monitorID
}

// IsRunning reports whether the monitor loops are active
func (m *TelemetryMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Thresholds returns the thresholds for a state, if defined
func (m *TelemetryMonitor) Thresholds(stateID types.StateID) (threshold.StateThresholds, bool) {
	st, ok := m.thresholds[stateID]
	return st, ok
}

// States returns every state id with defined thresholds
func (m *TelemetryMonitor) States() []types.StateID {
	ids := make([]types.StateID, 0, len(m.thresholds))
	for id := range m.thresholds {
		ids = append(ids, id)
	}
	return ids
}

// CurrentState returns the state the monitor last observed, or false if
// none has been seen yet
func (m *TelemetryMonitor) CurrentState() (state.EnvironmentalState, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.current == nil {
		return state.EnvironmentalState{}, false
	}
	return *m.current, true
}

// Start subscribes to the source's telemetry and the state feed and
// launches the evaluation loops. Calling Start on a running monitor is
// a no-op.
func (m *TelemetryMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	if !m.conn.IsHealthy() {
		m.setStopped()
		return errors.ErrNotConnected
	}

	m.streamSub = stream.NewSubscriber(m.conn, m.cfg, m.sourceID,
		stream.WithSubscriberLogger(m.logger.With("component", "monitor.stream")),
		streamMetricsOption(m.metrics))
	m.stateSub = state.NewSubscriber(m.conn, m.cfg,
		state.WithSubscriberLogger(m.logger.With("component", "monitor.state")),
		stateMetricsOption(m.metrics))

	// Register a minimal state per threshold key so the subscriber can
	// track the current state without full definitions. Transition
	// states are deliberately not registered here; they arrive through
	// the transition feed.
	for stateID := range m.thresholds {
		m.stateSub.RegisterState(state.EnvironmentalState{
			StateID: stateID,
			Name:    string(stateID),
		})
	}

	if err := m.streamSub.Subscribe(ctx); err != nil {
		m.setStopped()
		return errors.WrapTransient(err, "TelemetryMonitor", "Start", "subscribe to stream")
	}
	if err := m.stateSub.Subscribe(ctx); err != nil {
		m.streamSub.Unsubscribe()
		m.setStopped()
		return errors.WrapTransient(err, "TelemetryMonitor", "Start", "subscribe to state")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(2)
	go m.stateLoop(loopCtx)
	go m.dataLoop(loopCtx)

	m.logger.Info("monitor started", "source", m.sourceID, "states", len(m.thresholds))
	return nil
}

func (m *TelemetryMonitor) setStopped() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// stateLoop tracks the current state from the transition feed. Only
// transitions into states with defined thresholds update the current
// state; anything else is observed and ignored.
func (m *TelemetryMonitor) stateLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case transition, ok := <-m.stateSub.Transitions():
			if !ok {
				return
			}
			if _, defined := m.thresholds[transition.ToState]; !defined {
				continue
			}
			m.stateMu.Lock()
			m.current = &state.EnvironmentalState{
				StateID: transition.ToState,
				Name:    string(transition.ToState),
			}
			m.stateMu.Unlock()
			m.logger.Info("state changed", "state", transition.ToState)
		}
	}
}

// dataLoop waits for the schema, then evaluates every data batch
func (m *TelemetryMonitor) dataLoop(ctx context.Context) {
	defer m.wg.Done()

	schema, err := m.streamSub.Schema(ctx)
	if err != nil {
		m.logger.Error("no schema received, monitor idle", "error", err)
		return
	}
	m.logger.Info("schema received", "schema_id", schema.SchemaID(), "fields", len(schema.Fields))

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-m.streamSub.Data():
			if !ok {
				return
			}
			m.processBatch(ctx, schema, batch)
		}
	}
}

// processBatch evaluates one data batch under the current state. A
// batch with no known state, or a state without thresholds, is skipped
// silently.
func (m *TelemetryMonitor) processBatch(ctx context.Context, schema *wire.StreamSchema, batch *wire.StreamData) {
	m.stateMu.Lock()
	current := m.current
	m.stateMu.Unlock()
	if current == nil {
		return
	}

	thresholds, ok := m.thresholds[current.StateID]
	if !ok {
		return
	}

	values := unpackValues(batch, schema)
	result := m.Evaluate(values, *current, thresholds)

	if m.metrics != nil {
		m.metrics.Evaluations.WithLabelValues(string(m.monitorID), string(result.Verdict)).Inc()
		for _, v := range result.Violations {
			m.metrics.Violations.WithLabelValues(string(m.monitorID), string(v.Channel)).Inc()
		}
	}

	m.publishResult(ctx, result)

	if result.Failed() && m.onViolation != nil {
		m.onViolation(result)
	}
}

// Evaluate judges a set of telemetry values against one state's
// thresholds. During a transition state the verdict is SKIP and no
// values are examined. Channels without a threshold entry are ignored.
func (m *TelemetryMonitor) Evaluate(
	values []types.TelemetryValue,
	st state.EnvironmentalState,
	thresholds threshold.StateThresholds,
) MonitorResult {
	if st.IsTransition {
		return MonitorResult{
			MonitorID: m.monitorID,
			Verdict:   VerdictSkip,
			Timestamp: types.Now(),
			StateID:   st.StateID,
			Message:   "Skipped during state transition",
		}
	}

	var violations []ThresholdViolation
	for _, value := range values {
		t, ok := thresholds.Get(value.Channel)
		if !ok {
			continue
		}
		if !t.Check(value.Value) {
			violations = append(violations, ThresholdViolation{
				Channel:   value.Channel,
				Value:     value.Value,
				Threshold: t,
				Message:   fmt.Sprintf("Value %v outside threshold bounds", value.Value),
			})
		}
	}

	if len(violations) > 0 {
		return MonitorResult{
			MonitorID:  m.monitorID,
			Verdict:    VerdictFail,
			Timestamp:  types.Now(),
			StateID:    st.StateID,
			Violations: violations,
			Message:    fmt.Sprintf("%d threshold violation(s)", len(violations)),
		}
	}

	return MonitorResult{
		MonitorID: m.monitorID,
		Verdict:   VerdictPass,
		Timestamp: types.Now(),
		StateID:   st.StateID,
	}
}

// publishResult publishes a result. Publish failures are logged, not
// fatal: the monitor keeps evaluating.
func (m *TelemetryMonitor) publishResult(ctx context.Context, result MonitorResult) {
	data, err := result.ToBytes()
	if err != nil {
		m.logger.Error("failed to encode result", "error", err)
		return
	}
	if err := m.conn.PublishToStream(ctx, m.cfg.ResultSubject(), data); err != nil {
		m.logger.Warn("failed to publish result", "error", err)
		return
	}
	m.logger.Debug("published result", "verdict", result.Verdict, "state", result.StateID)
}

// Stop halts the loops, unsubscribes, and closes the connection when
// the monitor owns it. Stopping a stopped monitor is a no-op.
func (m *TelemetryMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.streamSub.Unsubscribe()
	m.stateSub.Unsubscribe()

	if m.ownsConn {
		if err := m.conn.Close(ctx); err != nil {
			return errors.Wrap(err, "TelemetryMonitor", "Stop", "close connection")
		}
	}

	m.logger.Info("monitor stopped")
	return nil
}

// unpackValues flattens a data batch into per-channel telemetry values
// with each sample's reconstructed timestamp
func unpackValues(batch *wire.StreamData, schema *wire.StreamSchema) []types.TelemetryValue {
	values := make([]types.TelemetryValue, 0, len(batch.Samples)*len(schema.Fields))
	for i, sample := range batch.Samples {
		ts := types.NewTimestamp(int64(batch.Timestamp(i)), "stream")
		for j, field := range schema.Fields {
			if j >= len(sample) {
				break
			}
			values = append(values, types.TelemetryValue{
				Channel:         types.ChannelID(field.Name),
				Value:           sample[j],
				Unit:            field.Unit,
				SourceTimestamp: ts,
				Quality:         types.QualityGood,
			})
		}
	}
	return values
}

// streamMetricsOption adapts an optional metrics set to a subscriber
// option, collapsing nil to a no-op
func streamMetricsOption(m *metric.Metrics) stream.SubscriberOption {
	if m == nil {
		return func(*stream.Subscriber) {}
	}
	return stream.WithSubscriberMetrics(m)
}

func stateMetricsOption(m *metric.Metrics) state.SubscriberOption {
	if m == nil {
		return func(*state.Subscriber) {}
	}
	return state.WithSubscriberMetrics(m)
}
