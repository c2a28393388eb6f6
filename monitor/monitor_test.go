package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/hwstreams/config"
	"github.com/c360/hwstreams/state"
	"github.com/c360/hwstreams/stream"
	"github.com/c360/hwstreams/threshold"
	"github.com/c360/hwstreams/types"
	"github.com/c360/hwstreams/wire"
)

type published struct {
	subject string
	data    []byte
}

// fakeConn satisfies Conn and routes consumer handlers by subject so
// tests can inject schema, data, and state frames.
type fakeConn struct {
	mu       sync.Mutex
	healthy  bool
	handlers map[string]func([]byte)
	messages []published
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{healthy: true, handlers: make(map[string]func([]byte))}
}

func (f *fakeConn) IsHealthy() bool { return f.healthy }

func (f *fakeConn) EnsureStream(_ context.Context, _ string, _ ...string) error { return nil }

func (f *fakeConn) PublishToStream(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{subject: subject, data: data})
	return nil
}

func (f *fakeConn) ConsumeStream(_ context.Context, _, subject string, handler func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = handler
	return nil
}

func (f *fakeConn) StopConsumer(_, subject string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, subject)
}

func (f *fakeConn) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) deliver(t *testing.T, subject string, data []byte) {
	t.Helper()
	f.mu.Lock()
	handler := f.handlers[subject]
	f.mu.Unlock()
	require.NotNil(t, handler, "no consumer handler for %s", subject)
	handler(data)
}

func (f *fakeConn) resultsOn(subject string) []MonitorResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []MonitorResult
	for _, m := range f.messages {
		if m.subject != subject {
			continue
		}
		if r, err := ResultFromBytes(m.data); err == nil {
			results = append(results, r)
		}
	}
	return results
}

func testSchema(t *testing.T) *wire.StreamSchema {
	t.Helper()
	schema, err := wire.NewSchema("daq1", []wire.StreamField{
		{Name: "voltage", DType: types.F64, Unit: "V"},
		{Name: "temperature", DType: types.F64, Unit: "degC"},
	})
	require.NoError(t, err)
	return schema
}

func testThresholds() map[types.StateID]threshold.StateThresholds {
	return map[types.StateID]threshold.StateThresholds{
		"ambient": {
			StateID: "ambient",
			Thresholds: map[types.ChannelID]threshold.Threshold{
				"voltage":     threshold.InclusiveThreshold("voltage", 3.0, 3.6),
				"temperature": threshold.InclusiveThreshold("temperature", 15, 35),
			},
		},
		"thermal_stress": {
			StateID: "thermal_stress",
			Thresholds: map[types.ChannelID]threshold.Threshold{
				"voltage": threshold.InclusiveThreshold("voltage", 2.8, 3.8),
			},
		},
	}
}

func telemetryValues(pairs map[types.ChannelID]float64) []types.TelemetryValue {
	values := make([]types.TelemetryValue, 0, len(pairs))
	for ch, v := range pairs {
		values = append(values, types.TelemetryValue{
			Channel:         ch,
			Value:           v,
			SourceTimestamp: types.NewTimestamp(1, "stream"),
			Quality:         types.QualityGood,
		})
	}
	return values
}

func TestEvaluate_Pass(t *testing.T) {
	m := New(newFakeConn(), config.Default(), "mon-1", "daq1", testThresholds())

	result := m.Evaluate(
		telemetryValues(map[types.ChannelID]float64{"voltage": 3.3, "temperature": 22}),
		state.EnvironmentalState{StateID: "ambient"},
		testThresholds()["ambient"],
	)

	assert.Equal(t, VerdictPass, result.Verdict)
	assert.Empty(t, result.Violations)
	assert.Empty(t, result.Message)
	assert.Equal(t, types.MonitorID("mon-1"), result.MonitorID)
	assert.Equal(t, types.StateID("ambient"), result.StateID)
}

func TestEvaluate_Fail(t *testing.T) {
	m := New(newFakeConn(), config.Default(), "mon-1", "daq1", testThresholds())

	result := m.Evaluate(
		telemetryValues(map[types.ChannelID]float64{"voltage": 5.5, "temperature": 22}),
		state.EnvironmentalState{StateID: "ambient"},
		testThresholds()["ambient"],
	)

	assert.Equal(t, VerdictFail, result.Verdict)
	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, types.ChannelID("voltage"), v.Channel)
	assert.Equal(t, 5.5, v.Value)
	assert.Equal(t, "Value 5.5 outside threshold bounds", v.Message)
	assert.Equal(t, "1 threshold violation(s)", result.Message)
}

func TestEvaluate_MultipleViolations(t *testing.T) {
	m := New(newFakeConn(), config.Default(), "mon-1", "daq1", testThresholds())

	result := m.Evaluate(
		telemetryValues(map[types.ChannelID]float64{"voltage": 5.5, "temperature": 90}),
		state.EnvironmentalState{StateID: "ambient"},
		testThresholds()["ambient"],
	)

	assert.Equal(t, VerdictFail, result.Verdict)
	assert.Len(t, result.Violations, 2)
	assert.Equal(t, "2 threshold violation(s)", result.Message)
}

func TestEvaluate_SkipDuringTransition(t *testing.T) {
	m := New(newFakeConn(), config.Default(), "mon-1", "daq1", testThresholds())

	result := m.Evaluate(
		telemetryValues(map[types.ChannelID]float64{"voltage": 99}),
		state.EnvironmentalState{StateID: "ramp_up", IsTransition: true},
		testThresholds()["ambient"],
	)

	assert.Equal(t, VerdictSkip, result.Verdict)
	assert.Equal(t, "Skipped during state transition", result.Message)
	assert.Empty(t, result.Violations)
}

func TestEvaluate_UnconstrainedChannelIgnored(t *testing.T) {
	m := New(newFakeConn(), config.Default(), "mon-1", "daq1", testThresholds())

	result := m.Evaluate(
		telemetryValues(map[types.ChannelID]float64{"voltage": 3.3, "humidity": 9999}),
		state.EnvironmentalState{StateID: "thermal_stress"},
		testThresholds()["thermal_stress"],
	)

	assert.Equal(t, VerdictPass, result.Verdict)
}

func TestMonitor_Accessors(t *testing.T) {
	m := New(newFakeConn(), config.Default(), "mon-1", "daq1", testThresholds())

	assert.Equal(t, types.MonitorID("mon-1"), m.MonitorID())
	assert.False(t, m.IsRunning())

	st, ok := m.Thresholds("ambient")
	require.True(t, ok)
	assert.Equal(t, types.StateID("ambient"), st.StateID)
	_, ok = m.Thresholds("vacuum")
	assert.False(t, ok)

	assert.ElementsMatch(t, []types.StateID{"ambient", "thermal_stress"}, m.States())

	_, ok = m.CurrentState()
	assert.False(t, ok)
}

// startedMonitor brings up a monitor against a fake broker and delivers
// the schema so the data loop is ready to evaluate.
func startedMonitor(t *testing.T, conn *fakeConn, opts ...Option) (*TelemetryMonitor, *config.Config, *wire.StreamSchema) {
	t.Helper()
	cfg := config.Default()
	m := New(conn, cfg, "mon-1", "daq1", testThresholds(), opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Stop(context.Background()) })

	schema := testSchema(t)
	frame, err := schema.Encode()
	require.NoError(t, err)
	conn.deliver(t, cfg.SourceWildcard("daq1"), frame)
	return m, cfg, schema
}

func enterState(t *testing.T, m *TelemetryMonitor, conn *fakeConn, cfg *config.Config, id types.StateID) {
	t.Helper()
	data, err := state.StateTransition{
		ToState:   id,
		Timestamp: types.Now(),
		Reason:    "test",
	}.ToBytes()
	require.NoError(t, err)
	conn.deliver(t, cfg.StateSubject(), data)

	require.Eventually(t, func() bool {
		current, ok := m.CurrentState()
		return ok && current.StateID == id
	}, 2*time.Second, 5*time.Millisecond)
}

func deliverBatch(t *testing.T, conn *fakeConn, cfg *config.Config, schema *wire.StreamSchema, samples ...[]float64) {
	t.Helper()
	frame, err := (&wire.StreamData{
		SchemaID:    schema.SchemaID(),
		TimestampNs: 1000,
		PeriodNs:    100,
		Samples:     samples,
	}).Encode(schema)
	require.NoError(t, err)
	conn.deliver(t, cfg.SourceWildcard("daq1"), frame)
}

func waitForResults(t *testing.T, conn *fakeConn, cfg *config.Config, n int) []MonitorResult {
	t.Helper()
	var results []MonitorResult
	require.Eventually(t, func() bool {
		results = conn.resultsOn(cfg.ResultSubject())
		return len(results) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return results
}

func TestMonitor_PublishesPassResult(t *testing.T) {
	conn := newFakeConn()
	m, cfg, schema := startedMonitor(t, conn)
	enterState(t, m, conn, cfg, "ambient")

	deliverBatch(t, conn, cfg, schema, []float64{3.3, 22})

	results := waitForResults(t, conn, cfg, 1)
	assert.Equal(t, VerdictPass, results[0].Verdict)
	assert.Equal(t, types.StateID("ambient"), results[0].StateID)
}

func TestMonitor_PublishesFailResult(t *testing.T) {
	conn := newFakeConn()
	var handled []MonitorResult
	var handledMu sync.Mutex
	m, cfg, schema := startedMonitor(t, conn, WithViolationHandler(func(r MonitorResult) {
		handledMu.Lock()
		handled = append(handled, r)
		handledMu.Unlock()
	}))
	enterState(t, m, conn, cfg, "ambient")

	deliverBatch(t, conn, cfg, schema, []float64{5.5, 22})

	results := waitForResults(t, conn, cfg, 1)
	assert.Equal(t, VerdictFail, results[0].Verdict)
	require.Len(t, results[0].Violations, 1)
	assert.Equal(t, types.ChannelID("voltage"), results[0].Violations[0].Channel)

	require.Eventually(t, func() bool {
		handledMu.Lock()
		defer handledMu.Unlock()
		return len(handled) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_EveryBatchProducesResult(t *testing.T) {
	conn := newFakeConn()
	m, cfg, schema := startedMonitor(t, conn)
	enterState(t, m, conn, cfg, "ambient")

	deliverBatch(t, conn, cfg, schema, []float64{3.3, 22}, []float64{3.4, 23})
	deliverBatch(t, conn, cfg, schema, []float64{3.5, 24})
	deliverBatch(t, conn, cfg, schema, []float64{5.5, 24})

	results := waitForResults(t, conn, cfg, 3)
	assert.Equal(t, VerdictPass, results[0].Verdict)
	assert.Equal(t, VerdictPass, results[1].Verdict)
	assert.Equal(t, VerdictFail, results[2].Verdict)
}

func TestMonitor_SkipsBatchesBeforeStateKnown(t *testing.T) {
	conn := newFakeConn()
	m, cfg, schema := startedMonitor(t, conn)

	deliverBatch(t, conn, cfg, schema, []float64{5.5, 99})

	// Give the data loop time to drain the batch while no state is
	// known; it must be discarded without a result.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, conn.resultsOn(cfg.ResultSubject()))

	enterState(t, m, conn, cfg, "ambient")
	deliverBatch(t, conn, cfg, schema, []float64{3.3, 22})

	results := waitForResults(t, conn, cfg, 1)
	assert.Equal(t, VerdictPass, results[0].Verdict, "pre-state batch must not produce a result")
	assert.Len(t, results, 1)
}

func TestMonitor_StateChangeSwitchesThresholds(t *testing.T) {
	conn := newFakeConn()
	m, cfg, schema := startedMonitor(t, conn)

	enterState(t, m, conn, cfg, "ambient")
	deliverBatch(t, conn, cfg, schema, []float64{3.7, 22})
	results := waitForResults(t, conn, cfg, 1)
	assert.Equal(t, VerdictFail, results[0].Verdict)

	// 3.7V is out of bounds at ambient but allowed under thermal stress.
	enterState(t, m, conn, cfg, "thermal_stress")
	deliverBatch(t, conn, cfg, schema, []float64{3.7, 22})
	results = waitForResults(t, conn, cfg, 2)
	assert.Equal(t, VerdictPass, results[1].Verdict)
	assert.Equal(t, types.StateID("thermal_stress"), results[1].StateID)
}

func TestMonitor_StartTwiceIsNoOp(t *testing.T) {
	conn := newFakeConn()
	m, _, _ := startedMonitor(t, conn)
	assert.True(t, m.IsRunning())
	assert.NoError(t, m.Start(context.Background()))
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	m, _, _ := startedMonitor(t, conn)

	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.Stop(context.Background()))
}

func TestMonitor_Stop_ClosesOwnedConnection(t *testing.T) {
	conn := newFakeConn()
	cfg := config.Default()
	m := New(conn, cfg, "mon-1", "daq1", testThresholds(), OwnsConnection())
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Stop(context.Background()))
	assert.True(t, conn.closed)
}

// The stream and state subscriber types share the monitor's Conn
// surface, so one client serves all three.
var (
	_ stream.Conn = (*fakeConn)(nil)
	_ state.Conn  = (*fakeConn)(nil)
)
