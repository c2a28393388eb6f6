// Package monitor evaluates telemetry streams against state-dependent
// thresholds and publishes verdicts. Evaluation is suspended while the
// environment is in a transition state.
package monitor

import (
	"encoding/json"

	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/threshold"
	"github.com/c360/hwstreams/types"
)

// Verdict is the outcome of one evaluation cycle
type Verdict string

// Possible verdicts
const (
	VerdictPass  Verdict = "pass"
	VerdictFail  Verdict = "fail"
	VerdictSkip  Verdict = "skip"
	VerdictError Verdict = "error"
)

// ThresholdViolation records one channel exceeding its threshold
type ThresholdViolation struct {
	Channel   types.ChannelID     `json:"channel"`
	Value     float64             `json:"value"`
	Threshold threshold.Threshold `json:"threshold"`
	Message   string              `json:"message"`
}

// MonitorResult is the complete outcome of evaluating one data batch
// against the thresholds for one environmental state
type MonitorResult struct {
	MonitorID  types.MonitorID
	Verdict    Verdict
	Timestamp  types.Timestamp
	StateID    types.StateID
	Violations []ThresholdViolation
	Message    string
}

// Passed reports whether the verdict is pass
func (r MonitorResult) Passed() bool { return r.Verdict == VerdictPass }

// Failed reports whether the verdict is fail
func (r MonitorResult) Failed() bool { return r.Verdict == VerdictFail }

// resultJSON is the wire form, with the timestamp flattened to a
// unix-ns integer plus its source string
type resultJSON struct {
	MonitorID       types.MonitorID      `json:"monitor_id"`
	Verdict         Verdict              `json:"verdict"`
	Timestamp       int64                `json:"timestamp"`
	TimestampSource string               `json:"timestamp_source"`
	StateID         types.StateID        `json:"state_id"`
	Violations      []ThresholdViolation `json:"violations"`
	Message         string               `json:"message"`
}

// MarshalJSON implements json.Marshaler
func (r MonitorResult) MarshalJSON() ([]byte, error) {
	violations := r.Violations
	if violations == nil {
		violations = []ThresholdViolation{}
	}
	return json.Marshal(resultJSON{
		MonitorID:       r.MonitorID,
		Verdict:         r.Verdict,
		Timestamp:       r.Timestamp.UnixNs,
		TimestampSource: r.Timestamp.Source,
		StateID:         r.StateID,
		Violations:      violations,
		Message:         r.Message,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (r *MonitorResult) UnmarshalJSON(data []byte) error {
	var w resultJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	source := w.TimestampSource
	if source == "" {
		source = "local"
	}
	r.MonitorID = w.MonitorID
	r.Verdict = w.Verdict
	r.Timestamp = types.NewTimestamp(w.Timestamp, source)
	r.StateID = w.StateID
	r.Violations = w.Violations
	r.Message = w.Message
	return nil
}

// ToBytes serializes the result to JSON for network transmission
func (r MonitorResult) ToBytes() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "MonitorResult", "ToBytes", "marshal result")
	}
	return data, nil
}

// ResultFromBytes deserializes a MonitorResult from JSON bytes
func ResultFromBytes(data []byte) (MonitorResult, error) {
	var r MonitorResult
	if err := json.Unmarshal(data, &r); err != nil {
		return MonitorResult{}, errors.WrapInvalid(err, "MonitorResult", "ResultFromBytes", "unmarshal result")
	}
	return r, nil
}
