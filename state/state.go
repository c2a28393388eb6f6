// Package state defines environmental test states and distributes state
// transitions over NATS. A state describes a discrete test condition
// (ambient, thermal stress, vibration). Transition states mark movement
// between stable conditions; threshold evaluation is suspended while
// one is active.
package state

import (
	"encoding/json"

	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/types"
)

// EnvironmentalState is a discrete environmental condition during
// testing. IsTransition marks states that represent movement between
// stable conditions rather than a condition itself.
type EnvironmentalState struct {
	StateID      types.StateID  `json:"state_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	IsTransition bool           `json:"is_transition"`
	Metadata     map[string]any `json:"metadata"`
}

// ToBytes serializes the state to JSON for network transmission
func (s EnvironmentalState) ToBytes() ([]byte, error) {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errors.WrapInvalid(err, "EnvironmentalState", "ToBytes", "marshal state")
	}
	return data, nil
}

// StateFromBytes deserializes an EnvironmentalState from JSON bytes
func StateFromBytes(data []byte) (EnvironmentalState, error) {
	var s EnvironmentalState
	if err := json.Unmarshal(data, &s); err != nil {
		return EnvironmentalState{}, errors.WrapInvalid(err, "EnvironmentalState", "StateFromBytes", "unmarshal state")
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	return s, nil
}

// StateTransition records a change from one environmental state to
// another. FromState is nil for the initial transition.
type StateTransition struct {
	FromState *types.StateID
	ToState   types.StateID
	Timestamp types.Timestamp
	Reason    string
}

// transitionJSON is the wire form. The timestamp is flattened to a
// unix-ns integer plus its source string.
type transitionJSON struct {
	FromState       *types.StateID `json:"from_state"`
	ToState         types.StateID  `json:"to_state"`
	Timestamp       int64          `json:"timestamp"`
	TimestampSource string         `json:"timestamp_source"`
	Reason          string         `json:"reason"`
}

// MarshalJSON implements json.Marshaler
func (t StateTransition) MarshalJSON() ([]byte, error) {
	return json.Marshal(transitionJSON{
		FromState:       t.FromState,
		ToState:         t.ToState,
		Timestamp:       t.Timestamp.UnixNs,
		TimestampSource: t.Timestamp.Source,
		Reason:          t.Reason,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (t *StateTransition) UnmarshalJSON(data []byte) error {
	var w transitionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	source := w.TimestampSource
	if source == "" {
		source = "local"
	}
	t.FromState = w.FromState
	t.ToState = w.ToState
	t.Timestamp = types.NewTimestamp(w.Timestamp, source)
	t.Reason = w.Reason
	return nil
}

// ToBytes serializes the transition to JSON for network transmission
func (t StateTransition) ToBytes() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errors.WrapInvalid(err, "StateTransition", "ToBytes", "marshal transition")
	}
	return data, nil
}

// TransitionFromBytes deserializes a StateTransition from JSON bytes
func TransitionFromBytes(data []byte) (StateTransition, error) {
	var t StateTransition
	if err := json.Unmarshal(data, &t); err != nil {
		return StateTransition{}, errors.WrapInvalid(err, "StateTransition", "TransitionFromBytes", "unmarshal transition")
	}
	return t, nil
}
