package threshold

import (
	"encoding/json"
	"fmt"

	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/types"
)

// BoundType selects whether a threshold boundary includes its edge value.
type BoundType string

// Boundary types.
const (
	Inclusive BoundType = "inclusive"
	Exclusive BoundType = "exclusive"
)

// ThresholdBound is one side of an acceptable range.
type ThresholdBound struct {
	Value float64   `json:"value"`
	Type  BoundType `json:"bound_type"`
}

// CheckLow reports whether v satisfies the bound as a lower limit.
func (b ThresholdBound) CheckLow(v float64) bool {
	if b.Type == Exclusive {
		return v > b.Value
	}
	return v >= b.Value
}

// CheckHigh reports whether v satisfies the bound as an upper limit.
func (b ThresholdBound) CheckHigh(v float64) bool {
	if b.Type == Exclusive {
		return v < b.Value
	}
	return v <= b.Value
}

// Threshold defines the acceptable range for a channel. A nil side is
// unbounded.
type Threshold struct {
	Channel types.ChannelID `json:"channel"`
	Low     *ThresholdBound `json:"low,omitempty"`
	High    *ThresholdBound `json:"high,omitempty"`
}

// InclusiveThreshold builds a threshold with inclusive bounds on both sides.
func InclusiveThreshold(channel types.ChannelID, low, high float64) Threshold {
	return Threshold{
		Channel: channel,
		Low:     &ThresholdBound{Value: low, Type: Inclusive},
		High:    &ThresholdBound{Value: high, Type: Inclusive},
	}
}

// Check reports whether value is within the threshold bounds.
func (t Threshold) Check(value float64) bool {
	if t.Low != nil && !t.Low.CheckLow(value) {
		return false
	}
	if t.High != nil && !t.High.CheckHigh(value) {
		return false
	}
	return true
}

// StateThresholds is the set of channel thresholds that applies in one
// environmental state. Channels without an entry are unconstrained.
type StateThresholds struct {
	StateID    types.StateID                 `json:"state_id"`
	Thresholds map[types.ChannelID]Threshold `json:"thresholds"`
}

// Get returns the threshold for a channel, if defined.
func (st StateThresholds) Get(channel types.ChannelID) (Threshold, bool) {
	t, ok := st.Thresholds[channel]
	return t, ok
}

// CheckValue checks a value against the channel's threshold. defined is
// false when the channel has no threshold in this state, in which case ok
// carries no meaning.
func (st StateThresholds) CheckValue(channel types.ChannelID, value float64) (ok, defined bool) {
	t, found := st.Get(channel)
	if !found {
		return false, false
	}
	return t.Check(value), true
}

// ToBytes serializes to JSON for transport and KV persistence.
func (st StateThresholds) ToBytes() ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, errors.WrapInvalid(err, "StateThresholds", "ToBytes", "marshal")
	}
	return data, nil
}

// StateThresholdsFromBytes deserializes the JSON form.
func StateThresholdsFromBytes(data []byte) (StateThresholds, error) {
	var st StateThresholds
	if err := json.Unmarshal(data, &st); err != nil {
		return StateThresholds{}, errors.WrapInvalid(err, "StateThresholds", "FromBytes", "unmarshal")
	}
	if st.StateID == "" {
		return StateThresholds{}, errors.WrapInvalid(
			fmt.Errorf("missing state_id"), "StateThresholds", "FromBytes", "validate")
	}
	return st, nil
}
