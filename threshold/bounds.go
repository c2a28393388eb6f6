// Package threshold provides the bound-check engine for telemetry
// evaluation: a closed set of check variants configured from tagged
// YAML/JSON forms, plus the simpler low/high Threshold type grouped per
// environmental state that the monitor consumes.
package threshold

import (
	"fmt"
	"math"
	"sort"

	"github.com/c360/hwstreams/errors"
)

// BoundCheck evaluates whether a measurement value satisfies a
// constraint. The implementations form a closed set; each serializes to a
// tagged map with exactly one key identifying the variant.
type BoundCheck interface {
	Check(value float64) bool
	Tagged() map[string]any
}

// WithinTolerance passes when the value lies within a fractional
// tolerance band of a center value. The band edges are computed as
// center*(1-fraction) and center*(1+fraction); min/max of the two handles
// negative centers correctly.
type WithinTolerance struct {
	Center   float64
	Fraction float64
}

// NewWithinTolerance validates fraction >= 0.
func NewWithinTolerance(center, fraction float64) (*WithinTolerance, error) {
	if fraction < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: within_tolerance fraction must be >= 0, got %v", errors.ErrInvalidThreshold, fraction),
			"threshold", "NewWithinTolerance", "validate")
	}
	return &WithinTolerance{Center: center, Fraction: fraction}, nil
}

// Check reports whether value is inside the tolerance band.
func (b *WithinTolerance) Check(value float64) bool {
	lo := b.Center * (1 - b.Fraction)
	hi := b.Center * (1 + b.Fraction)
	return math.Min(lo, hi) <= value && value <= math.Max(lo, hi)
}

// Tagged returns the serialized form.
func (b *WithinTolerance) Tagged() map[string]any {
	return map[string]any{"within_tolerance": []float64{b.Center, b.Fraction}}
}

// WithinRange passes when the value is within an absolute delta of a
// center value.
type WithinRange struct {
	Center float64
	Delta  float64
}

// NewWithinRange validates delta >= 0.
func NewWithinRange(center, delta float64) (*WithinRange, error) {
	if delta < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: within_range delta must be >= 0, got %v", errors.ErrInvalidThreshold, delta),
			"threshold", "NewWithinRange", "validate")
	}
	return &WithinRange{Center: center, Delta: delta}, nil
}

// Check reports whether center-delta <= value <= center+delta.
func (b *WithinRange) Check(value float64) bool {
	return b.Center-b.Delta <= value && value <= b.Center+b.Delta
}

// Tagged returns the serialized form.
func (b *WithinRange) Tagged() map[string]any {
	return map[string]any{"within_range": []float64{b.Center, b.Delta}}
}

// WithinBaseline is a two-phase check with initial acquisition and tight
// tracking. Unlocked, the value must land within nominal±initDelta; the
// first passing value becomes the locked baseline. Locked, the value must
// stay within baseline±tightDelta. The only legal transition is
// unlocked→locked; Reset returns to unlocked.
type WithinBaseline struct {
	Nominal    float64
	InitDelta  float64
	TightDelta float64

	locked   bool
	baseline float64
}

// NewWithinBaseline validates both deltas >= 0.
func NewWithinBaseline(nominal, initDelta, tightDelta float64) (*WithinBaseline, error) {
	if initDelta < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: within_baseline init_delta must be >= 0, got %v", errors.ErrInvalidThreshold, initDelta),
			"threshold", "NewWithinBaseline", "validate")
	}
	if tightDelta < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: within_baseline tight_delta must be >= 0, got %v", errors.ErrInvalidThreshold, tightDelta),
			"threshold", "NewWithinBaseline", "validate")
	}
	return &WithinBaseline{Nominal: nominal, InitDelta: initDelta, TightDelta: tightDelta}, nil
}

// NewLockedBaseline constructs directly in the locked state, used when
// restoring a latched check from its serialized form.
func NewLockedBaseline(nominal, initDelta, tightDelta, baseline float64) (*WithinBaseline, error) {
	b, err := NewWithinBaseline(nominal, initDelta, tightDelta)
	if err != nil {
		return nil, err
	}
	b.locked = true
	b.baseline = baseline
	return b, nil
}

// Locked reports whether a baseline has been captured.
func (b *WithinBaseline) Locked() bool { return b.locked }

// Baseline returns the captured value; the second result is false while
// still unlocked.
func (b *WithinBaseline) Baseline() (float64, bool) {
	return b.baseline, b.locked
}

// Reset clears the latch, requiring a new acquisition.
func (b *WithinBaseline) Reset() {
	b.locked = false
	b.baseline = 0
}

// Check evaluates against the current phase and latches on the first
// in-band value.
func (b *WithinBaseline) Check(value float64) bool {
	if !b.locked {
		if b.Nominal-b.InitDelta <= value && value <= b.Nominal+b.InitDelta {
			b.locked = true
			b.baseline = value
			return true
		}
		return false
	}
	return b.baseline-b.TightDelta <= value && value <= b.baseline+b.TightDelta
}

// Tagged returns the serialized form; a locked check carries its baseline
// as a fourth element.
func (b *WithinBaseline) Tagged() map[string]any {
	args := []float64{b.Nominal, b.InitDelta, b.TightDelta}
	if b.locked {
		args = append(args, b.baseline)
	}
	return map[string]any{"within_baseline": args}
}

// LessThan passes when value < limit, strictly.
type LessThan struct {
	Limit float64
}

// Check reports value < limit.
func (b *LessThan) Check(value float64) bool { return value < b.Limit }

// Tagged returns the serialized form.
func (b *LessThan) Tagged() map[string]any {
	return map[string]any{"less_than": b.Limit}
}

// GreaterThan passes when value > limit, strictly.
type GreaterThan struct {
	Limit float64
}

// Check reports value > limit.
func (b *GreaterThan) Check(value float64) bool { return value > b.Limit }

// Tagged returns the serialized form.
func (b *GreaterThan) Tagged() map[string]any {
	return map[string]any{"greater_than": b.Limit}
}

// GoodInterval passes when the value lies inside the inclusive interval.
type GoodInterval struct {
	Low  float64
	High float64
}

// NewGoodInterval validates low <= high.
func NewGoodInterval(low, high float64) (*GoodInterval, error) {
	if low > high {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: good_interval requires low <= high, got low=%v high=%v", errors.ErrInvalidThreshold, low, high),
			"threshold", "NewGoodInterval", "validate")
	}
	return &GoodInterval{Low: low, High: high}, nil
}

// Check reports low <= value <= high.
func (b *GoodInterval) Check(value float64) bool {
	return b.Low <= value && value <= b.High
}

// Tagged returns the serialized form.
func (b *GoodInterval) Tagged() map[string]any {
	return map[string]any{"good_interval": []float64{b.Low, b.High}}
}

// BadInterval passes when the value lies outside the inclusive interval.
type BadInterval struct {
	Low  float64
	High float64
}

// NewBadInterval validates low <= high.
func NewBadInterval(low, high float64) (*BadInterval, error) {
	if low > high {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: bad_interval requires low <= high, got low=%v high=%v", errors.ErrInvalidThreshold, low, high),
			"threshold", "NewBadInterval", "validate")
	}
	return &BadInterval{Low: low, High: high}, nil
}

// Check reports value < low || value > high.
func (b *BadInterval) Check(value float64) bool {
	return value < b.Low || value > b.High
}

// Tagged returns the serialized form.
func (b *BadInterval) Tagged() map[string]any {
	return map[string]any{"bad_interval": []float64{b.Low, b.High}}
}

// GoodValues passes when the value, rounded to the nearest integer, is a
// member of the allowed set. Useful for discrete state or mode channels.
type GoodValues struct {
	Values map[int64]struct{}
}

// NewGoodValues builds the allowed set.
func NewGoodValues(values ...int64) *GoodValues {
	set := make(map[int64]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return &GoodValues{Values: set}
}

// Check rounds and tests membership.
func (b *GoodValues) Check(value float64) bool {
	_, ok := b.Values[int64(math.Round(value))]
	return ok
}

// Tagged returns the serialized form with values sorted.
func (b *GoodValues) Tagged() map[string]any {
	return map[string]any{"good_values": sortedValues(b.Values)}
}

// BadValues passes when the rounded value is NOT in the forbidden set.
type BadValues struct {
	Values map[int64]struct{}
}

// NewBadValues builds the forbidden set.
func NewBadValues(values ...int64) *BadValues {
	set := make(map[int64]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return &BadValues{Values: set}
}

// Check rounds and tests non-membership.
func (b *BadValues) Check(value float64) bool {
	_, ok := b.Values[int64(math.Round(value))]
	return !ok
}

// Tagged returns the serialized form with values sorted.
func (b *BadValues) Tagged() map[string]any {
	return map[string]any{"bad_values": sortedValues(b.Values)}
}

// Special is a predefined check; kind "any" always passes.
type Special struct {
	Kind string
}

// Check always passes for kind "any".
func (b *Special) Check(_ float64) bool { return true }

// Tagged returns the serialized form.
func (b *Special) Tagged() map[string]any {
	return map[string]any{"special": b.Kind}
}

func sortedValues(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
