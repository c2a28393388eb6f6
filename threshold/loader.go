package threshold

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/types"
)

// LoadStateThresholds reads a YAML file mapping states to per-channel
// thresholds. Each channel accepts either an explicit low/high mapping
// or one of the tagged bound forms that describes a static range:
//
//	states:
//	  ambient:
//	    voltage:
//	      low: 3.0
//	      high: {value: 3.6, bound_type: inclusive}
//	    current:
//	      less_than: 5.0
//	    temp:
//	      within_range: [25, 10]
//
// Stateful and discrete bound forms (within_baseline, good_values,
// bad_values, bad_interval, special) have no static low/high equivalent
// and are rejected here.
func LoadStateThresholds(path string) (map[types.StateID]StateThresholds, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "threshold", "LoadStateThresholds", "read file")
	}

	var file thresholdsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.WrapInvalid(err, "threshold", "LoadStateThresholds", "parse yaml")
	}
	if len(file.States) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no states defined", errors.ErrInvalidThreshold),
			"threshold", "LoadStateThresholds", "validate")
	}

	out := make(map[types.StateID]StateThresholds, len(file.States))
	for stateID, channels := range file.States {
		st := StateThresholds{
			StateID:    stateID,
			Thresholds: make(map[types.ChannelID]Threshold, len(channels)),
		}
		for channel, spec := range channels {
			t := spec.threshold
			t.Channel = channel
			st.Thresholds[channel] = t
		}
		out[stateID] = st
	}
	return out, nil
}

type thresholdsFile struct {
	States map[types.StateID]map[types.ChannelID]thresholdSpec `yaml:"states"`
}

// thresholdSpec decodes one channel's YAML node into a Threshold. The
// channel name is filled in by the caller.
type thresholdSpec struct {
	threshold Threshold
}

func (ts *thresholdSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) < 2 {
		return fmt.Errorf("%w: threshold must be a non-empty mapping", errors.ErrInvalidThreshold)
	}

	// Explicit low/high form when either key is present.
	if hasKey(node, "low") || hasKey(node, "high") {
		var lh struct {
			Low  *boundSpec `yaml:"low"`
			High *boundSpec `yaml:"high"`
		}
		if err := node.Decode(&lh); err != nil {
			return err
		}
		if lh.Low != nil {
			ts.threshold.Low = &ThresholdBound{Value: lh.Low.value, Type: lh.Low.boundType}
		}
		if lh.High != nil {
			ts.threshold.High = &ThresholdBound{Value: lh.High.value, Type: lh.High.boundType}
		}
		return nil
	}

	// Otherwise the node must be a tagged bound form.
	var b Bound
	if err := node.Decode(&b); err != nil {
		return err
	}
	t, err := boundToThreshold(b.BoundCheck)
	if err != nil {
		return err
	}
	ts.threshold = t
	return nil
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// boundSpec accepts a bare number (inclusive) or a {value, bound_type}
// mapping
type boundSpec struct {
	value     float64
	boundType BoundType
}

func (bs *boundSpec) UnmarshalYAML(node *yaml.Node) error {
	bs.boundType = Inclusive

	if node.Kind == yaml.ScalarNode {
		return node.Decode(&bs.value)
	}

	var m struct {
		Value     float64   `yaml:"value"`
		BoundType BoundType `yaml:"bound_type"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	bs.value = m.Value
	if m.BoundType != "" {
		if m.BoundType != Inclusive && m.BoundType != Exclusive {
			return fmt.Errorf("%w: unknown bound_type %q", errors.ErrInvalidThreshold, m.BoundType)
		}
		bs.boundType = m.BoundType
	}
	return nil
}

// boundToThreshold converts the static range bound forms to a low/high
// threshold. Stateful and discrete forms are rejected.
func boundToThreshold(check BoundCheck) (Threshold, error) {
	switch b := check.(type) {
	case *WithinTolerance:
		lo := b.Center * (1 - b.Fraction)
		hi := b.Center * (1 + b.Fraction)
		if lo > hi {
			lo, hi = hi, lo
		}
		return Threshold{
			Low:  &ThresholdBound{Value: lo, Type: Inclusive},
			High: &ThresholdBound{Value: hi, Type: Inclusive},
		}, nil
	case *WithinRange:
		return Threshold{
			Low:  &ThresholdBound{Value: b.Center - b.Delta, Type: Inclusive},
			High: &ThresholdBound{Value: b.Center + b.Delta, Type: Inclusive},
		}, nil
	case *GoodInterval:
		return Threshold{
			Low:  &ThresholdBound{Value: b.Low, Type: Inclusive},
			High: &ThresholdBound{Value: b.High, Type: Inclusive},
		}, nil
	case *LessThan:
		return Threshold{
			High: &ThresholdBound{Value: b.Limit, Type: Exclusive},
		}, nil
	case *GreaterThan:
		return Threshold{
			Low: &ThresholdBound{Value: b.Limit, Type: Exclusive},
		}, nil
	default:
		return Threshold{}, errors.WrapInvalid(
			fmt.Errorf("%w: bound form %T has no low/high equivalent", errors.ErrInvalidThreshold, check),
			"threshold", "boundToThreshold", "convert")
	}
}
