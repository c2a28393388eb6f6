package threshold

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/c360/hwstreams/errors"
)

// boundParsers maps each variant tag to its constructor from the decoded
// tag payload. An unknown tag, or a tagged map with zero or multiple
// keys, is a configuration error, never a silent default.
var boundParsers = map[string]func(args any) (BoundCheck, error){
	"within_tolerance": parseWithinTolerance,
	"within_range":     parseWithinRange,
	"within_baseline":  parseWithinBaseline,
	"less_than":        parseLessThan,
	"greater_than":     parseGreaterThan,
	"good_interval":    parseGoodInterval,
	"bad_interval":     parseBadInterval,
	"good_values":      parseGoodValues,
	"bad_values":       parseBadValues,
	"special":          parseSpecial,
}

// FromTagged reconstructs a bound check from its tagged form.
func FromTagged(data map[string]any) (BoundCheck, error) {
	if len(data) != 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: got %d keys", errors.ErrMalformedBound, len(data)),
			"threshold", "FromTagged", "validate")
	}
	for tag, args := range data {
		parser, ok := boundParsers[tag]
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %q", errors.ErrUnknownBoundTag, tag),
				"threshold", "FromTagged", "lookup")
		}
		return parser(args)
	}
	return nil, errors.ErrMalformedBound // unreachable
}

// Bound wraps a BoundCheck so tagged forms unmarshal directly from YAML
// documents, the format per-channel bound configuration ships in.
type Bound struct {
	BoundCheck
}

// UnmarshalYAML decodes a single-key tagged mapping into the matching
// variant.
func (b *Bound) UnmarshalYAML(node *yaml.Node) error {
	var tagged map[string]any
	if err := node.Decode(&tagged); err != nil {
		return errors.WrapInvalid(err, "threshold", "UnmarshalYAML", "decode tagged form")
	}
	check, err := FromTagged(tagged)
	if err != nil {
		return err
	}
	b.BoundCheck = check
	return nil
}

// MarshalYAML emits the tagged form.
func (b Bound) MarshalYAML() (any, error) {
	if b.BoundCheck == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("empty bound"), "threshold", "MarshalYAML", "validate")
	}
	return b.Tagged(), nil
}

func floatArgs(args any, want int, optional int, tag string) ([]float64, error) {
	list, ok := args.([]any)
	if !ok {
		// Round-tripping an in-process Tagged() form yields []float64.
		if fs, ok2 := args.([]float64); ok2 {
			if len(fs) < want || len(fs) > want+optional {
				return nil, badArgCount(tag, want, len(fs))
			}
			return fs, nil
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%s args must be a list, got %T", tag, args),
			"threshold", "floatArgs", "validate")
	}
	if len(list) < want || len(list) > want+optional {
		return nil, badArgCount(tag, want, len(list))
	}
	out := make([]float64, len(list))
	for i, v := range list {
		f, err := toFloat(v)
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%s arg %d: %v", tag, i, err),
				"threshold", "floatArgs", "convert")
		}
		out[i] = f
	}
	return out, nil
}

func badArgCount(tag string, want, got int) error {
	return errors.WrapInvalid(
		fmt.Errorf("%s expects %d args, got %d", tag, want, got),
		"threshold", "floatArgs", "validate")
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func intArgs(args any, tag string) ([]int64, error) {
	fs, err := floatArgsAny(args, tag)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(fs))
	for i, f := range fs {
		out[i] = int64(f)
	}
	return out, nil
}

func floatArgsAny(args any, tag string) ([]float64, error) {
	switch list := args.(type) {
	case []any:
		out := make([]float64, len(list))
		for i, v := range list {
			f, err := toFloat(v)
			if err != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%s arg %d: %v", tag, i, err),
					"threshold", "floatArgsAny", "convert")
			}
			out[i] = f
		}
		return out, nil
	case []float64:
		return list, nil
	case []int64:
		out := make([]float64, len(list))
		for i, v := range list {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%s args must be a list, got %T", tag, args),
			"threshold", "floatArgsAny", "validate")
	}
}

func parseWithinTolerance(args any) (BoundCheck, error) {
	fs, err := floatArgs(args, 2, 0, "within_tolerance")
	if err != nil {
		return nil, err
	}
	return NewWithinTolerance(fs[0], fs[1])
}

func parseWithinRange(args any) (BoundCheck, error) {
	fs, err := floatArgs(args, 2, 0, "within_range")
	if err != nil {
		return nil, err
	}
	return NewWithinRange(fs[0], fs[1])
}

func parseWithinBaseline(args any) (BoundCheck, error) {
	fs, err := floatArgs(args, 3, 1, "within_baseline")
	if err != nil {
		return nil, err
	}
	if len(fs) == 4 {
		return NewLockedBaseline(fs[0], fs[1], fs[2], fs[3])
	}
	return NewWithinBaseline(fs[0], fs[1], fs[2])
}

func parseLessThan(args any) (BoundCheck, error) {
	f, err := toFloat(args)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("less_than: %v", err), "threshold", "parseLessThan", "convert")
	}
	return &LessThan{Limit: f}, nil
}

func parseGreaterThan(args any) (BoundCheck, error) {
	f, err := toFloat(args)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("greater_than: %v", err), "threshold", "parseGreaterThan", "convert")
	}
	return &GreaterThan{Limit: f}, nil
}

func parseGoodInterval(args any) (BoundCheck, error) {
	fs, err := floatArgs(args, 2, 0, "good_interval")
	if err != nil {
		return nil, err
	}
	return NewGoodInterval(fs[0], fs[1])
}

func parseBadInterval(args any) (BoundCheck, error) {
	fs, err := floatArgs(args, 2, 0, "bad_interval")
	if err != nil {
		return nil, err
	}
	return NewBadInterval(fs[0], fs[1])
}

func parseGoodValues(args any) (BoundCheck, error) {
	vs, err := intArgs(args, "good_values")
	if err != nil {
		return nil, err
	}
	return NewGoodValues(vs...), nil
}

func parseBadValues(args any) (BoundCheck, error) {
	vs, err := intArgs(args, "bad_values")
	if err != nil {
		return nil, err
	}
	return NewBadValues(vs...), nil
}

func parseSpecial(args any) (BoundCheck, error) {
	kind, ok := args.(string)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("special arg must be a string, got %T", args),
			"threshold", "parseSpecial", "validate")
	}
	if kind != "any" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown special check %q", kind),
			"threshold", "parseSpecial", "validate")
	}
	return &Special{Kind: kind}, nil
}
