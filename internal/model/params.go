package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Params holds named layer or forecaster hyperparameters. Values decoded from
// JSON arrive as float64, so accessors accept any numeric representation.
type Params map[string]any

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (p Params) Clone() Params {
	out := make(Params, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// With returns a copy of p extended with key=value. p itself is untouched.
func (p Params) With(key string, value any) Params {
	out := p.Clone()
	out[key] = value
	return out
}

func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Params) Int(key string) (int, bool, error) {
	v, ok := p[key]
	if !ok {
		return 0, false, nil
	}
	n, err := asInt(v)
	if err != nil {
		return 0, true, fmt.Errorf("param %s: %w", key, err)
	}
	return n, true, nil
}

func (p Params) Float(key string) (float64, bool, error) {
	v, ok := p[key]
	if !ok {
		return 0, false, nil
	}
	f, err := asFloat(v)
	if err != nil {
		return 0, true, fmt.Errorf("param %s: %w", key, err)
	}
	return f, true, nil
}

func (p Params) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, err
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
