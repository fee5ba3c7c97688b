package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"forecastnet/internal/dataset"
	"forecastnet/internal/model"
	"forecastnet/internal/tuning"
	api "forecastnet/pkg/forecastnet"
)

// dataConfig names where an evaluation reads its series from. A CSV path wins
// over the synthetic sine generator.
type dataConfig struct {
	CSVPath string
	Columns []string
	Sine    dataset.SineSpec
}

type evaluateConfig struct {
	Request api.EvaluationRequest
	Data    dataConfig
	Space   tuning.Space
	Sampler string
	Samples int
	Seed    int64
	Trials  int
}

func readConfigMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return raw, nil
}

func loadEvaluateConfig(path string) (evaluateConfig, error) {
	raw, err := readConfigMap(path)
	if err != nil {
		return evaluateConfig{}, err
	}

	var cfg evaluateConfig
	req := &cfg.Request
	if v, ok := asString(raw["forecaster"]); ok {
		req.Forecaster = v
	}
	if v, ok := raw["params"].(map[string]any); ok {
		req.Params = model.Params(v)
	}
	if v, ok := asFloat64(raw["train_frac"]); ok {
		req.TrainFrac = v
	}
	if v, ok := asInt(raw["folds"]); ok {
		req.Folds = v
	}
	if v, ok := asString(raw["loss"]); ok {
		req.Loss = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asBool(raw["verbose"]); ok {
		req.Verbose = v
	}

	if dataMap, ok := raw["data"].(map[string]any); ok {
		if v, ok := asString(dataMap["csv"]); ok {
			cfg.Data.CSVPath = v
		}
		if v, ok := asStringSlice(dataMap["columns"]); ok {
			cfg.Data.Columns = v
		}
		if sineMap, ok := dataMap["sine"].(map[string]any); ok {
			cfg.Data.Sine = sineSpecFromMap(sineMap)
		}
	}

	if gridMap, ok := raw["grid"].(map[string]any); ok {
		space := make(tuning.Space, len(gridMap))
		for name, values := range gridMap {
			list, ok := values.([]any)
			if !ok {
				return evaluateConfig{}, fmt.Errorf("%w: grid %q must be a list", model.ErrConfiguration, name)
			}
			space[name] = list
		}
		cfg.Space = space
	}
	if v, ok := asString(raw["sampler"]); ok {
		cfg.Sampler = v
	}
	if v, ok := asInt(raw["samples"]); ok {
		cfg.Samples = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		cfg.Seed = v
	}
	if v, ok := asInt(raw["trial_workers"]); ok {
		cfg.Trials = v
	}
	return cfg, nil
}

func sineSpecFromMap(m map[string]any) dataset.SineSpec {
	var spec dataset.SineSpec
	if v, ok := asInt(m["length"]); ok {
		spec.Length = v
	}
	if v, ok := asInt(m["dims"]); ok {
		spec.Dims = v
	}
	if v, ok := asFloat64(m["period"]); ok {
		spec.Period = v
	}
	if v, ok := asFloat64(m["amplitude"]); ok {
		spec.Amplitude = v
	}
	if v, ok := asFloat64(m["phase"]); ok {
		spec.Phase = v
	}
	if v, ok := asFloat64(m["noise"]); ok {
		spec.Noise = v
	}
	if v, ok := asInt64(m["seed"]); ok {
		spec.Seed = v
	}
	return spec
}

// load returns the configured series and a short description of its source.
func (d dataConfig) load() (model.Series, string, error) {
	if d.CSVPath != "" {
		series, err := dataset.LoadCSV(d.CSVPath, dataset.CSVOptions{Columns: d.Columns})
		if err != nil {
			return nil, "", err
		}
		return series, "csv:" + d.CSVPath, nil
	}
	if d.Sine.Length > 0 {
		return dataset.Sine(d.Sine), fmt.Sprintf("sine:%d", d.Sine.Length), nil
	}
	return nil, "", fmt.Errorf("%w: a csv path or sine length is required", model.ErrConfiguration)
}

// loadTopologyConfig reads a topology declaration. Chain layers may be given
// as {"type", "params"} objects or [type, params] pairs; graph nodes as
// {"meta": {...}, "params"} or flattened {"id", "layer", "parent", "params"}.
func loadTopologyConfig(path string) (model.TopologyRecord, error) {
	raw, err := readConfigMap(path)
	if err != nil {
		return model.TopologyRecord{}, err
	}

	var rec model.TopologyRecord
	if v, ok := asString(raw["name"]); ok {
		rec.Name = v
	}
	if v, ok := asString(raw["form"]); ok {
		rec.Form = v
	}
	if v, ok := asString(raw["uncertainty"]); ok {
		rec.Uncertainty = v
	}
	if v, ok := asFloat64(raw["drop_rate"]); ok {
		rec.DropRate = v
	}
	shape, err := inputShapeFromAny(raw["input_shape"])
	if err != nil {
		return model.TopologyRecord{}, err
	}
	rec.InputShape = shape

	if list, ok := raw["chain"].([]any); ok {
		for i, item := range list {
			spec, err := layerSpecFromAny(item)
			if err != nil {
				return model.TopologyRecord{}, fmt.Errorf("chain layer %d: %w", i, err)
			}
			rec.Chain = append(rec.Chain, spec)
		}
	}
	if list, ok := raw["graph"].([]any); ok {
		for i, item := range list {
			entry, err := graphEntryFromAny(item)
			if err != nil {
				return model.TopologyRecord{}, fmt.Errorf("graph node %d: %w", i, err)
			}
			rec.Graph = append(rec.Graph, entry)
		}
	}
	return rec, nil
}

func inputShapeFromAny(v any) (model.InputShape, error) {
	switch x := v.(type) {
	case []any:
		if len(x) != 2 {
			return model.InputShape{}, fmt.Errorf("%w: input_shape must be [length, dims]", model.ErrConfiguration)
		}
		length, okL := asInt(x[0])
		dims, okD := asInt(x[1])
		if !okL || !okD {
			return model.InputShape{}, fmt.Errorf("%w: input_shape values must be integers", model.ErrConfiguration)
		}
		return model.InputShape{Length: length, Dims: dims}, nil
	case map[string]any:
		length, _ := asInt(x["length"])
		dims, _ := asInt(x["dims"])
		return model.InputShape{Length: length, Dims: dims}, nil
	default:
		return model.InputShape{}, fmt.Errorf("%w: input_shape is required", model.ErrConfiguration)
	}
}

func layerSpecFromAny(v any) (model.LayerSpec, error) {
	switch x := v.(type) {
	case map[string]any:
		t, ok := asString(x["type"])
		if !ok {
			return model.LayerSpec{}, fmt.Errorf("%w: layer type is required", model.ErrConfiguration)
		}
		params, _ := x["params"].(map[string]any)
		return model.LayerSpec{Type: t, Params: model.Params(params)}, nil
	case []any:
		if len(x) == 0 || len(x) > 2 {
			return model.LayerSpec{}, fmt.Errorf("%w: layer pair must be [type, params]", model.ErrConfiguration)
		}
		t, ok := asString(x[0])
		if !ok {
			return model.LayerSpec{}, fmt.Errorf("%w: layer type must be a string", model.ErrConfiguration)
		}
		spec := model.LayerSpec{Type: t}
		if len(x) == 2 {
			params, ok := x[1].(map[string]any)
			if !ok {
				return model.LayerSpec{}, fmt.Errorf("%w: layer params must be an object", model.ErrConfiguration)
			}
			spec.Params = model.Params(params)
		}
		return spec, nil
	default:
		return model.LayerSpec{}, fmt.Errorf("%w: unsupported layer declaration %T", model.ErrConfiguration, v)
	}
}

func graphEntryFromAny(v any) (model.GraphEntry, error) {
	x, ok := v.(map[string]any)
	if !ok {
		return model.GraphEntry{}, fmt.Errorf("%w: graph node must be an object", model.ErrConfiguration)
	}
	meta := x
	if nested, ok := x["meta"].(map[string]any); ok {
		meta = nested
	}
	var entry model.GraphEntry
	entry.Meta.ID, _ = asString(meta["id"])
	entry.Meta.Layer, _ = asString(meta["layer"])
	entry.Meta.Parent, _ = asString(meta["parent"])
	if params, ok := x["params"].(map[string]any); ok {
		entry.Params = model.Params(params)
	}
	return entry, nil
}

// parseGrid reads "name=v1,v2,..." flags. Numeric values become float64 to
// match JSON decoding; anything else stays a string.
func parseGrid(specs []string) (tuning.Space, error) {
	space := make(tuning.Space, len(specs))
	for _, spec := range specs {
		name, values, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.TrimSpace(values) == "" {
			return nil, fmt.Errorf("%w: grid flag must be name=v1,v2: %q", model.ErrConfiguration, spec)
		}
		for _, raw := range strings.Split(values, ",") {
			space[name] = append(space[name], parseScalar(raw))
		}
	}
	return space, nil
}

func parseScalar(raw string) any {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func parseParams(specs []string) (model.Params, error) {
	params := make(model.Params, len(specs))
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: param flag must be name=value: %q", model.ErrConfiguration, spec)
		}
		params[name] = parseScalar(value)
	}
	return params, nil
}

func parseColumns(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatParams(p model.Params) string {
	if len(p) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, ",")
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asStringSlice(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
