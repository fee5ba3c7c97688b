package topology

import (
	"fmt"
	"strings"

	"forecastnet/internal/layers"
	"forecastnet/internal/model"
)

// CompileGraph realizes a single-parent node graph rooted at InputNodeID and
// converging at OutputNodeID. Entries must be declared parents-first.
func CompileGraph(shape model.InputShape, entries []model.GraphEntry, policy Policy, opts ...Option) (*Graph, error) {
	cfg := newOptions(opts)
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	accepted, err := validateEntries(cfg.registry, entries)
	if err != nil {
		return nil, err
	}

	b := newBuilder(cfg.registry)
	handles := map[string]string{InputNodeID: b.input()}
	for i, entry := range entries {
		meta := entry.Meta
		set := accepted[i]
		params := entry.Params.Clone()
		if set.Has(layers.ParamKernelInitializer) {
			params[layers.ParamKernelInitializer] = cfg.initializer
		}
		isOutput := meta.ID == OutputNodeID
		if isOutput {
			params[layers.ParamUnits] = shape.Dims
		}

		parent, ok := handles[meta.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: node %q references unrealized parent %q", model.ErrConfiguration, meta.ID, meta.Parent)
		}
		if isOutput {
			parent, err = policy.beforeOutput(b, parent, meta.ID+"/mc_dropout")
			if err != nil {
				return nil, err
			}
		}

		handle, err := b.layer(meta.ID, meta.Layer, params, parent)
		if err != nil {
			return nil, err
		}
		handle, err = policy.afterLayer(b, handle, meta.ID+"/dropout")
		if err != nil {
			return nil, err
		}
		handles[meta.ID] = handle
	}

	output, ok := handles[OutputNodeID]
	if !ok {
		return nil, fmt.Errorf("%w: topology never produces %q", model.ErrConfiguration, OutputNodeID)
	}
	return b.graph(shape, output), nil
}

// validateEntries checks the whole declaration before any layer is realized
// and returns the accepted parameter set of each entry.
func validateEntries(registry *layers.Registry, entries []model.GraphEntry) ([]layers.ParamSet, error) {
	declared := map[string]struct{}{InputNodeID: {}}
	accepted := make([]layers.ParamSet, len(entries))
	hasOutput := false
	for i, entry := range entries {
		meta := entry.Meta
		switch {
		case meta.ID == "":
			return nil, fmt.Errorf("%w: node %d has no id", model.ErrConfiguration, i)
		case meta.ID == InputNodeID:
			return nil, fmt.Errorf("%w: node %d redeclares %q", model.ErrConfiguration, i, InputNodeID)
		case strings.Contains(meta.ID, "/"):
			return nil, fmt.Errorf("%w: node id %q must not contain '/'", model.ErrConfiguration, meta.ID)
		}
		if _, dup := declared[meta.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", model.ErrConfiguration, meta.ID)
		}
		if _, ok := declared[meta.Parent]; !ok {
			return nil, fmt.Errorf("%w: node %q references undeclared parent %q", model.ErrConfiguration, meta.ID, meta.Parent)
		}

		set, err := registry.AcceptedParameters(meta.Layer)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", meta.ID, err)
		}
		if meta.ID == OutputNodeID {
			if !set.Has(layers.ParamUnits) {
				return nil, fmt.Errorf("%w: output layer %s does not accept %s", model.ErrConfiguration, meta.Layer, layers.ParamUnits)
			}
			hasOutput = true
		}
		accepted[i] = set
		declared[meta.ID] = struct{}{}
	}
	if !hasOutput {
		return nil, fmt.Errorf("%w: topology has no %q node", model.ErrConfiguration, OutputNodeID)
	}
	return accepted, nil
}
