package topology

import (
	"fmt"

	"forecastnet/internal/layers"
	"forecastnet/internal/model"
)

// CompileChain turns an ordered layer list into a feed-forward chain ending in
// a projection sized to shape.Dims. A non-empty chain gets an inference-time
// dropout of dropRate right before the projection.
func CompileChain(shape model.InputShape, chain []model.LayerSpec, dropRate float64, opts ...Option) (*Graph, error) {
	cfg := newOptions(opts)
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	policy := Policy{Mode: ModeLast, DropRate: dropRate}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	// Resolve every layer type before realizing anything.
	accepted := make([]layers.ParamSet, len(chain))
	for i, spec := range chain {
		set, err := cfg.registry.AcceptedParameters(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("chain layer %d: %w", i, err)
		}
		accepted[i] = set
	}

	b := newBuilder(cfg.registry)
	handle := b.input()
	n := len(chain)
	for i, spec := range chain {
		set := accepted[i]
		params := spec.Params.Clone()
		if set.Has(layers.ParamKernelInitializer) {
			params[layers.ParamKernelInitializer] = cfg.initializer
		}
		// Stacked sequence layers need the full sequence from their predecessor.
		if set.Has(layers.ParamReturnSequences) && i < n-1 {
			params[layers.ParamReturnSequences] = true
		}
		if i == 0 && set.Has(layers.ParamInputShape) {
			params[layers.ParamInputShape] = inputShapeParam(shape)
		}

		var err error
		handle, err = b.layer(fmt.Sprintf("layer_%d", i), spec.Type, params, handle)
		if err != nil {
			return nil, err
		}
	}

	if n > 0 {
		var err error
		handle, err = policy.beforeOutput(b, handle, "mc_dropout")
		if err != nil {
			return nil, err
		}
	}

	projection := model.Params{layers.ParamUnits: shape.Dims}
	set, err := cfg.registry.AcceptedParameters(ProjectionLayer)
	if err != nil {
		return nil, err
	}
	if set.Has(layers.ParamKernelInitializer) {
		projection[layers.ParamKernelInitializer] = cfg.initializer
	}
	if n == 0 {
		projection[layers.ParamInputShape] = inputShapeParam(shape)
	}
	handle, err = b.layer("projection", ProjectionLayer, projection, handle)
	if err != nil {
		return nil, err
	}
	return b.graph(shape, handle), nil
}
