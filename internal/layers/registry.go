package layers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"forecastnet/internal/model"
)

const (
	ParamUnits             = "units"
	ParamActivation        = "activation"
	ParamKernelInitializer = "kernel_initializer"
	ParamReturnSequences   = "return_sequences"
	ParamInputShape        = "input_shape"
	ParamRate              = "rate"
)

var (
	ErrLayerExists   = errors.New("layer type already registered")
	ErrLayerNotFound = errors.New("layer type not found")
	ErrInvalidParams = errors.New("invalid layer parameters")
)

// Layer is a realized layer instance handed to the execution runtime.
type Layer interface {
	Type() string
	Params() model.Params
}

// Factory builds a layer from parameters already checked against the
// declared capability table.
type Factory func(params model.Params) (Layer, error)

type Spec struct {
	Name     string
	Accepts  []string
	Required []string
	Factory  Factory
}

type ParamSet map[string]struct{}

func NewParamSet(names ...string) ParamSet {
	set := make(ParamSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (s ParamSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s ParamSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type registeredLayer struct {
	accepts  ParamSet
	required []string
	factory  Factory
}

// Registry maps layer-type identifiers to a factory and its static
// accepted-parameter table.
type Registry struct {
	mu sync.RWMutex
	m  map[string]registeredLayer
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]registeredLayer)}
}

var defaultRegistry = NewRegistry()

func init() {
	registerBuiltInLayers(defaultRegistry)
}

// Default returns the process-wide catalog seeded with the built-in layers.
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return errors.New("layer type name is required")
	}
	accepts := NewParamSet(spec.Accepts...)
	for _, name := range spec.Required {
		if !accepts.Has(name) {
			return fmt.Errorf("layer %s: required parameter %s is not accepted", spec.Name, name)
		}
	}
	factory := spec.Factory
	if factory == nil {
		name := spec.Name
		factory = func(params model.Params) (Layer, error) {
			return NewInstance(name, params), nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrLayerExists, spec.Name)
	}
	r.m[spec.Name] = registeredLayer{
		accepts:  accepts,
		required: append([]string(nil), spec.Required...),
		factory:  factory,
	}
	return nil
}

func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(layerType string) (registeredLayer, error) {
	r.mu.RLock()
	entry, ok := r.m[layerType]
	r.mu.RUnlock()
	if !ok {
		return registeredLayer{}, fmt.Errorf("%w: %w: %q", model.ErrConfiguration, ErrLayerNotFound, layerType)
	}
	return entry, nil
}

// AcceptedParameters reports the parameter names layerType accepts. The
// returned set is a copy.
func (r *Registry) AcceptedParameters(layerType string) (ParamSet, error) {
	entry, err := r.lookup(layerType)
	if err != nil {
		return nil, err
	}
	out := make(ParamSet, len(entry.accepts))
	for name := range entry.accepts {
		out[name] = struct{}{}
	}
	return out, nil
}

// New constructs a layer. Parameters outside the capability table and
// missing required parameters are rejected before the factory runs.
func (r *Registry) New(layerType string, params model.Params) (Layer, error) {
	entry, err := r.lookup(layerType)
	if err != nil {
		return nil, err
	}
	for _, name := range params.Keys() {
		if !entry.accepts.Has(name) {
			return nil, fmt.Errorf("%w: %s does not accept %s", ErrInvalidParams, layerType, name)
		}
	}
	for _, name := range entry.required {
		if _, ok := params[name]; !ok {
			return nil, fmt.Errorf("%w: %s requires %s", ErrInvalidParams, layerType, name)
		}
	}
	return entry.factory(params.Clone())
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.m))
	for name := range r.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Register(spec Spec) error {
	return defaultRegistry.Register(spec)
}

func MustRegister(spec Spec) {
	defaultRegistry.MustRegister(spec)
}

func AcceptedParameters(layerType string) (ParamSet, error) {
	return defaultRegistry.AcceptedParameters(layerType)
}

func New(layerType string, params model.Params) (Layer, error) {
	return defaultRegistry.New(layerType, params)
}

func List() []string {
	return defaultRegistry.List()
}
