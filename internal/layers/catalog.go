package layers

import (
	"fmt"

	"forecastnet/internal/model"
)

// Instance is the generic realized layer used by the built-in catalog.
type Instance struct {
	kind   string
	params model.Params
}

func NewInstance(kind string, params model.Params) *Instance {
	return &Instance{kind: kind, params: params.Clone()}
}

func (l *Instance) Type() string { return l.kind }

func (l *Instance) Params() model.Params { return l.params.Clone() }

var knownActivations = map[string]struct{}{
	"linear":       {},
	"relu":         {},
	"elu":          {},
	"selu":         {},
	"tanh":         {},
	"sigmoid":      {},
	"hard_sigmoid": {},
	"softmax":      {},
	"softplus":     {},
	"softsign":     {},
	"exponential":  {},
	"swish":        {},
}

var recurrentParams = []string{
	ParamUnits, ParamActivation, "recurrent_activation", "use_bias",
	ParamKernelInitializer, "recurrent_initializer", "bias_initializer",
	"dropout", "recurrent_dropout", ParamReturnSequences, "return_state",
	"go_backwards", "stateful", ParamInputShape,
}

func registerBuiltInLayers(r *Registry) {
	r.MustRegister(Spec{
		Name: "Dense",
		Accepts: []string{
			ParamUnits, ParamActivation, "use_bias", ParamKernelInitializer,
			"bias_initializer", "kernel_regularizer", "bias_regularizer", ParamInputShape,
		},
		Required: []string{ParamUnits},
		Factory:  checked("Dense", positiveInt(ParamUnits), activation),
	})
	for _, name := range []string{"LSTM", "GRU", "SimpleRNN"} {
		r.MustRegister(Spec{
			Name:     name,
			Accepts:  recurrentParams,
			Required: []string{ParamUnits},
			Factory:  checked(name, positiveInt(ParamUnits), activation, unitInterval("dropout"), unitInterval("recurrent_dropout")),
		})
	}
	r.MustRegister(Spec{
		Name: "Conv1D",
		Accepts: []string{
			"filters", "kernel_size", "strides", "padding", "dilation_rate",
			ParamActivation, "use_bias", ParamKernelInitializer, "bias_initializer", ParamInputShape,
		},
		Required: []string{"filters", "kernel_size"},
		Factory:  checked("Conv1D", positiveInt("filters"), positiveInt("kernel_size"), activation),
	})
	for _, name := range []string{"MaxPooling1D", "AveragePooling1D"} {
		r.MustRegister(Spec{
			Name:    name,
			Accepts: []string{"pool_size", "strides", "padding", ParamInputShape},
			Factory: checked(name, positiveInt("pool_size")),
		})
	}
	for _, name := range []string{"GlobalAveragePooling1D", "GlobalMaxPooling1D", "Flatten"} {
		r.MustRegister(Spec{Name: name, Accepts: []string{ParamInputShape}})
	}
	r.MustRegister(Spec{
		Name:     "Dropout",
		Accepts:  []string{ParamRate, "noise_shape", "seed", ParamInputShape},
		Required: []string{ParamRate},
		Factory:  checked("Dropout", unitInterval(ParamRate)),
	})
	r.MustRegister(Spec{
		Name:     "Activation",
		Accepts:  []string{ParamActivation, ParamInputShape},
		Required: []string{ParamActivation},
		Factory:  checked("Activation", activation),
	})
	r.MustRegister(Spec{
		Name:    "BatchNormalization",
		Accepts: []string{"axis", "momentum", "epsilon", "center", "scale", ParamInputShape},
	})
}

type paramCheck func(params model.Params) error

func checked(kind string, checks ...paramCheck) Factory {
	return func(params model.Params) (Layer, error) {
		for _, check := range checks {
			if err := check(params); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, kind, err)
			}
		}
		return NewInstance(kind, params), nil
	}
}

func positiveInt(key string) paramCheck {
	return func(params model.Params) error {
		n, ok, err := params.Int(key)
		if err != nil {
			return err
		}
		if ok && n <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", key, n)
		}
		return nil
	}
}

func unitInterval(key string) paramCheck {
	return func(params model.Params) error {
		f, ok, err := params.Float(key)
		if err != nil {
			return err
		}
		if ok && (f < 0 || f >= 1) {
			return fmt.Errorf("%s must be in [0,1), got %v", key, f)
		}
		return nil
	}
}

func activation(params model.Params) error {
	raw, ok := params[ParamActivation]
	if !ok || raw == nil {
		return nil
	}
	name, isString := raw.(string)
	if !isString {
		return fmt.Errorf("activation must be a string, got %T", raw)
	}
	if _, known := knownActivations[name]; !known {
		return fmt.Errorf("unsupported activation: %s", name)
	}
	return nil
}
