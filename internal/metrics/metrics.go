package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"forecastnet/internal/model"
)

var (
	ErrMetricExists  = errors.New("metric already registered")
	ErrShapeMismatch = errors.New("prediction shape mismatch")
)

// LossFunc scores predictions against actuals; lower is better.
type LossFunc func(predictions, actuals model.Series) (float64, error)

type Registry struct {
	mu sync.RWMutex
	m  map[string]LossFunc
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]LossFunc)}
}

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.MustRegister("mse", MSE)
	defaultRegistry.MustRegister("rmse", RMSE)
	defaultRegistry.MustRegister("mae", MAE)
	defaultRegistry.MustRegister("mape", MAPE)
	defaultRegistry.MustRegister("smape", SMAPE)
}

func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) Register(name string, fn LossFunc) error {
	if name == "" {
		return errors.New("metric name is required")
	}
	if fn == nil {
		return errors.New("metric function is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrMetricExists, name)
	}
	r.m[name] = fn
	return nil
}

func (r *Registry) MustRegister(name string, fn LossFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (LossFunc, error) {
	r.mu.RLock()
	fn, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownMetric, name)
	}
	return fn, nil
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

func Get(name string) (LossFunc, error) {
	return defaultRegistry.Get(name)
}

func List() []string {
	return defaultRegistry.List()
}

func MSE(predictions, actuals model.Series) (float64, error) {
	return meanOver(predictions, actuals, func(p, a float64) float64 {
		d := p - a
		return d * d
	})
}

func RMSE(predictions, actuals model.Series) (float64, error) {
	mse, err := MSE(predictions, actuals)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

func MAE(predictions, actuals model.Series) (float64, error) {
	return meanOver(predictions, actuals, func(p, a float64) float64 {
		return math.Abs(p - a)
	})
}

// MAPE is reported in percent. Zero actuals contribute nothing.
func MAPE(predictions, actuals model.Series) (float64, error) {
	return meanOver(predictions, actuals, func(p, a float64) float64 {
		if a == 0 {
			return 0
		}
		return 100 * math.Abs((a-p)/a)
	})
}

// SMAPE is reported in percent on the [0, 200] scale.
func SMAPE(predictions, actuals model.Series) (float64, error) {
	return meanOver(predictions, actuals, func(p, a float64) float64 {
		denom := math.Abs(a) + math.Abs(p)
		if denom == 0 {
			return 0
		}
		return 200 * math.Abs(p-a) / denom
	})
}

func meanOver(predictions, actuals model.Series, term func(p, a float64) float64) (float64, error) {
	if len(predictions) != len(actuals) {
		return 0, fmt.Errorf("%w: %d predictions for %d actuals", ErrShapeMismatch, len(predictions), len(actuals))
	}
	if len(actuals) == 0 {
		return 0, fmt.Errorf("%w: nothing to score", model.ErrInsufficientData)
	}
	var (
		total float64
		count int
	)
	for i := range actuals {
		if len(predictions[i]) != len(actuals[i]) {
			return 0, fmt.Errorf("%w: row %d has %d values, want %d", ErrShapeMismatch, i, len(predictions[i]), len(actuals[i]))
		}
		for j := range actuals[i] {
			total += term(predictions[i][j], actuals[i][j])
			count++
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: nothing to score", model.ErrInsufficientData)
	}
	return total / float64(count), nil
}
