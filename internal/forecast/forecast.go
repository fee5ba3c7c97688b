// Package forecast provides small reference forecasters that satisfy the
// validation runtime contract. They are baselines, not trained networks.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"forecastnet/internal/model"
	"forecastnet/internal/validation"
)

var ErrForecasterNotFound = errors.New("forecaster not found")

var factories = map[string]validation.Factory{
	"naive":  NewNaive,
	"mean":   NewMean,
	"linear": NewLinear,
}

func Lookup(name string) (validation.Factory, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", model.ErrConfiguration, ErrForecasterNotFound, name)
	}
	return factory, nil
}

func List() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookbackParam(params model.Params) (int, error) {
	lookback, ok, err := params.Int(validation.ParamLookback)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: params require %q", model.ErrConfiguration, validation.ParamLookback)
	}
	if lookback < 0 {
		return 0, fmt.Errorf("%w: lookback must be >= 0, got %d", model.ErrConfiguration, lookback)
	}
	return lookback, nil
}

// windowed calls fn for every forecast position of data and collects one row
// per position. fn receives the lookback rows preceding the target.
func windowed(ctx context.Context, data model.Series, lookback int, fn func(window model.Series) []float64) (model.Series, error) {
	if len(data) < lookback {
		return nil, fmt.Errorf("%w: %d observations for lookback %d", model.ErrInsufficientData, len(data), lookback)
	}
	out := make(model.Series, 0, len(data)-lookback)
	for t := lookback; t < len(data); t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, fn(data[t-lookback:t]))
	}
	return out, nil
}

// Naive repeats the previous observation; with no lookback it repeats the
// last training observation.
type Naive struct {
	lookback int
	last     []float64
}

func NewNaive(params model.Params) (validation.Forecaster, error) {
	lookback, err := lookbackParam(params)
	if err != nil {
		return nil, err
	}
	return &Naive{lookback: lookback}, nil
}

func (n *Naive) Fit(_ context.Context, data model.Series, _ bool) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty training series", model.ErrInsufficientData)
	}
	n.last = append([]float64(nil), data[len(data)-1]...)
	return nil
}

func (n *Naive) Predict(ctx context.Context, data model.Series) (model.Series, error) {
	if n.last == nil {
		return nil, errors.New("naive forecaster is not fitted")
	}
	return windowed(ctx, data, n.lookback, func(window model.Series) []float64 {
		if len(window) == 0 {
			return append([]float64(nil), n.last...)
		}
		return append([]float64(nil), window[len(window)-1]...)
	})
}

// Mean averages the lookback window; with no lookback it predicts the
// training mean.
type Mean struct {
	lookback int
	mean     []float64
}

func NewMean(params model.Params) (validation.Forecaster, error) {
	lookback, err := lookbackParam(params)
	if err != nil {
		return nil, err
	}
	return &Mean{lookback: lookback}, nil
}

func (m *Mean) Fit(_ context.Context, data model.Series, _ bool) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty training series", model.ErrInsufficientData)
	}
	m.mean = columnMeans(data)
	return nil
}

func (m *Mean) Predict(ctx context.Context, data model.Series) (model.Series, error) {
	if m.mean == nil {
		return nil, errors.New("mean forecaster is not fitted")
	}
	return windowed(ctx, data, m.lookback, func(window model.Series) []float64 {
		if len(window) == 0 {
			return append([]float64(nil), m.mean...)
		}
		return columnMeans(window)
	})
}

func columnMeans(data model.Series) []float64 {
	out := make([]float64, data.Dims())
	for _, row := range data {
		for j, v := range row {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(data))
	}
	return out
}
