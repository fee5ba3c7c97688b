package forecast

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"forecastnet/internal/model"
	"forecastnet/internal/validation"
)

const defaultRidge = 1e-6

// Linear is a ridge-regularized autoregression over the flattened lookback
// window plus an intercept.
type Linear struct {
	lookback int
	ridge    float64
	dims     int
	weights  *mat.Dense
}

func NewLinear(params model.Params) (validation.Forecaster, error) {
	lookback, err := lookbackParam(params)
	if err != nil {
		return nil, err
	}
	ridge, ok, err := params.Float("ridge")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	}
	if !ok {
		ridge = defaultRidge
	}
	if ridge < 0 {
		return nil, fmt.Errorf("%w: ridge must be >= 0, got %v", model.ErrConfiguration, ridge)
	}
	return &Linear{lookback: lookback, ridge: ridge}, nil
}

func (l *Linear) features() int {
	return l.lookback*l.dims + 1
}

func (l *Linear) row(window model.Series, dst []float64) {
	k := 0
	for _, obs := range window {
		k += copy(dst[k:], obs)
	}
	dst[k] = 1
}

func (l *Linear) Fit(_ context.Context, data model.Series, _ bool) error {
	samples := len(data) - l.lookback
	if samples < 1 {
		return fmt.Errorf("%w: %d observations for lookback %d", model.ErrInsufficientData, len(data), l.lookback)
	}
	l.dims = data.Dims()
	features := l.features()

	x := mat.NewDense(samples, features, nil)
	y := mat.NewDense(samples, l.dims, nil)
	buf := make([]float64, features)
	for r := 0; r < samples; r++ {
		l.row(data[r:r+l.lookback], buf)
		x.SetRow(r, buf)
		y.SetRow(r, data[r+l.lookback])
	}

	var gram mat.Dense
	gram.Mul(x.T(), x)
	for i := 0; i < features; i++ {
		gram.Set(i, i, gram.At(i, i)+l.ridge)
	}
	var moment mat.Dense
	moment.Mul(x.T(), y)

	var weights mat.Dense
	if err := weights.Solve(&gram, &moment); err != nil {
		// An ill-conditioned system still yields a usable solution.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("solve autoregression: %w", err)
		}
	}
	l.weights = &weights
	return nil
}

func (l *Linear) Predict(ctx context.Context, data model.Series) (model.Series, error) {
	if l.weights == nil {
		return nil, errors.New("linear forecaster is not fitted")
	}
	if dims := data.Dims(); len(data) > 0 && dims != l.dims {
		return nil, fmt.Errorf("%w: series has %d dims, model was fitted on %d", model.ErrConfiguration, dims, l.dims)
	}
	buf := make([]float64, l.features())
	return windowed(ctx, data, l.lookback, func(window model.Series) []float64 {
		l.row(window, buf)
		var out mat.Dense
		out.Mul(mat.NewDense(1, len(buf), buf), l.weights)
		return mat.Row(nil, 0, &out)
	})
}
