package metrics

import (
	"errors"
	"math"
	"testing"

	"forecastnet/internal/model"
)

func TestBuiltInLosses(t *testing.T) {
	predictions := model.Series{{1, 2}, {3, 5}}
	actuals := model.Series{{1, 4}, {2, 5}}

	cases := []struct {
		name string
		want float64
	}{
		{"mse", (0 + 4 + 1 + 0) / 4.0},
		{"rmse", math.Sqrt(5.0 / 4.0)},
		{"mae", (0 + 2 + 1 + 0) / 4.0},
		{"mape", (0 + 50 + 50 + 0) / 4.0},
		{"smape", (0 + 200*2/6.0 + 200*1/5.0 + 0) / 4.0},
	}
	for _, tc := range cases {
		fn, err := Get(tc.name)
		if err != nil {
			t.Fatalf("get %s: %v", tc.name, err)
		}
		got, err := fn(predictions, actuals)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: got=%f want=%f", tc.name, got, tc.want)
		}
	}
}

func TestUnknownMetric(t *testing.T) {
	_, err := Get("hinge")
	if !errors.Is(err, model.ErrUnknownMetric) {
		t.Fatalf("expected ErrUnknownMetric, got: %v", err)
	}
}

func TestShapeMismatch(t *testing.T) {
	if _, err := MSE(model.Series{{1}}, model.Series{{1}, {2}}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for row count, got: %v", err)
	}
	if _, err := MAE(model.Series{{1, 2}}, model.Series{{1}}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for width, got: %v", err)
	}
	if _, err := MSE(nil, nil); !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData for empty input, got: %v", err)
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("zero", func(_, _ model.Series) (float64, error) { return 0, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("zero", MSE); !errors.Is(err, ErrMetricExists) {
		t.Fatalf("expected ErrMetricExists, got: %v", err)
	}
	if got := r.List(); len(got) != 1 || got[0] != "zero" {
		t.Fatalf("unexpected metrics: %v", got)
	}
	if got := List(); len(got) != 5 {
		t.Fatalf("unexpected built-in metrics: %v", got)
	}
}
