package dataset

import (
	"math"
	"math/rand"

	"forecastnet/internal/model"
)

// SineSpec describes a deterministic multi-dimensional sine series. Dimension
// j is phase-shifted by j*Phase and scaled by Amplitude.
type SineSpec struct {
	Length    int
	Dims      int
	Period    float64
	Amplitude float64
	Phase     float64
	Noise     float64
	Seed      int64
}

func Sine(spec SineSpec) model.Series {
	if spec.Dims <= 0 {
		spec.Dims = 1
	}
	if spec.Period <= 0 {
		spec.Period = 24
	}
	if spec.Amplitude == 0 {
		spec.Amplitude = 1
	}
	rng := rand.New(rand.NewSource(spec.Seed))

	out := make(model.Series, spec.Length)
	for i := range out {
		row := make([]float64, spec.Dims)
		for j := range row {
			angle := 2*math.Pi*float64(i)/spec.Period + float64(j)*spec.Phase
			row[j] = spec.Amplitude * math.Sin(angle)
			if spec.Noise > 0 {
				row[j] += rng.NormFloat64() * spec.Noise
			}
		}
		out[i] = row
	}
	return out
}
