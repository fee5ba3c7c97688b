package tuning

import (
	"fmt"
	"math/rand"
	"sort"

	"forecastnet/internal/model"
)

// Space maps a parameter name to the discrete values a search may assign it.
type Space map[string][]any

func (s Space) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size is the number of points in the full grid.
func (s Space) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, values := range s {
		n *= len(values)
	}
	return n
}

func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: search space is empty", model.ErrConfiguration)
	}
	for _, k := range s.Keys() {
		if len(s[k]) == 0 {
			return fmt.Errorf("%w: search space %q has no values", model.ErrConfiguration, k)
		}
	}
	return nil
}

// Sampler chooses which points of a space a search evaluates.
type Sampler interface {
	Name() string
	Candidates(base model.Params, space Space) ([]model.Params, error)
}

// GridSampler enumerates every point in keys-sorted odometer order.
type GridSampler struct{}

func (GridSampler) Name() string { return "grid" }

func (GridSampler) Candidates(base model.Params, space Space) ([]model.Params, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	return enumerate(base, space), nil
}

// RandomSampler draws Samples distinct grid points without replacement.
type RandomSampler struct {
	Samples int
	Rand    *rand.Rand
}

func (RandomSampler) Name() string { return "random" }

func (s RandomSampler) Candidates(base model.Params, space Space) ([]model.Params, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if s.Samples <= 0 {
		return nil, fmt.Errorf("%w: random search requires samples > 0", model.ErrConfiguration)
	}
	all := enumerate(base, space)
	rng := s.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if s.Samples < len(all) {
		all = all[:s.Samples]
	}
	return all, nil
}

func SamplerFromConfig(name string, samples int, seed int64) (Sampler, error) {
	switch NormalizeSamplerName(name) {
	case "grid":
		return GridSampler{}, nil
	case "random":
		return RandomSampler{Samples: samples, Rand: rand.New(rand.NewSource(seed))}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported search sampler: %s", model.ErrConfiguration, name)
	}
}

func NormalizeSamplerName(name string) string {
	switch name {
	case "", "grid", "exhaustive":
		return "grid"
	case "random", "rand":
		return "random"
	default:
		return name
	}
}

func enumerate(base model.Params, space Space) []model.Params {
	keys := space.Keys()
	out := make([]model.Params, 0, space.Size())
	idx := make([]int, len(keys))
	for {
		candidate := base.Clone()
		for i, k := range keys {
			candidate[k] = space[k][idx[i]]
		}
		out = append(out, candidate)

		i := len(keys) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(space[keys[i]]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
