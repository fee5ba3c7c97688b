package validation

import (
	"fmt"

	"forecastnet/internal/model"
)

// Fold is one causal train/test partition. Both segments are read-only views
// into the validator's series; the first lookback rows of each only seed
// prediction context.
type Fold struct {
	Index int
	Train model.Series
	Test  model.Series
}

// FoldSequence yields folds lazily in a single pass. It cannot be rewound;
// call GenerateFolds again for a fresh sequence.
type FoldSequence struct {
	data        model.Series
	trainLength int
	foldLength  int
	lookback    int
	folds       int
	next        int
}

func (s *FoldSequence) Next() (Fold, bool) {
	if s.next >= s.folds {
		return Fold{}, false
	}
	i := s.next
	s.next++

	a := i * s.foldLength
	b := (i + 1) * s.foldLength
	trainEnd := s.trainLength + a
	testStart := s.trainLength + a - s.lookback
	testEnd := s.trainLength + b
	return Fold{
		Index: i,
		Train: s.data[a:trainEnd:trainEnd],
		Test:  s.data[testStart:testEnd:testEnd],
	}, true
}

// Len reports how many folds the sequence produces in total.
func (s *FoldSequence) Len() int {
	return s.folds
}

func (s *FoldSequence) TrainLength() int {
	return s.trainLength
}

func (s *FoldSequence) FoldLength() int {
	return s.foldLength
}

// GenerateFolds lays out the folds for lookback. Every fold shares the same
// geometry, so an unusable lookback is reported here for the whole
// evaluation before any forecaster is fitted.
func (v *TemporalCrossValidator) GenerateFolds(lookback int) (*FoldSequence, error) {
	if lookback < 0 {
		return nil, fmt.Errorf("%w: lookback must be >= 0, got %d", model.ErrConfiguration, lookback)
	}
	trainLength := int(float64(len(v.data)) * v.trainFrac)
	foldLength := (len(v.data) - trainLength) / v.folds

	if foldLength < 1 {
		return nil, fmt.Errorf("%w: %d observations leave no test window for %d folds at train fraction %v",
			model.ErrInsufficientData, len(v.data), v.folds, v.trainFrac)
	}
	if lookback >= trainLength {
		return nil, fmt.Errorf("%w: lookback %d needs more than %d training observations per fold",
			model.ErrInsufficientData, lookback, trainLength)
	}
	return &FoldSequence{
		data:        v.data,
		trainLength: trainLength,
		foldLength:  foldLength,
		lookback:    lookback,
		folds:       v.folds,
	}, nil
}
