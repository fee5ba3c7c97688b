package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"forecastnet/internal/metrics"
	"forecastnet/internal/model"
)

const (
	ParamLookback = "lookback"

	DefaultTrainFraction = 0.5
	DefaultFolds         = 5
	DefaultLoss          = "mse"
)

// Forecaster is the runtime contract a validator drives. Predict returns one
// forecast per observation after the first lookback rows of data.
type Forecaster interface {
	Fit(ctx context.Context, data model.Series, verbose bool) error
	Predict(ctx context.Context, data model.Series) (model.Series, error)
}

// Factory builds a fresh, unfitted forecaster for each fold.
type Factory func(params model.Params) (Forecaster, error)

// Objective is the plain-callable form of Evaluate consumed by search drivers.
type Objective func(ctx context.Context, params model.Params) (model.Scores, error)

type TemporalCrossValidator struct {
	factory   Factory
	data      model.Series
	trainFrac float64
	folds     int
	loss      string
	lossFn    metrics.LossFunc
	workers   int
	metrics   *metrics.Registry
	logger    logrus.FieldLogger
}

type Option func(*TemporalCrossValidator)

func WithTrainFraction(frac float64) Option {
	return func(v *TemporalCrossValidator) { v.trainFrac = frac }
}

func WithFolds(n int) Option {
	return func(v *TemporalCrossValidator) { v.folds = n }
}

func WithLoss(name string) Option {
	return func(v *TemporalCrossValidator) { v.loss = name }
}

// WithWorkers evaluates up to n folds concurrently.
func WithWorkers(n int) Option {
	return func(v *TemporalCrossValidator) { v.workers = n }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(v *TemporalCrossValidator) {
		if r != nil {
			v.metrics = r
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(v *TemporalCrossValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// New validates the fold parameters and resolves the loss metric. data is
// shared read-only with every fold and must not be modified afterwards.
func New(factory Factory, data model.Series, opts ...Option) (*TemporalCrossValidator, error) {
	v := &TemporalCrossValidator{
		factory:   factory,
		data:      data,
		trainFrac: DefaultTrainFraction,
		folds:     DefaultFolds,
		loss:      DefaultLoss,
		workers:   1,
		metrics:   metrics.Default(),
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	if factory == nil {
		return nil, fmt.Errorf("%w: forecaster factory is required", model.ErrConfiguration)
	}
	if v.folds <= 0 {
		return nil, fmt.Errorf("%w: fold count must be > 0, got %d", model.ErrConfiguration, v.folds)
	}
	if !(v.trainFrac > 0 && v.trainFrac < 1) {
		return nil, fmt.Errorf("%w: train fraction must be in (0,1), got %v", model.ErrConfiguration, v.trainFrac)
	}
	dims := data.Dims()
	for i, row := range data {
		if len(row) != dims || dims == 0 {
			return nil, fmt.Errorf("%w: observation %d has %d values, want %d", model.ErrConfiguration, i, len(row), dims)
		}
	}
	lossFn, err := v.metrics.Get(v.loss)
	if err != nil {
		return nil, err
	}
	v.lossFn = lossFn
	if v.workers < 1 {
		v.workers = 1
	}
	return v, nil
}

func (v *TemporalCrossValidator) Loss() string {
	return v.loss
}

// Objective exposes Evaluate, without per-fold reporting, as a plain function.
func (v *TemporalCrossValidator) Objective() Objective {
	return func(ctx context.Context, params model.Params) (model.Scores, error) {
		return v.Evaluate(ctx, params, false)
	}
}

func (v *TemporalCrossValidator) Evaluate(ctx context.Context, params model.Params, verbose bool) (model.Scores, error) {
	scores, _, err := v.EvaluateFolds(ctx, params, verbose)
	return scores, err
}

// EvaluateFolds fits a fresh forecaster per fold and returns the aggregate
// scores together with the per-fold losses in fold order.
func (v *TemporalCrossValidator) EvaluateFolds(ctx context.Context, params model.Params, verbose bool) (model.Scores, []model.FoldScore, error) {
	lookback, ok, err := params.Int(ParamLookback)
	if err != nil {
		return model.Scores{}, nil, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	}
	if !ok {
		return model.Scores{}, nil, fmt.Errorf("%w: params require %q", model.ErrConfiguration, ParamLookback)
	}
	folds, err := v.GenerateFolds(lookback)
	if err != nil {
		return model.Scores{}, nil, err
	}

	var scored []model.FoldScore
	if v.workers > 1 && folds.Len() > 1 {
		scored, err = v.runParallel(ctx, folds, params, lookback, verbose)
	} else {
		scored, err = v.runSequential(ctx, folds, params, lookback, verbose)
	}
	if err != nil {
		return model.Scores{}, nil, err
	}
	return aggregate(scored), scored, nil
}

func (v *TemporalCrossValidator) runSequential(ctx context.Context, folds *FoldSequence, params model.Params, lookback int, verbose bool) ([]model.FoldScore, error) {
	scored := make([]model.FoldScore, 0, folds.Len())
	for fold, ok := folds.Next(); ok; fold, ok = folds.Next() {
		score, err := v.evaluateFold(ctx, fold, params, lookback, verbose)
		if err != nil {
			return nil, err
		}
		scored = append(scored, score)
	}
	return scored, nil
}

func (v *TemporalCrossValidator) runParallel(ctx context.Context, folds *FoldSequence, params model.Params, lookback int, verbose bool) ([]model.FoldScore, error) {
	type result struct {
		score model.FoldScore
		err   error
	}

	jobs := make(chan Fold)
	results := make(chan result, folds.Len())

	workerCount := v.workers
	if workerCount > folds.Len() {
		workerCount = folds.Len()
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for fold := range jobs {
				score, err := v.evaluateFold(ctx, fold, params, lookback, verbose)
				results <- result{score: score, err: err}
			}
		}()
	}

	for fold, ok := folds.Next(); ok; fold, ok = folds.Next() {
		jobs <- fold
	}
	close(jobs)

	wg.Wait()
	close(results)

	scored := make([]model.FoldScore, folds.Len())
	var errs []error
	for res := range results {
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		scored[res.score.Fold] = res.score
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return scored, nil
}

func (v *TemporalCrossValidator) evaluateFold(ctx context.Context, fold Fold, params model.Params, lookback int, verbose bool) (model.FoldScore, error) {
	forecaster, err := v.factory(params.Clone())
	if err != nil {
		return model.FoldScore{}, fmt.Errorf("fold %d: build forecaster: %w", fold.Index, err)
	}
	if err := forecaster.Fit(ctx, fold.Train, false); err != nil {
		return model.FoldScore{}, fmt.Errorf("fold %d: fit: %w", fold.Index, err)
	}

	trainLoss, err := v.score(ctx, forecaster, fold.Train, lookback)
	if err != nil {
		return model.FoldScore{}, fmt.Errorf("fold %d: train: %w", fold.Index, err)
	}
	testLoss, err := v.score(ctx, forecaster, fold.Test, lookback)
	if err != nil {
		return model.FoldScore{}, fmt.Errorf("fold %d: test: %w", fold.Index, err)
	}

	entry := v.logger.WithFields(logrus.Fields{
		"fold":       fold.Index,
		"metric":     v.loss,
		"train_loss": trainLoss,
		"test_loss":  testLoss,
	})
	if verbose {
		entry.Info("fold evaluated")
	} else {
		entry.Debug("fold evaluated")
	}
	return model.FoldScore{Fold: fold.Index, TrainLoss: trainLoss, TestLoss: testLoss}, nil
}

func (v *TemporalCrossValidator) score(ctx context.Context, forecaster Forecaster, segment model.Series, lookback int) (float64, error) {
	predictions, err := forecaster.Predict(ctx, segment)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	loss, err := v.lossFn(predictions, segment[lookback:])
	if err != nil {
		return 0, err
	}
	return round2(loss), nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// aggregate uses population standard deviation.
func aggregate(scored []model.FoldScore) model.Scores {
	train := make([]float64, len(scored))
	test := make([]float64, len(scored))
	for i, s := range scored {
		train[i] = s.TrainLoss
		test[i] = s.TestLoss
	}
	testMean, testStd := stat.PopMeanStdDev(test, nil)
	trainMean, trainStd := stat.PopMeanStdDev(train, nil)
	return model.Scores{
		Loss:         testMean,
		LossStd:      testStd,
		LossMin:      floats.Min(test),
		LossMax:      floats.Max(test),
		TrainLoss:    trainMean,
		TrainLossStd: trainStd,
		TrainLossMin: floats.Min(train),
		TrainLossMax: floats.Max(train),
	}
}
