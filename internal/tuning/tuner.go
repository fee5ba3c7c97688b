package tuning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"forecastnet/internal/model"
	"forecastnet/internal/validation"
)

// Trial is one evaluated point. Err is set when the objective rejected the
// candidate; its Scores are then zero.
type Trial struct {
	Index  int
	Params model.Params
	Scores model.Scores
	Err    error
}

func (t Trial) OK() bool { return t.Err == nil }

// Result holds trials ranked by ascending loss, failed trials last.
type Result struct {
	Sampler string
	Trials  []Trial
}

func (r Result) Best() (Trial, bool) {
	if len(r.Trials) == 0 || !r.Trials[0].OK() {
		return Trial{}, false
	}
	return r.Trials[0], true
}

func (r Result) Failed() int {
	n := 0
	for _, t := range r.Trials {
		if !t.OK() {
			n++
		}
	}
	return n
}

type Search struct {
	Sampler Sampler
	Workers int
	Logger  logrus.FieldLogger
}

// Run evaluates every candidate the sampler yields. Cancellation aborts the
// search; any other objective error only fails its own trial. Run errors when
// no trial succeeds.
func (s Search) Run(ctx context.Context, base model.Params, space Space, objective validation.Objective) (Result, error) {
	if objective == nil {
		return Result{}, fmt.Errorf("%w: objective is required", model.ErrConfiguration)
	}
	sampler := s.Sampler
	if sampler == nil {
		sampler = GridSampler{}
	}
	logger := s.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	candidates, err := sampler.Candidates(base, space)
	if err != nil {
		return Result{}, err
	}

	trials, err := s.evaluate(ctx, candidates, objective, logger)
	if err != nil {
		return Result{}, err
	}
	rank(trials)

	result := Result{Sampler: sampler.Name(), Trials: trials}
	if _, ok := result.Best(); !ok {
		errs := make([]error, 0, len(trials))
		for _, t := range trials {
			errs = append(errs, t.Err)
		}
		return result, fmt.Errorf("all %d trials failed: %w", len(trials), errors.Join(errs...))
	}
	return result, nil
}

func (s Search) evaluate(ctx context.Context, candidates []model.Params, objective validation.Objective, logger logrus.FieldLogger) ([]Trial, error) {
	workerCount := s.Workers
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > len(candidates) {
		workerCount = len(candidates)
	}

	jobs := make(chan int)
	results := make(chan Trial, len(candidates))

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				scores, err := objective(ctx, candidates[i])
				entry := logger.WithField("trial", i)
				if err != nil {
					entry.WithError(err).Debug("trial failed")
				} else {
					entry.WithField("loss", scores.Loss).Debug("trial scored")
				}
				results <- Trial{Index: i, Params: candidates[i], Scores: scores, Err: err}
			}
		}()
	}

dispatch:
	for i := range candidates {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)

	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trials := make([]Trial, 0, len(candidates))
	for t := range results {
		trials = append(trials, t)
	}
	return trials, nil
}

func rank(trials []Trial) {
	sort.SliceStable(trials, func(i, j int) bool {
		a, b := trials[i], trials[j]
		if a.OK() != b.OK() {
			return a.OK()
		}
		if a.OK() && a.Scores.Loss != b.Scores.Loss {
			return a.Scores.Loss < b.Scores.Loss
		}
		return a.Index < b.Index
	})
}
