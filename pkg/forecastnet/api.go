package forecastnet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"forecastnet/internal/forecast"
	"forecastnet/internal/layers"
	"forecastnet/internal/model"
	"forecastnet/internal/stats"
	"forecastnet/internal/storage"
	"forecastnet/internal/topology"
	"forecastnet/internal/tuning"
	"forecastnet/internal/validation"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "forecastnet.db"

	FormChain = "chain"
	FormGraph = "graph"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       logrus.FieldLogger
}

type Client struct {
	store       storage.Store
	initialized bool

	artifactsDir string
	exportsDir   string
	logger       logrus.FieldLogger
	now          func() time.Time
}

// EvaluationRequest describes one cross-validated evaluation. Zero values
// take the validator defaults.
type EvaluationRequest struct {
	Forecaster string
	Params     model.Params
	Data       model.Series
	DataSource string
	TrainFrac  float64
	Folds      int
	Loss       string
	Workers    int
	Verbose    bool
}

type EvaluationSummary struct {
	RunID        string
	ArtifactsDir string
	Scores       model.Scores
	FoldScores   []model.FoldScore
}

type TuneRequest struct {
	EvaluationRequest
	Space   tuning.Space
	Sampler string
	Samples int
	Seed    int64
	// TrialWorkers bounds concurrent trials; Workers still bounds folds per trial.
	TrialWorkers int
}

type TrialItem struct {
	Rank   int
	Params model.Params
	Scores model.Scores
	Error  string
}

type TuneSummary struct {
	RunID        string
	ArtifactsDir string
	Sampler      string
	Best         TrialItem
	Trials       []TrialItem
}

type RunsRequest struct {
	Limit int
	Kind  string
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Kind         string
	Forecaster   string
	Metric       string
	Folds        int
	Observations int
	Trials       int
	Loss         float64
}

type ReportRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

// AcceptedParameters lists the constructor parameters of a registered layer type.
func (c *Client) AcceptedParameters(layerType string) ([]string, error) {
	accepted, err := layers.AcceptedParameters(layerType)
	if err != nil {
		return nil, err
	}
	return accepted.Names(), nil
}

func (c *Client) LayerTypes() []string {
	return layers.List()
}

func (c *Client) Forecasters() []string {
	return forecast.List()
}

// Compile builds the graph a topology record declares. An empty Form is
// inferred from which of Chain or Graph is populated.
func (c *Client) Compile(_ context.Context, rec model.TopologyRecord) (*topology.Graph, error) {
	form, err := topologyForm(rec)
	if err != nil {
		return nil, err
	}
	switch form {
	case FormChain:
		if rec.Uncertainty != "" {
			mode, err := topology.ParseMode(rec.Uncertainty)
			if err != nil {
				return nil, err
			}
			if mode != topology.ModeLast {
				return nil, fmt.Errorf("%w: chain topologies only support %q uncertainty, got %q", model.ErrConfiguration, topology.ModeLast, rec.Uncertainty)
			}
		}
		return topology.CompileChain(rec.InputShape, rec.Chain, rec.DropRate)
	default:
		mode, err := topology.ParseMode(rec.Uncertainty)
		if err != nil {
			return nil, err
		}
		return topology.CompileGraph(rec.InputShape, rec.Graph, topology.Policy{Mode: mode, DropRate: rec.DropRate})
	}
}

// SaveTopology compiles rec to check it, then stores it under its name.
func (c *Client) SaveTopology(ctx context.Context, rec model.TopologyRecord) error {
	if strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("%w: topology name is required", model.ErrConfiguration)
	}
	form, err := topologyForm(rec)
	if err != nil {
		return err
	}
	if _, err := c.Compile(ctx, rec); err != nil {
		return err
	}
	if err := c.ensureStore(ctx); err != nil {
		return err
	}
	rec.Form = form
	rec.VersionedRecord = storage.CurrentVersion()
	return c.store.SaveTopology(ctx, rec)
}

func (c *Client) Topology(ctx context.Context, name string) (model.TopologyRecord, error) {
	if err := c.ensureStore(ctx); err != nil {
		return model.TopologyRecord{}, err
	}
	rec, ok, err := c.store.GetTopology(ctx, name)
	if err != nil {
		return model.TopologyRecord{}, err
	}
	if !ok {
		return model.TopologyRecord{}, fmt.Errorf("topology not found: %s", name)
	}
	return rec, nil
}

func (c *Client) Topologies(ctx context.Context) ([]model.TopologyRecord, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	return c.store.ListTopologies(ctx)
}

func (c *Client) Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationSummary, error) {
	validator, err := c.validator(req)
	if err != nil {
		return EvaluationSummary{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return EvaluationSummary{}, err
	}

	scores, folds, err := validator.EvaluateFolds(ctx, req.Params, req.Verbose)
	if err != nil {
		return EvaluationSummary{}, err
	}

	now := c.now().UTC()
	runID := uuid.NewString()
	runDir, err := c.record(ctx, now, stats.RunArtifacts{
		Config:     c.runConfig(runID, stats.RunKindEvaluate, req, validator),
		FoldScores: folds,
		Scores:     scores,
	})
	if err != nil {
		return EvaluationSummary{}, err
	}

	c.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"forecaster": req.Forecaster,
		"metric":     validator.Loss(),
		"loss":       scores.Loss,
	}).Info("evaluation complete")

	return EvaluationSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Scores:       scores,
		FoldScores:   append([]model.FoldScore(nil), folds...),
	}, nil
}

// Tune searches req.Space around req.Params and records the best trial as a
// run. The best trial is re-evaluated once to capture its per-fold scores.
func (c *Client) Tune(ctx context.Context, req TuneRequest) (TuneSummary, error) {
	validator, err := c.validator(req.EvaluationRequest)
	if err != nil {
		return TuneSummary{}, err
	}
	sampler, err := tuning.SamplerFromConfig(req.Sampler, req.Samples, req.Seed)
	if err != nil {
		return TuneSummary{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return TuneSummary{}, err
	}

	search := tuning.Search{Sampler: sampler, Workers: req.TrialWorkers, Logger: c.logger}
	result, err := search.Run(ctx, req.Params, req.Space, validator.Objective())
	if err != nil {
		return TuneSummary{}, err
	}
	best, _ := result.Best()

	scores, folds, err := validator.EvaluateFolds(ctx, best.Params, req.Verbose)
	if err != nil {
		return TuneSummary{}, err
	}

	trials := make([]TrialItem, 0, len(result.Trials))
	entries := make([]stats.TrialEntry, 0, len(result.Trials))
	for i, t := range result.Trials {
		item := TrialItem{Rank: i + 1, Params: t.Params, Scores: t.Scores}
		if t.Err != nil {
			item.Error = t.Err.Error()
		}
		trials = append(trials, item)
		entries = append(entries, stats.TrialEntry{Rank: item.Rank, Params: item.Params, Scores: item.Scores, Error: item.Error})
	}

	now := c.now().UTC()
	runID := uuid.NewString()
	bestReq := req.EvaluationRequest
	bestReq.Params = best.Params
	cfg := c.runConfig(runID, stats.RunKindTune, bestReq, validator)
	cfg.Grid = req.Space
	runDir, err := c.record(ctx, now, stats.RunArtifacts{
		Config:     cfg,
		FoldScores: folds,
		Scores:     scores,
		Trials:     entries,
	})
	if err != nil {
		return TuneSummary{}, err
	}

	c.logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"sampler": result.Sampler,
		"trials":  len(trials),
		"failed":  result.Failed(),
		"loss":    scores.Loss,
	}).Info("search complete")

	return TuneSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Sampler:      result.Sampler,
		Best:         trials[0],
		Trials:       trials,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		if req.Kind != "" && e.Kind != req.Kind {
			continue
		}
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Kind:         e.Kind,
			Forecaster:   e.Forecaster,
			Metric:       e.Metric,
			Folds:        e.Folds,
			Observations: e.Observations,
			Trials:       e.Trials,
			Loss:         e.Loss,
		})
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

// Report returns the stored evaluation report for a run. Runs recorded by a
// process with a different store are rebuilt from their artifacts.
func (c *Client) Report(ctx context.Context, req ReportRequest) (model.EvaluationReport, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "report")
	if err != nil {
		return model.EvaluationReport{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return model.EvaluationReport{}, err
	}

	report, ok, err := c.store.GetReport(ctx, runID)
	if err != nil {
		return model.EvaluationReport{}, err
	}
	if ok {
		return report, nil
	}
	return c.reportFromArtifacts(runID)
}

func (c *Client) Reports(ctx context.Context, limit int) ([]model.EvaluationReport, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	return c.store.ListReports(ctx, limit)
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) validator(req EvaluationRequest) (*validation.TemporalCrossValidator, error) {
	if req.Forecaster == "" {
		return nil, fmt.Errorf("%w: forecaster is required", model.ErrConfiguration)
	}
	factory, err := forecast.Lookup(req.Forecaster)
	if err != nil {
		return nil, err
	}

	opts := []validation.Option{validation.WithLogger(c.logger)}
	if req.TrainFrac != 0 {
		opts = append(opts, validation.WithTrainFraction(req.TrainFrac))
	}
	if req.Folds != 0 {
		opts = append(opts, validation.WithFolds(req.Folds))
	}
	if req.Loss != "" {
		opts = append(opts, validation.WithLoss(req.Loss))
	}
	if req.Workers > 0 {
		opts = append(opts, validation.WithWorkers(req.Workers))
	}
	return validation.New(factory, req.Data, opts...)
}

func (c *Client) runConfig(runID, kind string, req EvaluationRequest, v *validation.TemporalCrossValidator) stats.RunConfig {
	trainFrac := req.TrainFrac
	if trainFrac == 0 {
		trainFrac = validation.DefaultTrainFraction
	}
	folds := req.Folds
	if folds == 0 {
		folds = validation.DefaultFolds
	}
	workers := req.Workers
	if workers <= 0 {
		workers = 1
	}
	return stats.RunConfig{
		RunID:        runID,
		Kind:         kind,
		Forecaster:   req.Forecaster,
		Metric:       v.Loss(),
		TrainFrac:    trainFrac,
		Folds:        folds,
		Workers:      workers,
		Observations: len(req.Data),
		DataSource:   req.DataSource,
		Params:       req.Params.Clone(),
	}
}

// record writes artifacts, indexes the run and stores its report.
func (c *Client) record(ctx context.Context, now time.Time, artifacts stats.RunArtifacts) (string, error) {
	cfg := artifacts.Config
	createdAt := now.Format(time.RFC3339Nano)

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, artifacts)
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        cfg.RunID,
		Kind:         cfg.Kind,
		Forecaster:   cfg.Forecaster,
		Metric:       cfg.Metric,
		Folds:        cfg.Folds,
		Observations: cfg.Observations,
		Trials:       len(artifacts.Trials),
		Loss:         artifacts.Scores.Loss,
		CreatedAtUTC: createdAt,
	}); err != nil {
		return "", err
	}

	report := reportFromConfig(cfg, artifacts.FoldScores, artifacts.Scores, createdAt)
	if err := c.store.SaveReport(ctx, report); err != nil {
		return "", err
	}
	return runDir, nil
}

func (c *Client) reportFromArtifacts(runID string) (model.EvaluationReport, error) {
	cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, runID)
	if err != nil {
		return model.EvaluationReport{}, err
	}
	if !ok {
		return model.EvaluationReport{}, fmt.Errorf("report not found for run id: %s", runID)
	}
	folds, _, err := stats.ReadFoldSeries(c.artifactsDir, runID)
	if err != nil {
		return model.EvaluationReport{}, err
	}
	scores, _, err := stats.ReadScores(c.artifactsDir, runID)
	if err != nil {
		return model.EvaluationReport{}, err
	}

	createdAt := ""
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return model.EvaluationReport{}, err
	}
	for _, e := range entries {
		if e.RunID == runID {
			createdAt = e.CreatedAtUTC
			break
		}
	}
	return reportFromConfig(cfg, folds, model.ScoresFromMap(scores), createdAt), nil
}

func (c *Client) resolveRunID(runID string, latest bool, action string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", action)
	}
	return runID, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func reportFromConfig(cfg stats.RunConfig, folds []model.FoldScore, scores model.Scores, createdAt string) model.EvaluationReport {
	return model.EvaluationReport{
		VersionedRecord: storage.CurrentVersion(),
		ID:              cfg.RunID,
		Forecaster:      cfg.Forecaster,
		Metric:          cfg.Metric,
		Params:          cfg.Params.Clone(),
		TrainFrac:       cfg.TrainFrac,
		Folds:           cfg.Folds,
		Observations:    cfg.Observations,
		FoldScores:      append([]model.FoldScore(nil), folds...),
		Scores:          scores,
		CreatedAtUTC:    createdAt,
	}
}

func topologyForm(rec model.TopologyRecord) (string, error) {
	switch strings.ToLower(strings.TrimSpace(rec.Form)) {
	case FormChain:
		return FormChain, nil
	case FormGraph:
		return FormGraph, nil
	case "":
		if len(rec.Graph) > 0 {
			return FormGraph, nil
		}
		return FormChain, nil
	default:
		return "", fmt.Errorf("%w: unknown topology form %q", model.ErrConfiguration, rec.Form)
	}
}
