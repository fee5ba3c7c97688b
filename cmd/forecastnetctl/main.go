package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"

	"forecastnet/internal/logging"
	"forecastnet/internal/metrics"
	"forecastnet/internal/model"
	"forecastnet/internal/storage"
	"forecastnet/internal/topology"
	api "forecastnet/pkg/forecastnet"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
	timeLayout = "%Y-%m-%d %H:%M:%S"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "layers":
		return runLayers(ctx, args[1:])
	case "metrics":
		return runMetrics(ctx, args[1:])
	case "forecasters":
		return runForecasters(ctx, args[1:])
	case "compile":
		return runCompile(ctx, args[1:])
	case "topologies":
		return runTopologies(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "tune":
		return runTune(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "report":
		return runReport(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// clientFlags are shared by every command that opens a client.
type clientFlags struct {
	storeKind *string
	dbPath    *string
	runsDir   *string
	logLevel  *string
	logFormat *string
}

func registerClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", "forecastnet.db", "sqlite database path"),
		runsDir:   fs.String("runs-dir", runsDir, "run artifacts directory"),
		logLevel:  fs.String("log-level", "info", "log level: debug|info|warn|error"),
		logFormat: fs.String("log-format", logging.FormatText, "log format: text|json"),
	}
}

func (f clientFlags) open() (*api.Client, error) {
	logger, err := logging.New(*f.logLevel, *f.logFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	return api.New(api.Options{
		StoreKind:    *f.storeKind,
		DBPath:       *f.dbPath,
		ArtifactsDir: *f.runsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
	})
}

func runLayers(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("layers", flag.ContinueOnError)
	layerType := fs.String("type", "", "show accepted parameters of one layer type")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	if *layerType != "" {
		accepted, err := client.AcceptedParameters(*layerType)
		if err != nil {
			return err
		}
		fmt.Printf("layer=%s params=%s\n", *layerType, strings.Join(accepted, ","))
		return nil
	}
	for _, name := range client.LayerTypes() {
		accepted, err := client.AcceptedParameters(name)
		if err != nil {
			return err
		}
		fmt.Printf("layer=%s params=%s\n", name, strings.Join(accepted, ","))
	}
	return nil
}

func runMetrics(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range metrics.List() {
		fmt.Println(name)
	}
	return nil
}

func runForecasters(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("forecasters", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := api.New(api.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	for _, name := range client.Forecasters() {
		fmt.Println(name)
	}
	return nil
}

func runCompile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	configPath := fs.String("config", "", "topology JSON config path")
	name := fs.String("name", "", "compile a saved topology by name")
	save := fs.Bool("save", false, "store the topology after a successful compile")
	jsonOut := fs.Bool("json", false, "emit the compiled graph as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*configPath == "") == (*name == "") {
		return errors.New("compile requires exactly one of --config or --name")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	var rec model.TopologyRecord
	if *configPath != "" {
		rec, err = loadTopologyConfig(*configPath)
	} else {
		rec, err = client.Topology(ctx, *name)
	}
	if err != nil {
		return err
	}

	graph, err := client.Compile(ctx, rec)
	if err != nil {
		return err
	}
	if *save {
		if err := client.SaveTopology(ctx, rec); err != nil {
			return err
		}
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(graph)
	}
	for _, node := range graph.Nodes {
		switch node.Kind {
		case topology.KindLayer:
			fmt.Printf("node=%s kind=%s parent=%s layer=%s params=%s\n", node.ID, node.Kind, node.Parent, node.Layer.Type(), formatParams(node.Layer.Params()))
		case topology.KindDropout:
			fmt.Printf("node=%s kind=%s parent=%s rate=%.3f at_inference=%t\n", node.ID, node.Kind, node.Parent, node.Dropout.Rate, node.Dropout.AtInference)
		default:
			fmt.Printf("node=%s kind=%s\n", node.ID, node.Kind)
		}
	}
	if *save {
		fmt.Printf("saved topology=%s\n", rec.Name)
	}
	return nil
}

func runTopologies(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("topologies", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	topologies, err := client.Topologies(ctx)
	if err != nil {
		return err
	}
	if len(topologies) == 0 {
		fmt.Println("no topologies found")
		return nil
	}
	for _, t := range topologies {
		size := len(t.Chain)
		if t.Form == api.FormGraph {
			size = len(t.Graph)
		}
		fmt.Printf("name=%s form=%s input=%dx%d layers=%d uncertainty=%s drop_rate=%.3f\n",
			t.Name, t.Form, t.InputShape.Length, t.InputShape.Dims, size, displayOr(t.Uncertainty, "none"), t.DropRate)
	}
	return nil
}

// evaluationFlags mirror the evaluate config keys. Without --config every
// flag applies; with it only flags set on the command line override.
type evaluationFlags struct {
	config     *string
	forecaster *string
	lookback   *int
	params     *stringList
	csvPath    *string
	columns    *string
	sineLength *int
	sineDims   *int
	sinePeriod *float64
	sineNoise  *float64
	seed       *int64
	trainFrac  *float64
	folds      *int
	loss       *string
	workers    *int
	verbose    *bool
}

func registerEvaluationFlags(fs *flag.FlagSet) evaluationFlags {
	f := evaluationFlags{
		config:     fs.String("config", "", "evaluation JSON config path"),
		forecaster: fs.String("forecaster", "naive", "forecaster: naive|mean|linear"),
		lookback:   fs.Int("lookback", 1, "observations each forecast conditions on"),
		params:     &stringList{},
		csvPath:    fs.String("csv", "", "series CSV path"),
		columns:    fs.String("columns", "", "comma-separated CSV columns to use"),
		sineLength: fs.Int("sine-length", 0, "generate a synthetic sine series of this length"),
		sineDims:   fs.Int("sine-dims", 1, "synthetic sine dimensions"),
		sinePeriod: fs.Float64("sine-period", 24, "synthetic sine period"),
		sineNoise:  fs.Float64("sine-noise", 0, "synthetic sine gaussian noise"),
		seed:       fs.Int64("seed", 1, "random seed"),
		trainFrac:  fs.Float64("train-frac", 0.5, "fraction of the series used as the first training span"),
		folds:      fs.Int("folds", 5, "number of folds"),
		loss:       fs.String("loss", "mse", "loss metric: "+strings.Join(metrics.List(), "|")),
		workers:    fs.Int("workers", 1, "folds evaluated concurrently"),
		verbose:    fs.Bool("verbose", false, "log every fold at info level"),
	}
	fs.Var(f.params, "param", "forecaster parameter name=value (repeatable)")
	return f
}

func (f evaluationFlags) resolve(fs *flag.FlagSet) (evaluateConfig, error) {
	var cfg evaluateConfig
	if *f.config != "" {
		loaded, err := loadEvaluateConfig(*f.config)
		if err != nil {
			return evaluateConfig{}, err
		}
		cfg = loaded
	}
	set := visited(fs)
	apply := func(name string) bool { return *f.config == "" || set[name] }

	req := &cfg.Request
	if apply("forecaster") {
		req.Forecaster = *f.forecaster
	}
	req.Params = req.Params.Clone()
	if apply("lookback") {
		req.Params["lookback"] = *f.lookback
	}
	extra, err := parseParams(f.params.values)
	if err != nil {
		return evaluateConfig{}, err
	}
	for k, v := range extra {
		req.Params[k] = v
	}
	if apply("train-frac") {
		req.TrainFrac = *f.trainFrac
	}
	if apply("folds") {
		req.Folds = *f.folds
	}
	if apply("loss") {
		req.Loss = *f.loss
	}
	if apply("workers") {
		req.Workers = *f.workers
	}
	if apply("verbose") {
		req.Verbose = *f.verbose
	}
	if apply("seed") {
		cfg.Seed = *f.seed
	}

	if set["csv"] {
		cfg.Data.CSVPath = *f.csvPath
	}
	if set["columns"] {
		cfg.Data.Columns = parseColumns(*f.columns)
	}
	if set["sine-length"] {
		cfg.Data.Sine.Length = *f.sineLength
	}
	if apply("sine-dims") {
		cfg.Data.Sine.Dims = *f.sineDims
	}
	if apply("sine-period") {
		cfg.Data.Sine.Period = *f.sinePeriod
	}
	if apply("sine-noise") {
		cfg.Data.Sine.Noise = *f.sineNoise
	}
	if cfg.Data.Sine.Seed == 0 {
		cfg.Data.Sine.Seed = cfg.Seed
	}

	data, source, err := cfg.Data.load()
	if err != nil {
		return evaluateConfig{}, err
	}
	req.Data = data
	req.DataSource = source
	return cfg, nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	ef := registerEvaluationFlags(fs)
	jsonOut := fs.Bool("json", false, "emit scores as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := ef.resolve(fs)
	if err != nil {
		return err
	}
	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, cfg.Request)
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run_id":      summary.RunID,
			"scores":      summary.Scores.Map(),
			"fold_scores": summary.FoldScores,
		})
	}
	for _, fold := range summary.FoldScores {
		fmt.Printf("fold=%d train_loss=%.2f test_loss=%.2f\n", fold.Fold, fold.TrainLoss, fold.TestLoss)
	}
	fmt.Printf("run_id=%s observations=%s loss=%.6f loss_std=%.6f train_loss=%.6f artifacts=%s\n",
		summary.RunID,
		humanize.Comma(int64(len(cfg.Request.Data))),
		summary.Scores.Loss,
		summary.Scores.LossStd,
		summary.Scores.TrainLoss,
		summary.ArtifactsDir,
	)
	return nil
}

func runTune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tune", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	ef := registerEvaluationFlags(fs)
	grid := &stringList{}
	fs.Var(grid, "grid", "search values name=v1,v2,... (repeatable)")
	sampler := fs.String("sampler", "grid", "candidate sampler: grid|random")
	samples := fs.Int("samples", 0, "random sampler draw count")
	trialWorkers := fs.Int("trial-workers", 1, "trials evaluated concurrently")
	top := fs.Int("top", 5, "trials to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := ef.resolve(fs)
	if err != nil {
		return err
	}
	set := visited(fs)
	if len(grid.values) > 0 {
		space, err := parseGrid(grid.values)
		if err != nil {
			return err
		}
		cfg.Space = space
	}
	if len(cfg.Space) == 0 {
		return errors.New("tune requires --grid or a config grid")
	}
	if *ef.config == "" || set["sampler"] {
		cfg.Sampler = *sampler
	}
	if *ef.config == "" || set["samples"] {
		cfg.Samples = *samples
	}
	if *ef.config == "" || set["trial-workers"] {
		cfg.Trials = *trialWorkers
	}
	// A searched lookback must not be pinned by the default flag value.
	if _, searched := cfg.Space["lookback"]; searched && !set["lookback"] {
		delete(cfg.Request.Params, "lookback")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Tune(ctx, api.TuneRequest{
		EvaluationRequest: cfg.Request,
		Space:             cfg.Space,
		Sampler:           cfg.Sampler,
		Samples:           cfg.Samples,
		Seed:              cfg.Seed,
		TrialWorkers:      cfg.Trials,
	})
	if err != nil {
		return err
	}

	for i, trial := range summary.Trials {
		if *top > 0 && i >= *top {
			break
		}
		if trial.Error != "" {
			fmt.Printf("rank=%d params=%s error=%q\n", trial.Rank, formatParams(trial.Params), trial.Error)
			continue
		}
		fmt.Printf("rank=%d params=%s loss=%.6f loss_std=%.6f\n", trial.Rank, formatParams(trial.Params), trial.Scores.Loss, trial.Scores.LossStd)
	}
	fmt.Printf("run_id=%s sampler=%s trials=%d best=%s loss=%.6f artifacts=%s\n",
		summary.RunID, summary.Sampler, len(summary.Trials), formatParams(summary.Best.Params), summary.Best.Scores.Loss, summary.ArtifactsDir)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	runsDirFlag := fs.String("runs-dir", runsDir, "run artifacts directory")
	limit := fs.Int("limit", 20, "max runs to list")
	kind := fs.String("kind", "", "filter by run kind: evaluate|tune")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := api.New(api.Options{StoreKind: "memory", ArtifactsDir: *runsDirFlag})
	if err != nil {
		return err
	}
	items, err := client.Runs(ctx, api.RunsRequest{Limit: *limit, Kind: *kind})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		type runsItem struct {
			RunID        string  `json:"run_id"`
			CreatedAtUTC string  `json:"created_at_utc"`
			Kind         string  `json:"kind"`
			Forecaster   string  `json:"forecaster"`
			Metric       string  `json:"metric"`
			Folds        int     `json:"folds"`
			Observations int     `json:"observations"`
			Trials       int     `json:"trials,omitempty"`
			Loss         float64 `json:"loss"`
		}
		out := make([]runsItem, 0, len(items))
		for _, e := range items {
			out = append(out, runsItem(e))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, e := range items {
		fmt.Printf("run_id=%s created_at=%q age=%q kind=%s forecaster=%s metric=%s folds=%d observations=%s trials=%d loss=%.6f\n",
			e.RunID,
			formatTimestamp(e.CreatedAtUTC),
			ageOf(e.CreatedAtUTC),
			e.Kind,
			e.Forecaster,
			e.Metric,
			e.Folds,
			humanize.Comma(int64(e.Observations)),
			e.Trials,
			e.Loss,
		)
	}
	return nil
}

func runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "report the most recent run from run index")
	jsonOut := fs.Bool("json", false, "emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("report requires --run-id or --latest")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	report, err := client.Report(ctx, api.ReportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("run_id=%s created_at=%q forecaster=%s metric=%s train_frac=%.2f folds=%d observations=%s params=%s\n",
		report.ID,
		formatTimestamp(report.CreatedAtUTC),
		report.Forecaster,
		report.Metric,
		report.TrainFrac,
		report.Folds,
		humanize.Comma(int64(report.Observations)),
		formatParams(report.Params),
	)
	for _, fold := range report.FoldScores {
		fmt.Printf("fold=%d train_loss=%.2f test_loss=%.2f\n", fold.Fold, fold.TrainLoss, fold.TestLoss)
	}
	scores := report.Scores.Map()
	for _, key := range []string{"loss", "loss_std", "loss_min", "loss_max", "train_loss", "train_loss_std", "train_loss_min", "train_loss_max"} {
		fmt.Printf("%s=%.6f\n", key, scores[key])
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runsDirFlag := fs.String("runs-dir", runsDir, "run artifacts directory")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := api.New(api.Options{StoreKind: "memory", ArtifactsDir: *runsDirFlag})
	if err != nil {
		return err
	}
	exported, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

type stringList struct {
	values []string
}

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.values, ";")
}

func (s *stringList) Set(v string) error {
	s.values = append(s.values, v)
	return nil
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func formatTimestamp(raw string) string {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return strftime.Format(timeLayout, t.UTC())
}

func ageOf(raw string) string {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "unknown"
	}
	return humanize.Time(t)
}

func displayOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: forecastnetctl <layers|metrics|forecasters|compile|topologies|evaluate|tune|runs|report|export> [flags]", msg)
}
