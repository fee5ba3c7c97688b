package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forecastnet/internal/stats"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(context.Background(), []string{"train"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestLayersAndMetricsCommands(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"layers", "--type", "LSTM"})
	})
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	if !strings.Contains(out, "layer=LSTM") || !strings.Contains(out, "return_sequences") {
		t.Fatalf("unexpected layers output: %q", out)
	}
	if err := run(context.Background(), []string{"layers", "--type", "Nope"}); err == nil {
		t.Fatal("expected unknown layer error")
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"metrics"})
	})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if out != "mae\nmape\nmse\nrmse\nsmape\n" {
		t.Fatalf("unexpected metrics output: %q", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"forecasters"})
	})
	if err != nil {
		t.Fatalf("forecasters: %v", err)
	}
	if out != "linear\nmean\nnaive\n" {
		t.Fatalf("unexpected forecasters output: %q", out)
	}
}

func TestCompileSaveAndListTopologies(t *testing.T) {
	workdir := chdirTemp(t)
	configPath := filepath.Join(workdir, "topology.json")
	writeFile(t, configPath, `{
		"name": "stacked",
		"input_shape": [24, 2],
		"chain": [["LSTM", {"units": 16}], {"type": "GRU", "params": {"units": 8}}],
		"drop_rate": 0.25
	}`)

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"compile", "--config", configPath, "--save", "--log-level", "error"})
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, want := range []string{
		"node=input kind=input",
		"node=layer_0 kind=layer parent=input layer=LSTM",
		"return_sequences=true",
		"node=mc_dropout kind=dropout parent=layer_1 rate=0.250 at_inference=true",
		"node=projection kind=layer parent=mc_dropout layer=Dense",
		"saved topology=stacked",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("compile output missing %q:\n%s", want, out)
		}
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"topologies", "--log-level", "error"})
	})
	if err != nil {
		t.Fatalf("topologies: %v", err)
	}
	if !strings.Contains(out, "name=stacked form=chain input=24x2 layers=2") {
		t.Fatalf("unexpected topologies output: %q", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"compile", "--name", "stacked", "--json", "--log-level", "error"})
	})
	if err != nil {
		t.Fatalf("compile saved: %v", err)
	}
	var graph map[string]any
	if err := json.Unmarshal([]byte(out), &graph); err != nil {
		t.Fatalf("decode graph json %q: %v", out, err)
	}

	if err := run(context.Background(), []string{"compile"}); err == nil {
		t.Fatal("expected missing source error")
	}
}

func TestEvaluateRunsReportAndExport(t *testing.T) {
	chdirTemp(t)
	ctx := context.Background()

	out, err := captureStdout(func() error {
		return run(ctx, []string{
			"evaluate",
			"--store", "memory",
			"--log-level", "error",
			"--forecaster", "mean",
			"--lookback", "3",
			"--sine-length", "120",
			"--folds", "4",
			"--loss", "mae",
		})
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if strings.Count(out, "fold=") != 4 || !strings.Contains(out, "observations=120") {
		t.Fatalf("unexpected evaluate output: %q", out)
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].Forecaster != "mean" || entries[0].Metric != "mae" {
		t.Fatalf("unexpected run index: %+v", entries)
	}
	runID := entries[0].RunID

	out, err = captureStdout(func() error {
		return run(ctx, []string{"runs"})
	})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "run_id="+runID) || !strings.Contains(out, "kind=evaluate") || !strings.Contains(out, "age=") {
		t.Fatalf("unexpected runs output: %q", out)
	}

	out, err = captureStdout(func() error {
		return run(ctx, []string{"report", "--store", "memory", "--latest", "--log-level", "error"})
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, "run_id="+runID) || !strings.Contains(out, "params=lookback=3") || !strings.Contains(out, "loss_std=") {
		t.Fatalf("unexpected report output: %q", out)
	}

	out, err = captureStdout(func() error {
		return run(ctx, []string{"export", "--latest"})
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportsDir, runID, "scores.json")); err != nil {
		t.Fatalf("expected exported scores: %v (output %q)", err, out)
	}
}

func TestEvaluateWithConfigAndCSV(t *testing.T) {
	workdir := chdirTemp(t)
	csvPath := filepath.Join(workdir, "series.csv")
	var b strings.Builder
	b.WriteString("t,value\n")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "%d,%d\n", i, 1+i%3)
	}
	writeFile(t, csvPath, b.String())

	configPath := filepath.Join(workdir, "evaluate.json")
	writeFile(t, configPath, `{
		"forecaster": "naive",
		"params": {"lookback": 2},
		"data": {"csv": "`+csvPath+`", "columns": ["value"]},
		"folds": 3,
		"loss": "rmse"
	}`)

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"evaluate", "--store", "memory", "--log-level", "error", "--config", configPath, "--json"})
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	var payload struct {
		RunID      string             `json:"run_id"`
		Scores     map[string]float64 `json:"scores"`
		FoldScores []map[string]any   `json:"fold_scores"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if payload.RunID == "" || len(payload.FoldScores) != 3 || payload.Scores["loss"] <= 0 {
		t.Fatalf("unexpected evaluate payload: %+v", payload)
	}

	cfg, ok, err := stats.ReadRunConfig(runsDir, payload.RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if cfg.Metric != "rmse" || cfg.Folds != 3 || cfg.DataSource != "csv:"+csvPath {
		t.Fatalf("unexpected run config: %+v", cfg)
	}
}

func TestEvaluateRequiresData(t *testing.T) {
	chdirTemp(t)
	err := run(context.Background(), []string{"evaluate", "--store", "memory"})
	if err == nil || !strings.Contains(err.Error(), "sine length") {
		t.Fatalf("expected missing data error, got %v", err)
	}
}

func TestTuneCommand(t *testing.T) {
	chdirTemp(t)
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"tune",
			"--store", "memory",
			"--log-level", "error",
			"--forecaster", "linear",
			"--sine-length", "150",
			"--sine-period", "20",
			"--folds", "3",
			"--grid", "lookback=1,2,3",
			"--param", "ridge=0.000001",
			"--trial-workers", "2",
		})
	})
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if strings.Count(out, "rank=") != 3 || !strings.Contains(out, "sampler=grid trials=3") {
		t.Fatalf("unexpected tune output: %q", out)
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != stats.RunKindTune || entries[0].Trials != 3 {
		t.Fatalf("unexpected run index: %+v", entries)
	}
	trials, ok, err := stats.ReadTrials(runsDir, entries[0].RunID)
	if err != nil || !ok || len(trials) != 3 {
		t.Fatalf("unexpected trials: ok=%t err=%v trials=%+v", ok, err, trials)
	}

	if err := run(context.Background(), []string{"tune", "--store", "memory", "--sine-length", "50"}); err == nil {
		t.Fatal("expected missing grid error")
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), runErr
}
