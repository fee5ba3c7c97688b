package storage

import (
	"context"
	"testing"

	"forecastnet/internal/model"
)

func sampleReport(id, createdAt string, loss float64) model.EvaluationReport {
	return model.EvaluationReport{
		VersionedRecord: CurrentVersion(),
		ID:              id,
		Forecaster:      "linear",
		Metric:          "mse",
		Params:          model.Params{"lookback": 3.0},
		TrainFrac:       0.5,
		Folds:           2,
		Observations:    40,
		FoldScores: []model.FoldScore{
			{Fold: 0, TrainLoss: 0.1, TestLoss: loss},
			{Fold: 1, TrainLoss: 0.2, TestLoss: loss},
		},
		Scores:       model.Scores{Loss: loss, TrainLoss: 0.15},
		CreatedAtUTC: createdAt,
	}
}

func sampleTopology(name string) model.TopologyRecord {
	return model.TopologyRecord{
		VersionedRecord: CurrentVersion(),
		Name:            name,
		Form:            "chain",
		InputShape:      model.InputShape{Length: 12, Dims: 2},
		Chain: []model.LayerSpec{
			{Type: "LSTM", Params: model.Params{"units": 8.0}},
		},
		DropRate: 0.2,
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, ok, err := store.GetReport(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing report, ok=%t err=%v", ok, err)
	}

	for _, report := range []model.EvaluationReport{
		sampleReport("r1", "2026-01-01T00:00:00Z", 0.5),
		sampleReport("r2", "2026-01-03T00:00:00Z", 0.25),
		sampleReport("r3", "2026-01-02T00:00:00Z", 0.75),
	} {
		if err := store.SaveReport(ctx, report); err != nil {
			t.Fatalf("save report %s: %v", report.ID, err)
		}
	}

	loaded, ok, err := store.GetReport(ctx, "r2")
	if err != nil || !ok {
		t.Fatalf("get report: ok=%t err=%v", ok, err)
	}
	if loaded.Scores.Loss != 0.25 || len(loaded.FoldScores) != 2 || loaded.Forecaster != "linear" {
		t.Fatalf("unexpected report loaded: %+v", loaded)
	}

	all, err := store.ListReports(ctx, 0)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(all) != 3 || all[0].ID != "r2" || all[1].ID != "r3" || all[2].ID != "r1" {
		t.Fatalf("unexpected report order: %+v", reportIDs(all))
	}
	limited, err := store.ListReports(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "r2" {
		t.Fatalf("unexpected limited reports: %+v", reportIDs(limited))
	}

	overwrite := sampleReport("r1", "2026-01-01T00:00:00Z", 0.125)
	if err := store.SaveReport(ctx, overwrite); err != nil {
		t.Fatalf("overwrite report: %v", err)
	}
	loaded, _, _ = store.GetReport(ctx, "r1")
	if loaded.Scores.Loss != 0.125 {
		t.Fatalf("expected overwritten loss, got %v", loaded.Scores.Loss)
	}

	if err := store.SaveTopology(ctx, sampleTopology("lstm-b")); err != nil {
		t.Fatalf("save topology: %v", err)
	}
	if err := store.SaveTopology(ctx, sampleTopology("lstm-a")); err != nil {
		t.Fatalf("save topology: %v", err)
	}
	topology, ok, err := store.GetTopology(ctx, "lstm-a")
	if err != nil || !ok {
		t.Fatalf("get topology: ok=%t err=%v", ok, err)
	}
	if topology.InputShape.Dims != 2 || len(topology.Chain) != 1 || topology.Chain[0].Type != "LSTM" {
		t.Fatalf("unexpected topology: %+v", topology)
	}
	topologies, err := store.ListTopologies(ctx)
	if err != nil {
		t.Fatalf("list topologies: %v", err)
	}
	if len(topologies) != 2 || topologies[0].Name != "lstm-a" {
		t.Fatalf("unexpected topologies: %+v", topologies)
	}
}

func reportIDs(reports []model.EvaluationReport) []string {
	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	return ids
}
