package storage

import (
	"context"

	"forecastnet/internal/model"
)

// Store persists evaluation reports and named topology records.
type Store interface {
	Init(ctx context.Context) error
	SaveReport(ctx context.Context, report model.EvaluationReport) error
	GetReport(ctx context.Context, id string) (model.EvaluationReport, bool, error)
	// ListReports returns reports newest first. A non-positive limit returns all.
	ListReports(ctx context.Context, limit int) ([]model.EvaluationReport, error)
	SaveTopology(ctx context.Context, topology model.TopologyRecord) error
	GetTopology(ctx context.Context, name string) (model.TopologyRecord, bool, error)
	ListTopologies(ctx context.Context) ([]model.TopologyRecord, error)
}
