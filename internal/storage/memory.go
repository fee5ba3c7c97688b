package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"forecastnet/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	reports     map[string]model.EvaluationReport
	topologies  map[string]model.TopologyRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.reports = make(map[string]model.EvaluationReport)
	s.topologies = make(map[string]model.TopologyRecord)
	return nil
}

func (s *MemoryStore) SaveReport(_ context.Context, report model.EvaluationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	report.Params = report.Params.Clone()
	report.FoldScores = append([]model.FoldScore(nil), report.FoldScores...)
	s.reports[report.ID] = report
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, id string) (model.EvaluationReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[id]
	return report, ok, nil
}

func (s *MemoryStore) ListReports(_ context.Context, limit int) ([]model.EvaluationReport, error) {
	s.mu.RLock()
	out := make([]model.EvaluationReport, 0, len(s.reports))
	for _, report := range s.reports {
		out = append(out, report)
	}
	s.mu.RUnlock()

	sortReportsNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveTopology(_ context.Context, topology model.TopologyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.topologies[topology.Name] = topology
	return nil
}

func (s *MemoryStore) GetTopology(_ context.Context, name string) (model.TopologyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topology, ok := s.topologies[name]
	return topology, ok, nil
}

func (s *MemoryStore) ListTopologies(_ context.Context) ([]model.TopologyRecord, error) {
	s.mu.RLock()
	out := make([]model.TopologyRecord, 0, len(s.topologies))
	for _, topology := range s.topologies {
		out = append(out, topology)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var errNotInitialized = errors.New("store is not initialized")
