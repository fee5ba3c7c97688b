package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"forecastnet/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps records produced by this build.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeReport(r model.EvaluationReport) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeReport(data []byte) (model.EvaluationReport, error) {
	var report model.EvaluationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return model.EvaluationReport{}, err
	}
	if err := checkVersion(report.VersionedRecord); err != nil {
		return model.EvaluationReport{}, err
	}
	return report, nil
}

func EncodeTopology(t model.TopologyRecord) ([]byte, error) {
	return json.Marshal(t)
}

func DecodeTopology(data []byte) (model.TopologyRecord, error) {
	var topology model.TopologyRecord
	if err := json.Unmarshal(data, &topology); err != nil {
		return model.TopologyRecord{}, err
	}
	if err := checkVersion(topology.VersionedRecord); err != nil {
		return model.TopologyRecord{}, err
	}
	return topology, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func sortReportsNewestFirst(reports []model.EvaluationReport) {
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].CreatedAtUTC != reports[j].CreatedAtUTC {
			return reports[i].CreatedAtUTC > reports[j].CreatedAtUTC
		}
		return reports[i].ID < reports[j].ID
	})
}
