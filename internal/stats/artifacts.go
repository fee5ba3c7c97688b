package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"forecastnet/internal/model"
)

const runIndexFile = "run_index.json"

const (
	RunKindEvaluate = "evaluate"
	RunKindTune     = "tune"
)

type RunConfig struct {
	RunID        string             `json:"run_id"`
	Kind         string             `json:"kind"`
	Forecaster   string             `json:"forecaster"`
	Metric       string             `json:"metric"`
	TrainFrac    float64            `json:"train_frac"`
	Folds        int                `json:"folds"`
	Workers      int                `json:"workers"`
	Observations int                `json:"observations"`
	DataSource   string             `json:"data_source,omitempty"`
	Params       model.Params       `json:"params,omitempty"`
	Grid         map[string][]any   `json:"grid,omitempty"`
	Extra        map[string]float64 `json:"extra,omitempty"`
}

// TrialEntry is one ranked point of a parameter search.
type TrialEntry struct {
	Rank   int          `json:"rank"`
	Params model.Params `json:"params"`
	Scores model.Scores `json:"scores"`
	Error  string       `json:"error,omitempty"`
}

type RunArtifacts struct {
	Config     RunConfig         `json:"config"`
	FoldScores []model.FoldScore `json:"fold_scores"`
	Scores     model.Scores      `json:"scores"`
	Trials     []TrialEntry      `json:"trials,omitempty"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Kind         string  `json:"kind"`
	Forecaster   string  `json:"forecaster"`
	Metric       string  `json:"metric"`
	Folds        int     `json:"folds"`
	Observations int     `json:"observations"`
	Trials       int     `json:"trials,omitempty"`
	Loss         float64 `json:"loss"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

var runFiles = []string{"config.json", "folds.json", "folds.csv", "scores.json"}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "folds.json"), artifacts.FoldScores); err != nil {
		return "", err
	}
	if err := WriteFoldSeries(runDir, artifacts.FoldScores); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "scores.json"), artifacts.Scores.Map()); err != nil {
		return "", err
	}
	if len(artifacts.Trials) > 0 {
		if err := writeJSON(filepath.Join(runDir, "trials.json"), artifacts.Trials); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range runFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	trialsPath := filepath.Join(src, "trials.json")
	if _, err := os.Stat(trialsPath); err == nil {
		if err := copyFile(trialsPath, filepath.Join(dst, "trials.json")); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func ReadScores(baseDir, runID string) (map[string]float64, bool, error) {
	var scores map[string]float64
	ok, err := readJSON(filepath.Join(baseDir, runID, "scores.json"), &scores)
	return scores, ok, err
}

func ReadTrials(baseDir, runID string) ([]TrialEntry, bool, error) {
	var trials []TrialEntry
	ok, err := readJSON(filepath.Join(baseDir, runID, "trials.json"), &trials)
	return trials, ok, err
}

func WriteFoldSeries(runDir string, folds []model.FoldScore) error {
	path := filepath.Join(runDir, "folds.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"fold", "train_loss", "test_loss"}); err != nil {
		return err
	}
	for _, fold := range folds {
		if err := writer.Write([]string{
			strconv.Itoa(fold.Fold),
			strconv.FormatFloat(fold.TrainLoss, 'f', -1, 64),
			strconv.FormatFloat(fold.TestLoss, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadFoldSeries(baseDir, runID string) ([]model.FoldScore, bool, error) {
	path := filepath.Join(baseDir, runID, "folds.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.FoldScore{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 3 {
		return nil, false, fmt.Errorf("fold series header must have at least 3 columns")
	}

	folds := make([]model.FoldScore, 0, 8)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 3 {
			return nil, false, fmt.Errorf("fold series row must have at least 3 columns")
		}
		fold, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, false, err
		}
		train, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		test, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, false, err
		}
		folds = append(folds, model.FoldScore{Fold: fold, TrainLoss: train, TestLoss: test})
	}
	return folds, true, nil
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
