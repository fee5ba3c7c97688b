package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// InputShape is the (length, dimensionality) pair of the series a network consumes.
type InputShape struct {
	Length int `json:"length"`
	Dims   int `json:"dims"`
}

type LayerSpec struct {
	Type   string `json:"type"`
	Params Params `json:"params,omitempty"`
}

// NodeMeta identifies a graph-form node and the single node feeding it.
type NodeMeta struct {
	ID     string `json:"id"`
	Layer  string `json:"layer"`
	Parent string `json:"parent"`
}

type GraphEntry struct {
	Meta   NodeMeta `json:"meta"`
	Params Params   `json:"params,omitempty"`
}

// Series is an ordered sequence of observations; each row holds one value per dimension.
type Series [][]float64

// Dims reports the dimensionality of the first observation.
func (s Series) Dims() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

type FoldScore struct {
	Fold      int     `json:"fold"`
	TrainLoss float64 `json:"train_loss"`
	TestLoss  float64 `json:"test_loss"`
}

// Scores aggregates per-fold losses. Test statistics use the bare "loss" keys
// because search drivers minimise that quantity.
type Scores struct {
	Loss         float64 `json:"loss"`
	LossStd      float64 `json:"loss_std"`
	LossMin      float64 `json:"loss_min"`
	LossMax      float64 `json:"loss_max"`
	TrainLoss    float64 `json:"train_loss"`
	TrainLossStd float64 `json:"train_loss_std"`
	TrainLossMin float64 `json:"train_loss_min"`
	TrainLossMax float64 `json:"train_loss_max"`
}

func (s Scores) Map() map[string]float64 {
	return map[string]float64{
		"loss":           s.Loss,
		"loss_std":       s.LossStd,
		"loss_min":       s.LossMin,
		"loss_max":       s.LossMax,
		"train_loss":     s.TrainLoss,
		"train_loss_std": s.TrainLossStd,
		"train_loss_min": s.TrainLossMin,
		"train_loss_max": s.TrainLossMax,
	}
}

// ScoresFromMap is the inverse of Scores.Map; missing keys read as zero.
func ScoresFromMap(m map[string]float64) Scores {
	return Scores{
		Loss:         m["loss"],
		LossStd:      m["loss_std"],
		LossMin:      m["loss_min"],
		LossMax:      m["loss_max"],
		TrainLoss:    m["train_loss"],
		TrainLossStd: m["train_loss_std"],
		TrainLossMin: m["train_loss_min"],
		TrainLossMax: m["train_loss_max"],
	}
}

type EvaluationReport struct {
	VersionedRecord
	ID           string      `json:"id"`
	Forecaster   string      `json:"forecaster"`
	Metric       string      `json:"metric"`
	Params       Params      `json:"params"`
	TrainFrac    float64     `json:"train_frac"`
	Folds        int         `json:"folds"`
	Observations int         `json:"observations"`
	FoldScores   []FoldScore `json:"fold_scores"`
	Scores       Scores      `json:"scores"`
	CreatedAtUTC string      `json:"created_at_utc"`
}

// TopologyRecord is a named declarative topology kept for later compilation.
type TopologyRecord struct {
	VersionedRecord
	Name        string       `json:"name"`
	Form        string       `json:"form"`
	InputShape  InputShape   `json:"input_shape"`
	Chain       []LayerSpec  `json:"chain,omitempty"`
	Graph       []GraphEntry `json:"graph,omitempty"`
	Uncertainty string       `json:"uncertainty,omitempty"`
	DropRate    float64      `json:"drop_rate"`
}
