package topology

import (
	"fmt"
	"strings"

	"forecastnet/internal/model"
)

type Mode string

const (
	ModeNone Mode = "none"
	// ModeAll regularizes the output of every node.
	ModeAll Mode = "all"
	// ModeLast injects a single inference-time dropout on the path into the output node.
	ModeLast Mode = "last"
)

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "null":
		return ModeNone, nil
	case "all":
		return ModeAll, nil
	case "last":
		return ModeLast, nil
	default:
		return "", fmt.Errorf("%w: unsupported uncertainty mode %q", model.ErrConfiguration, raw)
	}
}

// Policy decides where dropout transformations are inserted. Both compiler
// forms consult the same policy methods.
type Policy struct {
	Mode     Mode
	DropRate float64
}

func (p Policy) Validate() error {
	switch p.Mode {
	case "", ModeNone, ModeAll, ModeLast:
	default:
		return fmt.Errorf("%w: unsupported uncertainty mode %q", model.ErrConfiguration, p.Mode)
	}
	if p.DropRate < 0 || p.DropRate >= 1 {
		return fmt.Errorf("%w: drop rate must be in [0,1), got %v", model.ErrConfiguration, p.DropRate)
	}
	return nil
}

// afterLayer wraps a freshly realized layer output. Only ModeAll applies; the
// dropout is the standard training-time kind.
func (p Policy) afterLayer(b *builder, handle, id string) (string, error) {
	if p.Mode != ModeAll {
		return handle, nil
	}
	return b.dropout(id, handle, Dropout{Rate: p.DropRate})
}

// beforeOutput wraps the handle that feeds the output layer. Only ModeLast
// applies; the dropout stays active at inference so repeated predictions
// sample the forecast distribution.
func (p Policy) beforeOutput(b *builder, parent, id string) (string, error) {
	if p.Mode != ModeLast {
		return parent, nil
	}
	return b.dropout(id, parent, Dropout{Rate: p.DropRate, AtInference: true})
}
