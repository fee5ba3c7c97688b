package model

import (
	"encoding/json"
	"testing"
)

func TestParamsCloneAndWith(t *testing.T) {
	var nilParams Params
	if got := nilParams.Clone(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty clone of nil params, got %#v", got)
	}

	base := Params{"units": 8}
	next := base.With("activation", "tanh")
	if _, ok := base["activation"]; ok {
		t.Fatalf("With mutated receiver: %#v", base)
	}
	if next["units"] != 8 || next["activation"] != "tanh" {
		t.Fatalf("unexpected params: %#v", next)
	}
	if keys := next.Keys(); len(keys) != 2 || keys[0] != "activation" || keys[1] != "units" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestParamsNumericAccessors(t *testing.T) {
	p := Params{
		"int":      3,
		"float":    4.0,
		"fraction": 0.5,
		"number":   json.Number("7"),
		"name":     "relu",
	}

	for _, key := range []string{"int", "float", "number"} {
		if _, ok, err := p.Int(key); !ok || err != nil {
			t.Fatalf("Int(%s): ok=%t err=%v", key, ok, err)
		}
	}
	if n, _, _ := p.Int("float"); n != 4 {
		t.Fatalf("expected 4, got %d", n)
	}
	if _, ok, err := p.Int("fraction"); !ok || err == nil {
		t.Fatalf("expected fractional integer error, ok=%t err=%v", ok, err)
	}
	if _, ok, err := p.Int("missing"); ok || err != nil {
		t.Fatalf("missing key should be absent without error, ok=%t err=%v", ok, err)
	}

	if f, ok, err := p.Float("int"); !ok || err != nil || f != 3 {
		t.Fatalf("Float(int) = %v ok=%t err=%v", f, ok, err)
	}
	if _, ok, err := p.Float("name"); !ok || err == nil {
		t.Fatalf("expected type error for string, ok=%t err=%v", ok, err)
	}
	if s, ok := p.String("name"); !ok || s != "relu" {
		t.Fatalf("String(name) = %q ok=%t", s, ok)
	}
	if _, ok := p.String("int"); ok {
		t.Fatal("String on a numeric value should report false")
	}
}

func TestScoresMapRoundTrip(t *testing.T) {
	scores := Scores{Loss: 1, LossStd: 2, LossMin: 3, LossMax: 4, TrainLoss: 5, TrainLossStd: 6, TrainLossMin: 7, TrainLossMax: 8}
	m := scores.Map()
	if len(m) != 8 || m["train_loss_max"] != 8 {
		t.Fatalf("unexpected score map: %v", m)
	}
	if got := ScoresFromMap(m); got != scores {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got := ScoresFromMap(map[string]float64{"loss": 9}); got != (Scores{Loss: 9}) {
		t.Fatalf("missing keys should read as zero: %+v", got)
	}
}

func TestSeriesDims(t *testing.T) {
	if (Series{}).Dims() != 0 {
		t.Fatal("empty series should have zero dims")
	}
	if (Series{{1, 2, 3}}).Dims() != 3 {
		t.Fatal("expected three dims")
	}
}
