package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forecastnet/internal/model"
)

func TestReadCSVWithHeaderAndColumns(t *testing.T) {
	input := "date,open,close\n2024-01-01,1.5,2.5\n\n2024-01-02,1.75,3\n"
	series, err := ReadCSV(strings.NewReader(input), CSVOptions{Columns: []string{"close", "open"}})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(series) != 2 || series.Dims() != 2 {
		t.Fatalf("unexpected shape: %+v", series)
	}
	if series[1][0] != 3 || series[1][1] != 1.75 {
		t.Fatalf("unexpected row: %+v", series[1])
	}
}

func TestReadCSVWithoutHeader(t *testing.T) {
	series, err := ReadCSV(strings.NewReader("1,2\n3,4\n5,6\n"), CSVOptions{MinRows: 3})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(series) != 3 || series[2][1] != 6 {
		t.Fatalf("unexpected series: %+v", series)
	}
}

func TestReadCSVErrors(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("a,b\n1,x\n"), CSVOptions{}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ReadCSV(strings.NewReader("a,b\n1,2\n"), CSVOptions{Columns: []string{"c"}}); err == nil {
		t.Fatal("expected missing column error")
	}
	if _, err := ReadCSV(strings.NewReader("1,2\n3\n"), CSVOptions{}); err == nil {
		t.Fatal("expected ragged row error")
	}
	_, err := ReadCSV(strings.NewReader("value\n1\n"), CSVOptions{MinRows: 4})
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got: %v", err)
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.csv")
	if err := os.WriteFile(path, []byte("value\n1\n2\n3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	series, err := LoadCSV(path, CSVOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("unexpected length: %d", len(series))
	}
	if _, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), CSVOptions{}); err == nil {
		t.Fatal("expected open error")
	}
}

func TestSineIsDeterministic(t *testing.T) {
	spec := SineSpec{Length: 50, Dims: 2, Period: 10, Noise: 0.1, Seed: 7}
	a := Sine(spec)
	b := Sine(spec)
	if len(a) != 50 || a.Dims() != 2 {
		t.Fatalf("unexpected shape: %d x %d", len(a), a.Dims())
	}
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("row %d differs: %v vs %v", i, a[i], b[i])
			}
		}
	}
	clean := Sine(SineSpec{Length: 11, Period: 10})
	if clean[0][0] != 0 || clean[10][0] > 1e-9 || clean[10][0] < -1e-9 {
		t.Fatalf("unexpected clean sine: %v", clean)
	}
}
