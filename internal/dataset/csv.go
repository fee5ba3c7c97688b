package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"forecastnet/internal/model"
)

// CSVOptions selects the numeric columns of a series table. An empty Columns
// list keeps every column.
type CSVOptions struct {
	Columns []string
	MinRows int
}

// LoadCSV reads an ordered series from path. A first row that does not parse
// as numbers is treated as a header.
func LoadCSV(path string, opts CSVOptions) (model.Series, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("series csv path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open series csv %s: %w", path, err)
	}
	defer f.Close()

	series, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("series csv %s: %w", path, err)
	}
	return series, nil
}

func ReadCSV(r io.Reader, opts CSVOptions) (model.Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		header  []string
		indices []int
		series  model.Series
		row     int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+1, err)
		}
		row++
		if isBlank(record) {
			continue
		}

		if indices == nil {
			if _, err := parseRow(record, allIndices(len(record))); err != nil {
				header = record
				indices, err = selectColumns(header, opts.Columns)
				if err != nil {
					return nil, err
				}
				continue
			}
			if len(opts.Columns) > 0 {
				return nil, fmt.Errorf("column selection requires a header row")
			}
			indices = allIndices(len(record))
		}

		values, err := parseRow(record, indices)
		if err != nil {
			return nil, fmt.Errorf("parse row %d: %w", row, err)
		}
		if len(series) > 0 && len(values) != series.Dims() {
			return nil, fmt.Errorf("row %d has %d values, want %d", row, len(values), series.Dims())
		}
		series = append(series, values)
	}

	minRows := opts.MinRows
	if minRows <= 0 {
		minRows = 1
	}
	if len(series) < minRows {
		return nil, fmt.Errorf("%w: requires at least %d rows, got %d", model.ErrInsufficientData, minRows, len(series))
	}
	return series, nil
}

func selectColumns(header, columns []string) ([]int, error) {
	if len(columns) == 0 {
		return allIndices(len(header)), nil
	}
	byName := make(map[string]int, len(header))
	for i, name := range header {
		byName[strings.TrimSpace(name)] = i
	}
	indices := make([]int, 0, len(columns))
	for _, column := range columns {
		i, ok := byName[column]
		if !ok {
			return nil, fmt.Errorf("column %q not found in header %v", column, header)
		}
		indices = append(indices, i)
	}
	return indices, nil
}

func parseRow(record []string, indices []int) ([]float64, error) {
	values := make([]float64, 0, len(indices))
	for _, i := range indices {
		if i >= len(record) {
			return nil, fmt.Errorf("missing column %d", i)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite value %q", record[i])
		}
		values = append(values, v)
	}
	return values, nil
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
