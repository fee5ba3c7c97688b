package storage

import (
	"errors"
	"testing"
)

func TestReportCodecRoundTrip(t *testing.T) {
	report := sampleReport("r1", "2026-01-01T00:00:00Z", 0.5)
	data, err := EncodeReport(report)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeReport(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != report.ID || decoded.Scores != report.Scores || decoded.Params["lookback"] != 3.0 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	cases := map[string][]byte{
		"report":   []byte(`{"schema_version":2,"codec_version":1,"id":"r1"}`),
		"topology": []byte(`{"schema_version":1,"codec_version":0,"name":"t1"}`),
	}
	if _, err := DecodeReport(cases["report"]); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected report version mismatch, got %v", err)
	}
	if _, err := DecodeTopology(cases["topology"]); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected topology version mismatch, got %v", err)
	}
}

func TestDecodeTopologyKeepsGraphEntries(t *testing.T) {
	data := []byte(`{
		"schema_version": 1,
		"codec_version": 1,
		"name": "branchy",
		"form": "graph",
		"input_shape": {"length": 10, "dims": 1},
		"graph": [
			{"meta": {"id": "h1", "layer": "Dense", "parent": "input"}, "params": {"units": 4}},
			{"meta": {"id": "output", "layer": "Dense", "parent": "h1"}}
		],
		"uncertainty": "last",
		"drop_rate": 0.1
	}`)
	topology, err := DecodeTopology(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(topology.Graph) != 2 || topology.Graph[1].Meta.Parent != "h1" || topology.Uncertainty != "last" {
		t.Fatalf("unexpected topology: %+v", topology)
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	if _, err := DecodeReport([]byte(`{`)); err == nil {
		t.Fatal("expected decode error")
	}
}
