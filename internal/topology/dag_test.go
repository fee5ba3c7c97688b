package topology

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"forecastnet/internal/layers"
	"forecastnet/internal/model"
)

func entry(id, layer, parent string, params model.Params) model.GraphEntry {
	return model.GraphEntry{Meta: model.NodeMeta{ID: id, Layer: layer, Parent: parent}, Params: params}
}

func sampleEntries() []model.GraphEntry {
	return []model.GraphEntry{
		entry("gru", "GRU", InputNodeID, model.Params{"units": 32.0, "return_sequences": true}),
		entry("pool", "GlobalAveragePooling1D", "gru", nil),
		entry("hidden", "Dense", "pool", model.Params{"units": 16.0, "activation": "relu"}),
		entry(OutputNodeID, "Dense", "hidden", model.Params{"units": 99.0}),
	}
}

var shape = model.InputShape{Length: 24, Dims: 2}

func TestCompileGraphWithoutUncertainty(t *testing.T) {
	g, err := CompileGraph(shape, sampleEntries(), Policy{Mode: ModeNone, DropRate: 0.3})
	require.NoError(t, err)

	require.Empty(t, g.DropoutNodes())
	require.Equal(t, OutputNodeID, g.OutputID)
	path, err := g.PathTo(g.OutputID)
	require.NoError(t, err)
	require.Equal(t, []string{InputNodeID, "gru", "pool", "hidden", OutputNodeID}, path)

	out, ok := g.Node(OutputNodeID)
	require.True(t, ok)
	require.Equal(t, 2, out.Layer.Params()[layers.ParamUnits])
	require.Equal(t, DefaultInitializer, out.Layer.Params()[layers.ParamKernelInitializer])

	pool, ok := g.Node("pool")
	require.True(t, ok)
	require.NotContains(t, pool.Layer.Params(), layers.ParamKernelInitializer)
}

func TestCompileGraphLastInjectsDropoutOnParentOfOutput(t *testing.T) {
	g, err := CompileGraph(shape, sampleEntries(), Policy{Mode: ModeLast, DropRate: 0.3})
	require.NoError(t, err)

	dropouts := g.DropoutNodes()
	require.Len(t, dropouts, 1)
	require.Equal(t, "hidden", dropouts[0].Parent)
	require.True(t, dropouts[0].Dropout.AtInference)
	require.Equal(t, 0.3, dropouts[0].Dropout.Rate)

	out, ok := g.Node(OutputNodeID)
	require.True(t, ok)
	require.Equal(t, dropouts[0].ID, out.Parent)
	require.Equal(t, OutputNodeID, g.OutputID)
}

func TestCompileGraphAllRegularizesEveryNode(t *testing.T) {
	entries := sampleEntries()
	g, err := CompileGraph(shape, entries, Policy{Mode: ModeAll, DropRate: 0.1})
	require.NoError(t, err)

	require.Len(t, g.DropoutNodes(), len(entries))
	for _, e := range entries {
		node, ok := g.Node(e.Meta.ID)
		require.True(t, ok)
		require.Equal(t, KindLayer, node.Kind)
		wrapped, ok := g.Node(e.Meta.ID + "/dropout")
		require.True(t, ok, "node %s", e.Meta.ID)
		require.Equal(t, e.Meta.ID, wrapped.Parent)
		require.False(t, wrapped.Dropout.AtInference)
	}
	for _, node := range g.Nodes {
		if node.Kind == KindLayer && node.Parent != InputNodeID {
			parent, ok := g.Node(node.Parent)
			require.True(t, ok)
			require.Equal(t, KindDropout, parent.Kind)
		}
	}
	require.Equal(t, OutputNodeID+"/dropout", g.OutputID)
}

func TestCompileGraphPrunesNodesOffTheOutputPath(t *testing.T) {
	entries := []model.GraphEntry{
		entry("trunk", "LSTM", InputNodeID, model.Params{"units": 8.0}),
		entry("side", "Dense", "trunk", model.Params{"units": 3.0}),
		entry(OutputNodeID, "Dense", "trunk", nil),
	}
	g, err := CompileGraph(shape, entries, Policy{})
	require.NoError(t, err)

	_, ok := g.Node("side")
	require.False(t, ok)
	require.Len(t, g.Nodes, 3)
}

func TestCompileGraphDoesNotShareParamsAcrossNodes(t *testing.T) {
	shared := model.Params{"units": 4.0}
	entries := []model.GraphEntry{
		entry("a", "Dense", InputNodeID, shared),
		entry(OutputNodeID, "Dense", "a", shared),
	}
	g, err := CompileGraph(shape, entries, Policy{})
	require.NoError(t, err)

	a, _ := g.Node("a")
	require.Equal(t, 4.0, a.Layer.Params()[layers.ParamUnits])
	require.Equal(t, model.Params{"units": 4.0}, shared)
}

func TestCompileGraphConfigurationErrors(t *testing.T) {
	cases := map[string][]model.GraphEntry{
		"unknown layer": {
			entry("a", "NoSuchLayer", InputNodeID, nil),
			entry(OutputNodeID, "Dense", "a", nil),
		},
		"dangling parent": {
			entry(OutputNodeID, "Dense", "ghost", nil),
		},
		"parent declared after child": {
			entry(OutputNodeID, "Dense", "a", nil),
			entry("a", "Dense", InputNodeID, model.Params{"units": 2.0}),
		},
		"missing output": {
			entry("a", "Dense", InputNodeID, model.Params{"units": 2.0}),
		},
		"duplicate id": {
			entry("a", "Dense", InputNodeID, model.Params{"units": 2.0}),
			entry("a", "Dense", InputNodeID, model.Params{"units": 2.0}),
			entry(OutputNodeID, "Dense", "a", nil),
		},
		"redeclared input": {
			entry(InputNodeID, "Dense", InputNodeID, nil),
			entry(OutputNodeID, "Dense", InputNodeID, nil),
		},
		"output without units": {
			entry(OutputNodeID, "Flatten", InputNodeID, nil),
		},
		"reserved separator": {
			entry("a/b", "Flatten", InputNodeID, nil),
			entry(OutputNodeID, "Dense", "a/b", nil),
		},
		"empty": nil,
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := CompileGraph(shape, entries, Policy{Mode: ModeLast, DropRate: 0.1})
			require.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestCompileGraphUnknownLayerFailsBeforeRealization(t *testing.T) {
	built := 0
	r := layers.NewRegistry()
	r.MustRegister(layers.Spec{
		Name:    "Dense",
		Accepts: []string{layers.ParamUnits},
		Factory: func(params model.Params) (layers.Layer, error) {
			built++
			return layers.NewInstance("Dense", params), nil
		},
	})
	entries := []model.GraphEntry{
		entry("a", "Dense", InputNodeID, model.Params{"units": 2.0}),
		entry("b", "NoSuchLayer", "a", nil),
		entry(OutputNodeID, "Dense", "b", nil),
	}
	_, err := CompileGraph(shape, entries, Policy{}, WithRegistry(r))
	require.ErrorIs(t, err, layers.ErrLayerNotFound)
	require.Zero(t, built)
}

func TestPolicyValidation(t *testing.T) {
	require.NoError(t, Policy{}.Validate())
	require.NoError(t, Policy{Mode: ModeAll, DropRate: 0.5}.Validate())
	require.ErrorIs(t, Policy{Mode: "some"}.Validate(), model.ErrConfiguration)
	require.ErrorIs(t, Policy{Mode: ModeLast, DropRate: -0.1}.Validate(), model.ErrConfiguration)

	mode, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeNone, mode)
	mode, err = ParseMode("LAST")
	require.NoError(t, err)
	require.Equal(t, ModeLast, mode)
	_, err = ParseMode("first")
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestGraphMarshalJSON(t *testing.T) {
	g, err := CompileGraph(shape, sampleEntries(), Policy{Mode: ModeLast, DropRate: 0.2})
	require.NoError(t, err)

	data, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded struct {
		OutputID string `json:"output_id"`
		Nodes    []struct {
			ID          string   `json:"id"`
			Kind        string   `json:"kind"`
			Rate        *float64 `json:"rate"`
			AtInference bool     `json:"at_inference"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, OutputNodeID, decoded.OutputID)
	require.Len(t, decoded.Nodes, len(g.Nodes))

	var dropout int
	for _, node := range decoded.Nodes {
		if node.Kind == string(KindDropout) {
			dropout++
			require.NotNil(t, node.Rate)
			require.True(t, node.AtInference)
		}
	}
	require.Equal(t, 1, dropout)
}
