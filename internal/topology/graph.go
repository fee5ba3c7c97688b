package topology

import (
	"encoding/json"
	"fmt"

	"forecastnet/internal/layers"
	"forecastnet/internal/model"
)

const (
	// InputNodeID and OutputNodeID are the reserved graph-form sentinels.
	InputNodeID  = "input"
	OutputNodeID = "output"

	ProjectionLayer    = "Dense"
	DefaultInitializer = "glorot_normal"
)

type NodeKind string

const (
	KindInput   NodeKind = "input"
	KindLayer   NodeKind = "layer"
	KindDropout NodeKind = "dropout"
)

type Dropout struct {
	Rate float64
	// AtInference keeps the mask active outside training (Monte Carlo dropout).
	AtInference bool
}

type Node struct {
	ID      string
	Kind    NodeKind
	Parent  string
	Layer   layers.Layer
	Dropout *Dropout
}

// Graph is a compiled topology. Nodes are stored in dependency order and every
// node other than the input has exactly one parent.
type Graph struct {
	Input      model.InputShape
	OutputDims int
	InputID    string
	OutputID   string
	Nodes      []Node
}

func (g *Graph) Node(id string) (Node, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

// Layers returns the realized layer instances in execution order.
func (g *Graph) Layers() []layers.Layer {
	out := make([]layers.Layer, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		if node.Kind == KindLayer {
			out = append(out, node.Layer)
		}
	}
	return out
}

func (g *Graph) DropoutNodes() []Node {
	out := make([]Node, 0)
	for _, node := range g.Nodes {
		if node.Kind == KindDropout {
			out = append(out, node)
		}
	}
	return out
}

// PathTo walks parent links from id back to the input and returns the ids in
// forward order.
func (g *Graph) PathTo(id string) ([]string, error) {
	var reversed []string
	for cur := id; cur != ""; {
		node, ok := g.Node(cur)
		if !ok {
			return nil, fmt.Errorf("node %s not in graph", cur)
		}
		reversed = append(reversed, cur)
		cur = node.Parent
	}
	path := make([]string, len(reversed))
	for i := range reversed {
		path[i] = reversed[len(reversed)-1-i]
	}
	return path, nil
}

type nodeView struct {
	ID          string       `json:"id"`
	Kind        NodeKind     `json:"kind"`
	Parent      string       `json:"parent,omitempty"`
	Type        string       `json:"type,omitempty"`
	Params      model.Params `json:"params,omitempty"`
	Rate        *float64     `json:"rate,omitempty"`
	AtInference bool         `json:"at_inference,omitempty"`
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	views := make([]nodeView, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		view := nodeView{ID: node.ID, Kind: node.Kind, Parent: node.Parent}
		if node.Layer != nil {
			view.Type = node.Layer.Type()
			view.Params = node.Layer.Params()
		}
		if node.Dropout != nil {
			rate := node.Dropout.Rate
			view.Rate = &rate
			view.AtInference = node.Dropout.AtInference
		}
		views = append(views, view)
	}
	return json.Marshal(struct {
		Input      model.InputShape `json:"input"`
		OutputDims int              `json:"output_dims"`
		InputID    string           `json:"input_id"`
		OutputID   string           `json:"output_id"`
		Nodes      []nodeView       `json:"nodes"`
	}{g.Input, g.OutputDims, g.InputID, g.OutputID, views})
}

type Option func(*options)

type options struct {
	registry    *layers.Registry
	initializer string
}

func WithRegistry(r *layers.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithInitializer overrides the kernel initializer attached to layers that accept one.
func WithInitializer(name string) Option {
	return func(o *options) {
		if name != "" {
			o.initializer = name
		}
	}
}

func newOptions(opts []Option) options {
	o := options{registry: layers.Default(), initializer: DefaultInitializer}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// builder accumulates realized nodes for a single compile call.
type builder struct {
	registry *layers.Registry
	nodes    []Node
	seen     map[string]struct{}
}

func newBuilder(registry *layers.Registry) *builder {
	return &builder{registry: registry, seen: make(map[string]struct{})}
}

func (b *builder) add(node Node) (string, error) {
	if _, exists := b.seen[node.ID]; exists {
		return "", fmt.Errorf("%w: duplicate node id %q", model.ErrConfiguration, node.ID)
	}
	if node.Kind != KindInput {
		if _, ok := b.seen[node.Parent]; !ok {
			return "", fmt.Errorf("%w: node %q references unrealized parent %q", model.ErrConfiguration, node.ID, node.Parent)
		}
	}
	b.seen[node.ID] = struct{}{}
	b.nodes = append(b.nodes, node)
	return node.ID, nil
}

func (b *builder) input() string {
	b.seen[InputNodeID] = struct{}{}
	b.nodes = append(b.nodes, Node{ID: InputNodeID, Kind: KindInput})
	return InputNodeID
}

func (b *builder) layer(id, layerType string, params model.Params, parent string) (string, error) {
	layer, err := b.registry.New(layerType, params)
	if err != nil {
		return "", fmt.Errorf("%w: node %q: %w", model.ErrConfiguration, id, err)
	}
	return b.add(Node{ID: id, Kind: KindLayer, Parent: parent, Layer: layer})
}

func (b *builder) dropout(id, parent string, d Dropout) (string, error) {
	return b.add(Node{ID: id, Kind: KindDropout, Parent: parent, Dropout: &d})
}

// graph keeps only the nodes on the path from the input to output.
func (b *builder) graph(shape model.InputShape, output string) *Graph {
	parents := make(map[string]string, len(b.nodes))
	for _, node := range b.nodes {
		parents[node.ID] = node.Parent
	}
	keep := make(map[string]struct{}, len(b.nodes))
	for cur := output; cur != ""; cur = parents[cur] {
		keep[cur] = struct{}{}
	}

	nodes := make([]Node, 0, len(keep))
	for _, node := range b.nodes {
		if _, ok := keep[node.ID]; ok {
			nodes = append(nodes, node)
		}
	}
	return &Graph{
		Input:      shape,
		OutputDims: shape.Dims,
		InputID:    InputNodeID,
		OutputID:   output,
		Nodes:      nodes,
	}
}

func validateShape(shape model.InputShape) error {
	if shape.Length <= 0 || shape.Dims <= 0 {
		return fmt.Errorf("%w: input shape must be positive, got (%d, %d)", model.ErrConfiguration, shape.Length, shape.Dims)
	}
	return nil
}

func inputShapeParam(shape model.InputShape) []int {
	return []int{shape.Length, shape.Dims}
}
