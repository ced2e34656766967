package plan

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// Source is the YAML description of a plan compiled by planc.
type Source struct {
	Metadata map[string]string `yaml:"metadata"`
	Inputs   []SpecSource      `yaml:"inputs"`
	Outputs  []SpecSource      `yaml:"outputs"`
	Weights  []WeightSource    `yaml:"weights"`
	Nodes    []NodeSource      `yaml:"nodes"`
}

// SpecSource describes a graph input or output. Dynamic dims are written -1.
type SpecSource struct {
	Name  string  `yaml:"name"`
	DType string  `yaml:"dtype"`
	Shape []int64 `yaml:"shape"`
	Max   []int64 `yaml:"max,omitempty"`
}

// WeightSource describes a weight blob. Init is one of "zeros", "ones",
// "values" (read Values) or "random" (normal samples scaled by Scale, seeded
// by Seed).
type WeightSource struct {
	Name   string    `yaml:"name"`
	DType  string    `yaml:"dtype"`
	Shape  []int64   `yaml:"shape"`
	Init   string    `yaml:"init"`
	Values []float64 `yaml:"values,omitempty"`
	Seed   int64     `yaml:"seed,omitempty"`
	Scale  float64   `yaml:"scale,omitempty"`
}

// NodeSource describes an operator node. Attribute values may be ints,
// floats, strings, or lists of ints or floats.
type NodeSource struct {
	Name    string                 `yaml:"name"`
	Op      string                 `yaml:"op"`
	Inputs  []string               `yaml:"inputs"`
	Outputs []string               `yaml:"outputs"`
	Attrs   map[string]interface{} `yaml:"attrs,omitempty"`
}

// ParseSourceFile reads a YAML plan description.
func ParseSourceFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan source: %w", err)
	}
	return ParseSource(data)
}

// ParseSource parses a YAML plan description.
func ParseSource(data []byte) (*Source, error) {
	var src Source
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("parsing plan source: %w", err)
	}
	return &src, nil
}

// Build converts the description into a validated Plan.
func (s *Source) Build() (*Plan, error) {
	p := &Plan{Version: Version, Metadata: map[string]string{}}
	for k, v := range s.Metadata {
		p.Metadata[k] = v
	}

	var err error
	if p.Inputs, err = buildSpecs(s.Inputs); err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	if p.Outputs, err = buildSpecs(s.Outputs); err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}
	for _, ws := range s.Weights {
		w, err := buildWeight(ws)
		if err != nil {
			return nil, fmt.Errorf("weight %q: %w", ws.Name, err)
		}
		p.Weights = append(p.Weights, w)
	}
	for _, ns := range s.Nodes {
		attrs, err := buildAttrs(ns.Attrs)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", ns.Name, err)
		}
		p.Nodes = append(p.Nodes, Node{
			Name:    ns.Name,
			OpType:  ns.Op,
			Inputs:  ns.Inputs,
			Outputs: ns.Outputs,
			Attrs:   attrs,
		})
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func buildSpecs(srcs []SpecSource) ([]TensorSpec, error) {
	specs := make([]TensorSpec, 0, len(srcs))
	for _, s := range srcs {
		dt, err := tensor.ParseDType(s.DType)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s.Name, err)
		}
		specs = append(specs, TensorSpec{
			Name:    s.Name,
			DType:   dt,
			Shape:   tensor.Shape(s.Shape).Clone(),
			MaxDims: s.Max,
		})
	}
	return specs, nil
}

func buildWeight(ws WeightSource) (Weight, error) {
	dt, err := tensor.ParseDType(ws.DType)
	if err != nil {
		return Weight{}, err
	}
	shape := tensor.Shape(ws.Shape).Clone()
	if !shape.IsStatic() {
		return Weight{}, fmt.Errorf("shape %s must be static", shape)
	}
	if _, ok := shape.ByteSize(dt); !ok {
		return Weight{}, fmt.Errorf("shape %s of %s is too large", shape, dt)
	}
	n := int(shape.NumElements())

	values := make([]float64, n)
	switch ws.Init {
	case "", "zeros":
	case "ones":
		for i := range values {
			values[i] = 1
		}
	case "values":
		if len(ws.Values) != n {
			return Weight{}, fmt.Errorf("has %d values, shape %s needs %d", len(ws.Values), shape, n)
		}
		copy(values, ws.Values)
	case "random":
		scale := ws.Scale
		if scale == 0 {
			scale = 0.01
		}
		r := rand.New(rand.NewSource(ws.Seed))
		for i := range values {
			values[i] = r.NormFloat64() * scale
		}
	default:
		return Weight{}, fmt.Errorf("unknown init %q", ws.Init)
	}

	t := tensor.New(dt, shape)
	if err := fillFloat64(t, values); err != nil {
		return Weight{}, err
	}
	return Weight{Name: ws.Name, DType: dt, Shape: shape, Data: t.Data}, nil
}

func fillFloat64(t *tensor.Tensor, values []float64) error {
	switch t.DType {
	case tensor.Float32:
		dst := t.Float32s()
		for i, v := range values {
			dst[i] = float32(v)
		}
	case tensor.Float64:
		copy(t.Float64s(), values)
	case tensor.Int32:
		dst := t.Int32s()
		for i, v := range values {
			dst[i] = int32(v)
		}
	case tensor.Int64:
		dst := t.Int64s()
		for i, v := range values {
			dst[i] = int64(v)
		}
	default:
		return fmt.Errorf("weights of dtype %s cannot be described in YAML", t.DType)
	}
	return nil
}

func buildAttrs(raw map[string]interface{}) (Attrs, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	attrs := make(Attrs, len(raw))
	for name, v := range raw {
		switch v := v.(type) {
		case int:
			attrs[name] = IntAttr(int64(v))
		case float64:
			attrs[name] = FloatAttr(v)
		case string:
			attrs[name] = StringAttr(v)
		case []interface{}:
			a, err := listAttr(v)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", name, err)
			}
			attrs[name] = a
		default:
			return nil, fmt.Errorf("attribute %q has unsupported type %T", name, v)
		}
	}
	return attrs, nil
}

func listAttr(items []interface{}) (Attr, error) {
	ints := make([]int64, 0, len(items))
	floats := make([]float64, 0, len(items))
	allInts := true
	for _, item := range items {
		switch item := item.(type) {
		case int:
			ints = append(ints, int64(item))
			floats = append(floats, float64(item))
		case float64:
			allInts = false
			floats = append(floats, item)
		default:
			return Attr{}, fmt.Errorf("list element has unsupported type %T", item)
		}
	}
	if allInts {
		return IntsAttr(ints...), nil
	}
	return FloatsAttr(floats...), nil
}
