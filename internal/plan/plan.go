// Package plan defines the compiled execution plan and its binary file format.
//
// A plan is an ordered list of operator nodes together with the named input
// and output tensor specs and the weight blobs the nodes read. Plans are
// immutable once loaded and are shared read-only by every call on an engine.
//
// File layout (little-endian):
//
//	[header (64B)]  magic "IGNP", version, flags, body length, xxhash64 of body
//	[body]          tagged sections: tag(4) length(8) payload
//	                META  string metadata
//	                INPT  input tensor specs
//	                OUTP  output tensor specs
//	                WGHT  weight blobs, data 64-byte aligned within the file
//	                NODE  operator nodes in declaration order
//
// Unknown section tags are skipped so that newer writers stay readable.
package plan

import (
	"fmt"
	"math"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// TensorSpec declares a named graph input or output.
type TensorSpec struct {
	Name  string
	DType tensor.DType
	// Shape may contain tensor.DynamicDim entries.
	Shape tensor.Shape
	// MaxDims optionally bounds dynamic dimensions; 0 means unbounded.
	// When set it has the same rank as Shape.
	MaxDims []int64
}

// Weight is a constant tensor owned by the plan.
type Weight struct {
	Name  string
	DType tensor.DType
	Shape tensor.Shape
	Data  []byte
}

// Tensor returns a read-only tensor view of the weight.
func (w *Weight) Tensor() *tensor.Tensor {
	return tensor.FromBytes(w.DType, w.Shape, w.Data)
}

// Node is one operator invocation.
type Node struct {
	Name    string
	OpType  string
	Inputs  []string
	Outputs []string
	Attrs   Attrs
}

// Plan is a loaded execution plan.
type Plan struct {
	Version  uint16
	Metadata map[string]string
	Inputs   []TensorSpec
	Outputs  []TensorSpec
	Weights  []Weight
	Nodes    []Node
	// Checksum is the xxhash64 of the encoded body. It identifies the plan
	// in caches and logs.
	Checksum uint64
}

// Input returns the input spec with the given name.
func (p *Plan) Input(name string) (*TensorSpec, bool) {
	for i := range p.Inputs {
		if p.Inputs[i].Name == name {
			return &p.Inputs[i], true
		}
	}
	return nil, false
}

// Weight returns the weight with the given name.
func (p *Plan) Weight(name string) (*Weight, bool) {
	for i := range p.Weights {
		if p.Weights[i].Name == name {
			return &p.Weights[i], true
		}
	}
	return nil, false
}

// WeightBytes is the total size of all weight payloads.
func (p *Plan) WeightBytes() int64 {
	var n int64
	for i := range p.Weights {
		n += int64(len(p.Weights[i].Data))
	}
	return n
}

// Validate checks the structural invariants of the plan: a non-empty graph,
// unique tensor names, well-formed specs and weights, and no forward
// references. Shape compatibility between operators is checked when the plan
// is compiled against a kernel registry.
func (p *Plan) Validate() error {
	const op = "plan.Validate"

	if len(p.Nodes) == 0 {
		return errdefs.Schema(op, "plan has no nodes")
	}
	if len(p.Inputs) == 0 {
		return errdefs.Schema(op, "plan declares no inputs")
	}
	if len(p.Outputs) == 0 {
		return errdefs.Schema(op, "plan declares no outputs")
	}

	defined := make(map[string]string)
	define := func(name, what string) error {
		if name == "" {
			return errdefs.Schema(op, "%s has an empty name", what)
		}
		if prev, ok := defined[name]; ok {
			return errdefs.Schema(op, "duplicate tensor name %q (%s and %s)", name, prev, what)
		}
		defined[name] = what
		return nil
	}

	for i := range p.Inputs {
		spec := &p.Inputs[i]
		if err := validateSpec(spec); err != nil {
			return errdefs.Schema(op, "input %q: %v", spec.Name, err)
		}
		if err := define(spec.Name, "input"); err != nil {
			return err
		}
	}

	for i := range p.Weights {
		w := &p.Weights[i]
		if !w.DType.Valid() {
			return errdefs.Schema(op, "weight %q: invalid dtype %s", w.Name, w.DType)
		}
		if !w.Shape.IsStatic() {
			return errdefs.Schema(op, "weight %q: shape %s must be static", w.Name, w.Shape)
		}
		want, ok := w.Shape.ByteSize(w.DType)
		if !ok {
			return errdefs.Schema(op, "weight %q: %s%s payload size overflows", w.Name, w.DType, w.Shape)
		}
		if len(w.Data) != want {
			return errdefs.Schema(op, "weight %q: has %d bytes, %s%s needs %d", w.Name, len(w.Data), w.DType, w.Shape, want)
		}
		if err := define(w.Name, "weight"); err != nil {
			return err
		}
	}

	produced := make(map[string]bool)
	nodeNames := make(map[string]bool, len(p.Nodes))
	for i := range p.Nodes {
		n := &p.Nodes[i]
		if n.Name == "" {
			return errdefs.Schema(op, "node %d has an empty name", i)
		}
		if nodeNames[n.Name] {
			return errdefs.Schema(op, "duplicate node name %q", n.Name)
		}
		nodeNames[n.Name] = true
		if n.OpType == "" {
			return errdefs.Schema(op, "node %q has no op type", n.Name)
		}
		if len(n.Outputs) == 0 {
			return errdefs.Schema(op, "node %q produces no outputs", n.Name)
		}
		for _, in := range n.Inputs {
			if _, ok := defined[in]; !ok {
				return errdefs.Schema(op, "node %q reads %q before it is defined", n.Name, in)
			}
		}
		for _, out := range n.Outputs {
			if err := define(out, fmt.Sprintf("output of node %q", n.Name)); err != nil {
				return err
			}
			produced[out] = true
		}
	}

	outNames := make(map[string]bool, len(p.Outputs))
	for i := range p.Outputs {
		spec := &p.Outputs[i]
		if err := validateSpec(spec); err != nil {
			return errdefs.Schema(op, "output %q: %v", spec.Name, err)
		}
		if outNames[spec.Name] {
			return errdefs.Schema(op, "duplicate output %q", spec.Name)
		}
		outNames[spec.Name] = true
		if !produced[spec.Name] {
			if what, ok := defined[spec.Name]; ok {
				return errdefs.Schema(op, "output %q names a plan %s, outputs must be produced by a node", spec.Name, what)
			}
			return errdefs.Schema(op, "output %q is not produced by any node", spec.Name)
		}
	}
	return nil
}

func validateSpec(spec *TensorSpec) error {
	if !spec.DType.Valid() {
		return fmt.Errorf("invalid dtype %s", spec.DType)
	}
	for i, d := range spec.Shape {
		if d == 0 || d < tensor.DynamicDim {
			return fmt.Errorf("dimension %d is %d, must be positive or dynamic", i, d)
		}
	}
	if n, ok := spec.Shape.StaticElements(); !ok || n > math.MaxInt64/int64(spec.DType.Size()) {
		return fmt.Errorf("shape %s of %s overflows", spec.Shape, spec.DType)
	}
	if spec.MaxDims != nil {
		if len(spec.MaxDims) != len(spec.Shape) {
			return fmt.Errorf("max dims %v do not match rank %d", spec.MaxDims, len(spec.Shape))
		}
		for i, m := range spec.MaxDims {
			if m < 0 {
				return fmt.Errorf("max dim %d is negative", i)
			}
		}
	}
	return nil
}
