// Package graph compiles a plan against a kernel registry into an immutable
// execution graph: a deterministic topological order grouped into levels of
// mutually independent nodes, last-use liveness for intermediate tensors, and
// symbolic shape inference.
//
// A Graph is shared read-only by every call on an engine. Concrete shapes for
// a call are obtained from Resolve, which caches results per input-shape
// signature.
package graph

import (
	"fmt"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/kernels"
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// Step is a node bound to its kernel.
type Step struct {
	Node   *plan.Node
	Kernel kernels.Kernel
	// Level is the node's depth: one more than the deepest level producing
	// any of its inputs. Nodes reading only graph inputs and weights are at
	// level 0.
	Level int
}

// Graph is a compiled plan.
type Graph struct {
	plan    *plan.Plan
	steps   []Step
	levels  [][]int
	release [][]string
	outputs map[string]bool
	weights map[string]bool
	descs   map[string]tensor.Desc
	cache   *shapeCache
}

// Compile validates p, binds every node to a kernel in reg and runs symbolic
// shape inference. cacheSize bounds the number of resolved input signatures
// kept by Resolve; zero disables the cache.
func Compile(p *plan.Plan, reg *kernels.Registry, cacheSize int) (*Graph, error) {
	const op = "graph.Compile"

	if err := p.Validate(); err != nil {
		return nil, err
	}

	g := &Graph{
		plan:    p,
		steps:   make([]Step, len(p.Nodes)),
		outputs: make(map[string]bool, len(p.Outputs)),
		weights: make(map[string]bool, len(p.Weights)),
		descs:   make(map[string]tensor.Desc),
		cache:   newShapeCache(cacheSize),
	}
	for _, o := range p.Outputs {
		g.outputs[o.Name] = true
	}

	producedAt := make(map[string]int)
	for _, in := range p.Inputs {
		g.descs[in.Name] = tensor.Desc{DType: in.DType, Shape: in.Shape.Clone()}
	}
	for _, w := range p.Weights {
		g.weights[w.Name] = true
		g.descs[w.Name] = tensor.Desc{DType: w.DType, Shape: w.Shape.Clone()}
	}

	// Forward references are rejected by Validate, so declaration order is
	// already topological and one pass assigns every level.
	for i := range p.Nodes {
		node := &p.Nodes[i]
		k, ok := reg.Lookup(node.OpType)
		if !ok {
			return nil, errdefs.Schema(op, "node %q: unknown op type %q", node.Name, node.OpType)
		}
		level := 0
		for _, name := range node.Inputs {
			if l, ok := producedAt[name]; ok && l+1 > level {
				level = l + 1
			}
		}
		for _, name := range node.Outputs {
			producedAt[name] = level
		}
		g.steps[i] = Step{Node: node, Kernel: k, Level: level}
		for len(g.levels) <= level {
			g.levels = append(g.levels, nil)
		}
		g.levels[level] = append(g.levels[level], i)
	}

	if err := g.inferSymbolic(); err != nil {
		return nil, err
	}
	g.computeLiveness(producedAt)
	return g, nil
}

// inferSymbolic propagates declared shapes, with dynamic dims, through every
// node and checks the result against the declared outputs.
func (g *Graph) inferSymbolic() error {
	const op = "graph.Compile"

	for _, step := range g.steps {
		outs, err := inferStep(step, g.descs)
		if err != nil {
			return errdefs.Wrap(errdefs.ErrSchema, op, err, "node %q (%s)", step.Node.Name, step.Node.OpType)
		}
		for i, name := range step.Node.Outputs {
			g.descs[name] = outs[i]
		}
	}

	for _, spec := range g.plan.Outputs {
		got := g.descs[spec.Name]
		if got.DType != spec.DType {
			return errdefs.Schema(op, "output %q: graph produces %s, declared %s", spec.Name, got.DType, spec.DType)
		}
		if !spec.Shape.Compatible(got.Shape) {
			return errdefs.Schema(op, "output %q: graph produces shape %s, declared %s", spec.Name, got.Shape, spec.Shape)
		}
	}
	return nil
}

// inferStep gathers the descriptors of a node's inputs and asks its kernel
// for the outputs.
func inferStep(step Step, descs map[string]tensor.Desc) ([]tensor.Desc, error) {
	node := step.Node
	in := make([]tensor.Desc, len(node.Inputs))
	for i, name := range node.Inputs {
		in[i] = descs[name]
	}
	outs, err := step.Kernel.InferShape(node.Attrs, in)
	if err != nil {
		return nil, err
	}
	if len(outs) != len(node.Outputs) {
		return nil, fmt.Errorf("kernel produces %d outputs, node declares %d", len(outs), len(node.Outputs))
	}
	return outs, nil
}

// computeLiveness records, per level, the graph inputs and intermediates that
// no later level reads. Graph outputs are never released during the walk.
func (g *Graph) computeLiveness(producedAt map[string]int) {
	lastUse := make(map[string]int, len(producedAt)+len(g.plan.Inputs))
	for name, l := range producedAt {
		lastUse[name] = l
	}
	for _, in := range g.plan.Inputs {
		lastUse[in.Name] = 0
	}
	for _, step := range g.steps {
		for _, name := range step.Node.Inputs {
			if l, ok := lastUse[name]; ok && step.Level > l {
				lastUse[name] = step.Level
			}
		}
	}

	g.release = make([][]string, len(g.levels))
	for _, in := range g.plan.Inputs {
		l := lastUse[in.Name]
		g.release[l] = append(g.release[l], in.Name)
	}
	for _, step := range g.steps {
		for _, name := range step.Node.Outputs {
			if g.outputs[name] {
				continue
			}
			l := lastUse[name]
			g.release[l] = append(g.release[l], name)
		}
	}
}

// Plan returns the compiled plan.
func (g *Graph) Plan() *plan.Plan { return g.plan }

// Steps returns the nodes in declaration order.
func (g *Graph) Steps() []Step { return g.steps }

// Levels returns step indexes grouped by level. Within a level indexes are
// in declaration order.
func (g *Graph) Levels() [][]int { return g.levels }

// Releasable lists the inputs and intermediates whose last reader runs in
// level.
func (g *Graph) Releasable(level int) []string { return g.release[level] }

// IsOutput reports whether name is a declared graph output.
func (g *Graph) IsOutput(name string) bool { return g.outputs[name] }

// IsWeight reports whether name is a weight.
func (g *Graph) IsWeight(name string) bool { return g.weights[name] }

// Desc returns the symbolic descriptor of a tensor, which may contain
// dynamic dimensions.
func (g *Graph) Desc(name string) (tensor.Desc, bool) {
	d, ok := g.descs[name]
	return d, ok
}
