// Package executor runs a compiled graph for one predict call.
//
// The walk proceeds level by level. Nodes within a level are independent and
// run in parallel on an errgroup bounded by Options.Workers; a level starts
// only after the previous one completed. Intermediate buffers are leased from
// the pool before a node runs and released as soon as the last level reading
// them finishes. Cancellation is checked before every dispatch; a kernel that
// already started runs to completion.
package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/graph"
	"github.com/SyedDaiam9101/ignition/internal/metrics"
	"github.com/SyedDaiam9101/ignition/internal/pool"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// Options configures an Executor.
type Options struct {
	// Workers bounds the nodes of one level running at once. Zero means
	// GOMAXPROCS.
	Workers int
}

// Executor runs calls against one graph. It is safe for concurrent use.
type Executor struct {
	graph   *graph.Graph
	pool    *pool.Pool
	workers int
	weights map[string]*tensor.Tensor
}

// New binds a graph to a buffer pool.
func New(g *graph.Graph, p *pool.Pool, opts Options) *Executor {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	weights := make(map[string]*tensor.Tensor, len(g.Plan().Weights))
	for i := range g.Plan().Weights {
		w := &g.Plan().Weights[i]
		weights[w.Name] = w.Tensor()
	}
	return &Executor{graph: g, pool: p, workers: workers, weights: weights}
}

// call is the state of one Run: the tensors bound so far and the buffers
// backing them.
type call struct {
	id     string
	shapes graph.Shapes

	mu     sync.Mutex
	values map[string]*tensor.Tensor
	leases map[string]*pool.Buffer
}

func (c *call) get(name string) *tensor.Tensor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

func (c *call) bind(name string, t *tensor.Tensor, b *pool.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] = t
	if b != nil {
		c.leases[name] = b
	}
}

// Run executes the graph. Inputs must match the plan's input specs; the
// caller validates them. The returned tensors are owned by the caller and
// listed in declared output order.
func (e *Executor) Run(ctx context.Context, inputs map[string]*tensor.Tensor) (tensor.List, error) {
	inputShapes := make(map[string]tensor.Shape, len(inputs))
	for name, t := range inputs {
		inputShapes[name] = t.Shape
	}
	shapes, err := e.graph.Resolve(inputShapes)
	if err != nil {
		return nil, err
	}

	c := &call{
		id:     uuid.NewString(),
		shapes: shapes,
		values: make(map[string]*tensor.Tensor, len(shapes)),
		leases: make(map[string]*pool.Buffer, len(shapes)),
	}
	defer e.releaseAll(c)

	log := klog.FromContext(ctx).WithValues("call", c.id)
	ctx = klog.NewContext(ctx, log)

	for name, w := range e.weights {
		c.values[name] = w
	}
	for _, spec := range e.graph.Plan().Inputs {
		in := inputs[spec.Name]
		t, err := e.lease(ctx, c, spec.Name)
		if err != nil {
			return nil, err
		}
		copy(t.Data, in.Data)
	}

	for level, steps := range e.graph.Levels() {
		if err := e.runLevel(ctx, c, level, steps); err != nil {
			return nil, err
		}
		for _, name := range e.graph.Releasable(level) {
			e.release(c, name)
		}
	}

	outputs := make(tensor.List, 0, len(e.graph.Plan().Outputs))
	for _, spec := range e.graph.Plan().Outputs {
		outputs = append(outputs, tensor.Named{Name: spec.Name, Tensor: c.get(spec.Name).Clone()})
	}
	log.V(4).Info("call complete", "outputs", len(outputs))
	return outputs, nil
}

func (e *Executor) runLevel(ctx context.Context, c *call, level int, steps []int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, idx := range steps {
		step := e.graph.Steps()[idx]
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			return e.dispatch(gctx, c, level, step)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// errgroup cancels gctx only on failure, so a parent cancellation that
	// stopped dispatching must be reported here.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("call %s canceled after level %d: %w", c.id, level, err)
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, c *call, level int, step graph.Step) (err error) {
	node := step.Node
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("call %s canceled before node %q: %w", c.id, node.Name, err)
	}

	inputs := make([]*tensor.Tensor, len(node.Inputs))
	for i, name := range node.Inputs {
		t := c.get(name)
		if t == nil {
			return errdefs.New(errdefs.ErrPredict, "executor", "node %q: input %q is not bound", node.Name, name)
		}
		if want := c.shapes[name].Shape; !t.Shape.Equal(want) {
			return errdefs.New(errdefs.ErrPredict, "executor", "node %q: input %q is bound to %s, resolved %s", node.Name, name, t.Shape, want)
		}
		inputs[i] = t
	}
	outputs := make([]*tensor.Tensor, len(node.Outputs))
	for i, name := range node.Outputs {
		t, err := e.lease(ctx, c, name)
		if err != nil {
			return err
		}
		outputs[i] = t
	}

	defer func() {
		if r := recover(); r != nil {
			err = &errdefs.KernelError{Op: node.Name, OpType: node.OpType, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	klog.FromContext(ctx).V(5).Info("dispatch", "level", level, "node", node.Name, "op", node.OpType)
	start := time.Now()
	if err := step.Kernel.Run(ctx, node.Attrs, inputs, outputs); err != nil {
		return &errdefs.KernelError{Op: node.Name, OpType: node.OpType, Cause: err}
	}
	metrics.RecordKernelLatency(node.OpType, time.Since(start).Seconds())
	return nil
}

// lease binds name to a pooled buffer sized from its resolved descriptor.
func (e *Executor) lease(ctx context.Context, c *call, name string) (*tensor.Tensor, error) {
	desc := c.shapes[name]
	size, ok := desc.Shape.ByteSize(desc.DType)
	if !ok {
		return nil, errdefs.ResourceExhausted("executor.lease", "tensor %q: %s%s is too large to allocate", name, desc.DType, desc.Shape)
	}
	buf, err := e.pool.Lease(ctx, name, size)
	if err != nil {
		return nil, err
	}
	t := tensor.FromBytes(desc.DType, desc.Shape, buf.Bytes())
	c.bind(name, t, buf)
	return t, nil
}

func (e *Executor) release(c *call, name string) {
	c.mu.Lock()
	buf, ok := c.leases[name]
	delete(c.leases, name)
	delete(c.values, name)
	c.mu.Unlock()
	if ok {
		e.pool.Release(buf)
	}
}

func (e *Executor) releaseAll(c *call) {
	c.mu.Lock()
	leases := c.leases
	c.leases = nil
	c.mu.Unlock()
	for _, buf := range leases {
		e.pool.Release(buf)
	}
}
