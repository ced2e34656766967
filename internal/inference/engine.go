package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/executor"
	"github.com/SyedDaiam9101/ignition/internal/graph"
	"github.com/SyedDaiam9101/ignition/internal/metrics"
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/pool"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

const instrumentationName = "github.com/SyedDaiam9101/ignition/internal/inference"

// Engine runs a compiled plan on the CPU kernels. It implements the
// InferenceEngine interface.
//
// The plan and graph are immutable after Load and shared by every call; the
// buffer pool is the only mutable state shared between calls.
type Engine struct {
	plan   *plan.Plan
	graph  *graph.Graph
	pool   *pool.Pool
	exec   *executor.Executor
	opts   Options
	tracer trace.Tracer

	mu       sync.Mutex
	idle     *sync.Cond
	inFlight int
	closed   bool
	// released is set once the pool is closed; later Close calls wait for it.
	released bool
}

// Load reads, validates and compiles the plan at path. Every failure is a
// load error (errors.Is(err, errdefs.ErrLoad)) and no engine is returned.
func Load(ctx context.Context, path string, opts Options) (*Engine, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "inference.Load",
		trace.WithAttributes(attribute.String("plan.path", path)))
	defer span.End()

	log := klog.FromContext(ctx)
	start := time.Now()

	e, err := load(path, opts)
	metrics.RecordPlanLoad(errdefs.CodeOf(err).String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error(err, "Failed to load plan", "path", path)
		return nil, err
	}

	log.Info("Loaded plan",
		"path", path,
		"checksum", fmt.Sprintf("%016x", e.plan.Checksum),
		"nodes", len(e.plan.Nodes),
		"levels", len(e.graph.Levels()),
		"weightBytes", e.plan.WeightBytes(),
		"duration", time.Since(start))
	return e, nil
}

func load(path string, opts Options) (*Engine, error) {
	p, err := plan.Load(path)
	if err != nil {
		return nil, err
	}
	return NewFromPlan(p, opts)
}

// NewFromPlan compiles an already decoded plan.
func NewFromPlan(p *plan.Plan, opts Options) (*Engine, error) {
	g, err := graph.Compile(p, opts.registry(), opts.shapeCacheSize())
	if err != nil {
		return nil, err
	}
	bp := pool.New(pool.Options{
		MaxBytes: opts.MaxPoolBytes,
		MaxWait:  opts.MaxWait,
		ZeroInit: opts.ZeroInitBuffers,
	})
	e := &Engine{
		plan:   p,
		graph:  g,
		pool:   bp,
		exec:   executor.New(g, bp, executor.Options{Workers: opts.Workers}),
		opts:   opts,
		tracer: otel.Tracer(instrumentationName),
	}
	e.idle = sync.NewCond(&e.mu)
	return e, nil
}

// Predict validates inputs against the plan and runs one call. On any error
// the engine stays usable and every buffer leased by the call is released.
func (e *Engine) Predict(ctx context.Context, inputs map[string]*tensor.Tensor) (tensor.List, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	ctx, span := e.tracer.Start(ctx, "inference.Predict")
	defer span.End()
	start := time.Now()

	out, batch, err := e.predict(ctx, inputs)
	if err != nil {
		code := errdefs.CodeOf(err)
		metrics.RecordPredictError(code.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		klog.FromContext(ctx).V(2).Info("Predict failed", "code", code.String(), "err", err)
		return nil, err
	}

	metrics.RecordPredictBatch(batch)
	metrics.RecordPredictLatency(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int64("predict.batch", batch))
	return out, nil
}

func (e *Engine) predict(ctx context.Context, inputs map[string]*tensor.Tensor) (tensor.List, int64, error) {
	batch, err := validateInputs(e.plan.Inputs, inputs, e.opts.MaxBatch)
	if err != nil {
		return nil, 0, err
	}
	out, err := e.exec.Run(ctx, inputs)
	if err != nil {
		return nil, 0, err
	}
	return out, batch, nil
}

// Metadata describes the plan's inputs and outputs.
func (e *Engine) Metadata() Metadata {
	md := Metadata{
		Inputs:     cloneSpecs(e.plan.Inputs),
		Outputs:    cloneSpecs(e.plan.Outputs),
		Checksum:   e.plan.Checksum,
		Attributes: make(map[string]string, len(e.plan.Metadata)),
	}
	for k, v := range e.plan.Metadata {
		md.Attributes[k] = v
	}
	return md
}

// PoolStats reports the buffer pool occupancy.
func (e *Engine) PoolStats() pool.Stats {
	return e.pool.Stats()
}

// Close releases the engine. It is idempotent and a nil return always means
// the pool has been released, even for a call racing the first. With CloseWait it blocks until
// in-flight calls finish; with CloseRefuse it fails with ErrEngineBusy while
// calls are outstanding and leaves the engine open. Predict after a
// successful Close fails with ErrClosedEngine.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		for !e.released {
			e.idle.Wait()
		}
		e.mu.Unlock()
		return nil
	}
	if e.inFlight > 0 && e.opts.CloseMode == CloseRefuse {
		n := e.inFlight
		e.mu.Unlock()
		return errdefs.New(errdefs.ErrEngineBusy, "inference.Close", "%d calls in flight", n)
	}
	e.closed = true
	for e.inFlight > 0 {
		e.idle.Wait()
	}
	e.mu.Unlock()

	e.pool.Close()

	e.mu.Lock()
	e.released = true
	e.idle.Broadcast()
	e.mu.Unlock()
	return nil
}

func (e *Engine) enter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errdefs.New(errdefs.ErrClosedEngine, "inference.Predict", "engine was closed")
	}
	e.inFlight++
	return nil
}

func (e *Engine) exit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight--
	if e.inFlight == 0 {
		e.idle.Broadcast()
	}
}

func cloneSpecs(specs []plan.TensorSpec) []plan.TensorSpec {
	out := make([]plan.TensorSpec, len(specs))
	for i, s := range specs {
		out[i] = plan.TensorSpec{Name: s.Name, DType: s.DType, Shape: s.Shape.Clone()}
		if s.MaxDims != nil {
			out[i].MaxDims = append([]int64(nil), s.MaxDims...)
		}
	}
	return out
}

// Ensure Engine implements InferenceEngine at compile time
var _ InferenceEngine = (*Engine)(nil)
