// Command predict loads a plan and runs it on random inputs, printing the
// shape and leading values of every output. With -concurrency it issues that
// many calls at once against the same engine.
//
//	predict -plan model.plan -batch 4 -concurrency 8
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/SyedDaiam9101/ignition/internal/inference"
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/planstore"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

type options struct {
	plan        string
	batch       int64
	seed        int64
	concurrency int
	workers     int
	maxPool     int64
	show        int
}

func main() {
	klog.InitFlags(nil)
	var o options
	flag.StringVar(&o.plan, "plan", "", "Plan reference: local path, gs://bucket/object or http(s) URL")
	flag.Int64Var(&o.batch, "batch", 1, "Batch size substituted for dynamic dimension 0")
	flag.Int64Var(&o.seed, "seed", 1, "Seed for the random inputs")
	flag.IntVar(&o.concurrency, "concurrency", 1, "Concurrent predict calls")
	flag.IntVar(&o.workers, "workers", 0, "Nodes run in parallel within one call (0: GOMAXPROCS)")
	flag.Int64Var(&o.maxPool, "max-pool-bytes", 0, "Buffer pool ceiling in bytes (0: unbounded)")
	flag.IntVar(&o.show, "show", 5, "Leading output values to print")
	flag.Parse()

	if err := run(context.Background(), o); err != nil {
		fmt.Fprintf(os.Stderr, "predict: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	if o.plan == "" {
		return fmt.Errorf("-plan is required")
	}
	if o.batch < 1 || o.concurrency < 1 {
		return fmt.Errorf("-batch and -concurrency must be positive")
	}

	store := planstore.New(planstore.Options{})
	defer store.Close()
	path, err := store.Fetch(ctx, o.plan)
	if err != nil {
		return err
	}

	opts := inference.DefaultOptions()
	opts.Workers = o.workers
	opts.MaxPoolBytes = o.maxPool
	e, err := inference.Load(ctx, path, opts)
	if err != nil {
		return err
	}
	defer e.Close()

	inputs, err := randomInputs(e.Metadata().Inputs, o.batch, rand.New(rand.NewSource(o.seed)))
	if err != nil {
		return err
	}

	results := make([]tensor.List, o.concurrency)
	start := time.Now()
	p := pool.New().WithMaxGoroutines(o.concurrency).WithContext(ctx).WithCancelOnError()
	for i := range results {
		p.Go(func(ctx context.Context) error {
			out, err := e.Predict(ctx, inputs)
			results[i] = out
			return err
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	for _, named := range results[0] {
		fmt.Printf("%s %s %v\n", named.Name, named.Tensor, head(named.Tensor, o.show))
	}
	stats := e.PoolStats()
	fmt.Printf("calls=%d elapsed=%s pool_high_water=%d pool_retained=%d\n",
		o.concurrency, elapsed, stats.HighWater, stats.Retained)
	return nil
}

// randomInputs builds one tensor per spec. Dynamic dimension 0 becomes batch;
// other dynamic dimensions become 1.
func randomInputs(specs []plan.TensorSpec, batch int64, r *rand.Rand) (map[string]*tensor.Tensor, error) {
	inputs := make(map[string]*tensor.Tensor, len(specs))
	for _, spec := range specs {
		shape := spec.Shape.Clone()
		for i, d := range shape {
			if d == tensor.DynamicDim {
				shape[i] = 1
				if i == 0 {
					shape[i] = batch
				}
			}
		}
		t := tensor.New(spec.DType, shape)
		switch spec.DType {
		case tensor.Float32:
			v := t.Float32s()
			for i := range v {
				v[i] = r.Float32()
			}
		case tensor.Float64:
			v := t.Float64s()
			for i := range v {
				v[i] = r.Float64()
			}
		case tensor.Float16:
			v := t.Float16s()
			for i := range v {
				v[i] = float16.Fromfloat32(r.Float32())
			}
		case tensor.Int32:
			v := t.Int32s()
			for i := range v {
				v[i] = r.Int31n(100)
			}
		case tensor.Int64:
			v := t.Int64s()
			for i := range v {
				v[i] = r.Int63n(100)
			}
		case tensor.Uint8:
			v := t.Uint8s()
			for i := range v {
				v[i] = uint8(r.Intn(256))
			}
		default:
			return nil, fmt.Errorf("input %q has unsupported dtype %s", spec.Name, spec.DType)
		}
		inputs[spec.Name] = t
	}
	return inputs, nil
}

func head(t *tensor.Tensor, n int) []float64 {
	var out []float64
	add := func(v float64) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, v)
		return true
	}
	switch t.DType {
	case tensor.Float32:
		for _, v := range t.Float32s() {
			if !add(float64(v)) {
				break
			}
		}
	case tensor.Float64:
		for _, v := range t.Float64s() {
			if !add(v) {
				break
			}
		}
	case tensor.Float16:
		for _, v := range t.Float16s() {
			if !add(float64(v.Float32())) {
				break
			}
		}
	case tensor.Int32:
		for _, v := range t.Int32s() {
			if !add(float64(v)) {
				break
			}
		}
	case tensor.Int64:
		for _, v := range t.Int64s() {
			if !add(float64(v)) {
				break
			}
		}
	case tensor.Uint8:
		for _, v := range t.Uint8s() {
			if !add(float64(v)) {
				break
			}
		}
	}
	return out
}
