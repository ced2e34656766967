package executor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/graph"
	"github.com/SyedDaiam9101/ignition/internal/kernels"
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/pool"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

var (
	wValues    = []float32{1, 0, 0, 1, 1, 1, -1, 2}
	biasValues = []float32{0.5, -0.5}
)

func diamondPlan() *plan.Plan {
	w := tensor.FromFloat32(tensor.Shape{4, 2}, wValues)
	b := tensor.FromFloat32(tensor.Shape{2}, biasValues)
	return &plan.Plan{
		Version: plan.Version,
		Inputs:  []plan.TensorSpec{{Name: "x", DType: tensor.Float32, Shape: tensor.Shape{-1, 4}}},
		Outputs: []plan.TensorSpec{{Name: "y", DType: tensor.Float32, Shape: tensor.Shape{-1, 2}}},
		Weights: []plan.Weight{
			{Name: "w", DType: tensor.Float32, Shape: w.Shape, Data: w.Data},
			{Name: "bias", DType: tensor.Float32, Shape: b.Shape, Data: b.Data},
		},
		Nodes: []plan.Node{
			{Name: "relu", OpType: "Relu", Inputs: []string{"x"}, Outputs: []string{"a"}},
			{Name: "sigmoid", OpType: "Sigmoid", Inputs: []string{"x"}, Outputs: []string{"b"}},
			{Name: "add", OpType: "Add", Inputs: []string{"a", "b"}, Outputs: []string{"c"}},
			{Name: "fc", OpType: "Gemm", Inputs: []string{"c", "w", "bias"}, Outputs: []string{"y"}},
		},
	}
}

// expected evaluates the diamond plan directly.
func expected(x []float32) []float32 {
	rows := len(x) / 4
	out := make([]float32, rows*2)
	for r := 0; r < rows; r++ {
		for j := 0; j < 2; j++ {
			sum := float64(biasValues[j])
			for k := 0; k < 4; k++ {
				v := float64(x[r*4+k])
				c := math.Max(v, 0) + 1/(1+math.Exp(-v))
				sum += c * float64(wValues[k*2+j])
			}
			out[r*2+j] = float32(sum)
		}
	}
	return out
}

func newExecutor(t *testing.T, p *plan.Plan, reg *kernels.Registry, popts pool.Options) (*Executor, *pool.Pool) {
	t.Helper()
	g, err := graph.Compile(p, reg, 8)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	bp := pool.New(popts)
	return New(g, bp, Options{Workers: 2}), bp
}

func input(batch int) *tensor.Tensor {
	values := make([]float32, batch*4)
	for i := range values {
		values[i] = float32(i%7) - 3
	}
	return tensor.FromFloat32(tensor.Shape{int64(batch), 4}, values)
}

func TestRun(t *testing.T) {
	ex, bp := newExecutor(t, diamondPlan(), kernels.NewDefaultRegistry(), pool.Options{})

	x := input(3)
	out, err := ex.Run(context.Background(), map[string]*tensor.Tensor{"x": x})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out) != 1 || out[0].Name != "y" {
		t.Fatalf("outputs = %v", out.Names())
	}
	y := out[0].Tensor
	if !y.Shape.Equal(tensor.Shape{3, 2}) {
		t.Fatalf("y shape = %s, expected [3,2]", y.Shape)
	}
	want := expected(x.Float32s())
	for i, v := range y.Float32s() {
		if math.Abs(float64(v-want[i])) > 1e-4 {
			t.Fatalf("y[%d] = %v, expected %v", i, v, want[i])
		}
	}

	if st := bp.Stats(); st.InUse != 0 {
		t.Errorf("in use after run = %d, expected 0", st.InUse)
	}
	if st := bp.Stats(); st.Retained == 0 {
		t.Error("expected buffers to be retained for reuse")
	}
}

func TestRunOutputsAreDetachedFromPool(t *testing.T) {
	ex, _ := newExecutor(t, diamondPlan(), kernels.NewDefaultRegistry(), pool.Options{})

	first, err := ex.Run(context.Background(), map[string]*tensor.Tensor{"x": input(2)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	snapshot := first[0].Tensor.Clone()

	zeros := tensor.New(tensor.Float32, tensor.Shape{2, 4})
	if _, err := ex.Run(context.Background(), map[string]*tensor.Tensor{"x": zeros}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, v := range first[0].Tensor.Float32s() {
		if v != snapshot.Float32s()[i] {
			t.Fatal("a later call overwrote a returned output")
		}
	}
}

func TestRunCanceled(t *testing.T) {
	ex, bp := newExecutor(t, diamondPlan(), kernels.NewDefaultRegistry(), pool.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := ex.Run(ctx, map[string]*tensor.Tensor{"x": input(1)})
	if out != nil {
		t.Error("expected no outputs")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errdefs.CodeOf(err) != errdefs.CodeCanceled {
		t.Errorf("code = %s", errdefs.CodeOf(err))
	}
	if st := bp.Stats(); st.InUse != 0 {
		t.Errorf("in use after cancel = %d", st.InUse)
	}
}

type failing struct {
	kernels.Kernel
	panics bool
}

func (f failing) Run(ctx context.Context, attrs plan.Attrs, in, out []*tensor.Tensor) error {
	if f.panics {
		var nilSlice []float32
		_ = nilSlice[3]
	}
	return errors.New("device lost")
}

func TestKernelFailureAborts(t *testing.T) {
	for _, panics := range []bool{false, true} {
		reg := kernels.NewDefaultRegistry()
		relu, _ := reg.Lookup("Relu")
		reg.MustRegister("Broken", failing{Kernel: relu, panics: panics})

		p := diamondPlan()
		p.Nodes[1].OpType = "Broken"
		ex, bp := newExecutor(t, p, reg, pool.Options{})

		_, err := ex.Run(context.Background(), map[string]*tensor.Tensor{"x": input(2)})
		var kerr *errdefs.KernelError
		if !errors.As(err, &kerr) {
			t.Fatalf("expected KernelError, got %v", err)
		}
		if kerr.Op != "sigmoid" || kerr.OpType != "Broken" {
			t.Errorf("kernel error = %+v", kerr)
		}
		if !errors.Is(err, errdefs.ErrKernel) {
			t.Error("expected ErrKernel")
		}
		if st := bp.Stats(); st.InUse != 0 {
			t.Errorf("in use after failure = %d", st.InUse)
		}
	}
}

func TestRunPoolExhausted(t *testing.T) {
	ex, bp := newExecutor(t, diamondPlan(), kernels.NewDefaultRegistry(), pool.Options{MaxBytes: 64})

	_, err := ex.Run(context.Background(), map[string]*tensor.Tensor{"x": input(16)})
	if !errors.Is(err, errdefs.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	if st := bp.Stats(); st.InUse != 0 {
		t.Errorf("in use after failure = %d", st.InUse)
	}
	if _, err := ex.Run(context.Background(), map[string]*tensor.Tensor{"x": input(1)}); err != nil {
		t.Fatalf("small call after exhaustion failed: %v", err)
	}
}

func TestConcurrentRunsWithDifferentBatches(t *testing.T) {
	ex, bp := newExecutor(t, diamondPlan(), kernels.NewDefaultRegistry(), pool.Options{})

	var wg sync.WaitGroup
	for batch := 1; batch <= 8; batch++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				x := input(batch)
				out, err := ex.Run(context.Background(), map[string]*tensor.Tensor{"x": x})
				if err != nil {
					t.Errorf("Run failed: %v", err)
					return
				}
				y := out[0].Tensor
				if y.Shape[0] != int64(batch) {
					t.Errorf("batch %d produced %s", batch, y.Shape)
					return
				}
				want := expected(x.Float32s())
				for j, v := range y.Float32s() {
					if math.Abs(float64(v-want[j])) > 1e-4 {
						t.Errorf("batch %d: y[%d] = %v, expected %v", batch, j, v, want[j])
						return
					}
				}
			}
		}(batch)
	}
	wg.Wait()

	if st := bp.Stats(); st.InUse != 0 {
		t.Errorf("in use after concurrent runs = %d", st.InUse)
	}
}
