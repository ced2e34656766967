// internal/inference/onnx.go
package inference

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// ONNXOptions describes the model an ONNXEngine serves. ONNX models carry
// their own graph, so only the float32 input and output specs are needed.
// Output shapes must be static apart from a dynamic batch dimension.
type ONNXOptions struct {
	// SharedLibraryPath points at libonnxruntime; empty uses the default lookup.
	SharedLibraryPath string
	Inputs            []plan.TensorSpec
	Outputs           []plan.TensorSpec
	MaxBatch          int64
}

// ONNXEngine wraps an ONNX runtime session for thread-safe inference.
// It implements the InferenceEngine interface.
type ONNXEngine struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	opts    ONNXOptions
}

// NewONNX creates an ONNXEngine by loading the ONNX model from modelPath
func NewONNX(modelPath string, opts ONNXOptions) (*ONNXEngine, error) {
	if len(opts.Inputs) == 0 || len(opts.Outputs) == 0 {
		return nil, errdefs.Schema("inference.NewONNX", "model needs at least one input and one output spec")
	}
	for _, spec := range append(append([]plan.TensorSpec{}, opts.Inputs...), opts.Outputs...) {
		if spec.DType != tensor.Float32 {
			return nil, errdefs.Schema("inference.NewONNX", "tensor %q has dtype %s, only float32 is supported", spec.Name, spec.DType)
		}
	}
	for _, spec := range opts.Outputs {
		if spec.Shape.Rank() == 0 || !spec.Shape[1:].IsStatic() {
			return nil, errdefs.Schema("inference.NewONNX", "output %q shape %s must be static past the batch dimension", spec.Name, spec.Shape)
		}
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	// Initialize the ONNX runtime environment
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	// Create a dynamic session that supports variable batch sizes
	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		specNames(opts.Inputs),
		specNames(opts.Outputs),
		nil, // Use default session options
	)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrCorruptPlan, "inference.NewONNX", err, "failed to create ONNX session for %s", modelPath)
	}

	return &ONNXEngine{session: session, opts: opts}, nil
}

// Predict validates inputs against the configured specs and runs the session.
func (inf *ONNXEngine) Predict(ctx context.Context, inputs map[string]*tensor.Tensor) (tensor.List, error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session == nil {
		return nil, errdefs.New(errdefs.ErrClosedEngine, "onnx.Predict", "inference session is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, err := validateInputs(inf.opts.Inputs, inputs, inf.opts.MaxBatch)
	if err != nil {
		return nil, err
	}

	ortInputs := make([]ort.ArbitraryTensor, 0, len(inf.opts.Inputs))
	defer func() { destroyAll(ortInputs) }()
	for _, spec := range inf.opts.Inputs {
		in := inputs[spec.Name]
		t, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Float32s())
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor %q: %w", spec.Name, err)
		}
		ortInputs = append(ortInputs, t)
	}

	outputs := make(tensor.List, 0, len(inf.opts.Outputs))
	ortOutputs := make([]ort.ArbitraryTensor, 0, len(inf.opts.Outputs))
	defer func() { destroyAll(ortOutputs) }()
	for _, spec := range inf.opts.Outputs {
		shape := spec.Shape.Clone()
		if shape[0] < 0 {
			shape[0] = batch
		}
		out := tensor.New(tensor.Float32, shape)
		// The runtime writes straight into the returned tensor's payload.
		t, err := ort.NewTensor(ort.NewShape(shape...), out.Float32s())
		if err != nil {
			return nil, fmt.Errorf("failed to create output tensor %q: %w", spec.Name, err)
		}
		ortOutputs = append(ortOutputs, t)
		outputs = append(outputs, tensor.Named{Name: spec.Name, Tensor: out})
	}

	// Run inference
	if err := inf.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, &errdefs.KernelError{Op: "session", OpType: "onnxruntime", Cause: err}
	}
	return outputs, nil
}

// Metadata describes the configured inputs and outputs.
func (inf *ONNXEngine) Metadata() Metadata {
	return Metadata{
		Inputs:     cloneSpecs(inf.opts.Inputs),
		Outputs:    cloneSpecs(inf.opts.Outputs),
		Attributes: map[string]string{"engine": "onnxruntime"},
	}
}

// Close releases the ONNX session resources
func (inf *ONNXEngine) Close() error {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session == nil {
		return nil
	}
	err := inf.session.Destroy()
	inf.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return ort.DestroyEnvironment()
}

func specNames(specs []plan.TensorSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

func destroyAll(values []ort.ArbitraryTensor) {
	for _, v := range values {
		v.Destroy()
	}
}

// Ensure ONNXEngine implements InferenceEngine at compile time
var _ InferenceEngine = (*ONNXEngine)(nil)
