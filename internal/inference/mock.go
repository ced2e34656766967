// internal/inference/mock.go
package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// MockEngine is a mock implementation of InferenceEngine for testing.
// It returns a uniform distribution over Classes for every batch row without
// loading a plan.
type MockEngine struct {
	mu sync.Mutex
	// Input is the declared input; its batch dimension is dynamic
	Input plan.TensorSpec
	// OutputName is the name of the single output
	OutputName string
	// Classes is the width of the output
	Classes int64
	// ShouldError if true, Predict will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of times Predict was called
	CallCount int
	closed    bool
}

// NewMock creates a MockEngine taking [batch,3,224,224] images and returning
// output_layer_name [batch,1000] filled with 1/1000.
func NewMock() *MockEngine {
	return &MockEngine{
		Input: plan.TensorSpec{
			Name:  "input",
			DType: tensor.Float32,
			Shape: tensor.Shape{tensor.DynamicDim, 3, 224, 224},
		},
		OutputName: "output_layer_name",
		Classes:    1000,
	}
}

// Predict validates inputs like the real engine and returns the uniform output.
func (m *MockEngine) Predict(ctx context.Context, inputs map[string]*tensor.Tensor) (tensor.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount++

	if m.closed {
		return nil, errdefs.New(errdefs.ErrClosedEngine, "mock.Predict", "engine was closed")
	}
	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", m.ErrorMessage)
		}
		return nil, fmt.Errorf("mock inference error")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := validateInputs([]plan.TensorSpec{m.Input}, inputs, 0)
	if err != nil {
		return nil, err
	}

	out := tensor.New(tensor.Float32, tensor.Shape{batch, m.Classes})
	values := out.Float32s()
	p := 1 / float32(m.Classes)
	for i := range values {
		values[i] = p
	}
	return tensor.List{{Name: m.OutputName, Tensor: out}}, nil
}

// Metadata describes the mock's single input and output.
func (m *MockEngine) Metadata() Metadata {
	return Metadata{
		Inputs: []plan.TensorSpec{m.Input},
		Outputs: []plan.TensorSpec{{
			Name:  m.OutputName,
			DType: tensor.Float32,
			Shape: tensor.Shape{tensor.DynamicDim, m.Classes},
		}},
		Attributes: map[string]string{"engine": "mock"},
	}
}

// Close marks the mock closed; later Predict calls fail with ErrClosedEngine
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetError configures the mock to return an error on the next Predict call
func (m *MockEngine) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockEngine) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Calls returns the number of Predict calls so far
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Ensure MockEngine implements InferenceEngine at compile time
var _ InferenceEngine = (*MockEngine)(nil)
