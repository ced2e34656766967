// internal/inference/interface.go
package inference

import (
	"context"

	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// InferenceEngine defines the interface for running inference on a loaded model.
// This abstraction allows for easy mocking in tests and swapping implementations.
type InferenceEngine interface {
	// Predict runs one call. Inputs are keyed by the declared input names;
	// outputs come back in declared order with the batch dimension of the
	// inputs. It is safe to call concurrently.
	Predict(ctx context.Context, inputs map[string]*tensor.Tensor) (tensor.List, error)

	// Metadata describes the loaded model.
	Metadata() Metadata

	// Close releases any resources held by the inference engine.
	Close() error
}

// Metadata describes the inputs and outputs a model expects.
type Metadata struct {
	Inputs   []plan.TensorSpec
	Outputs  []plan.TensorSpec
	Checksum uint64
	// Attributes holds free-form metadata recorded by the plan compiler.
	Attributes map[string]string
}
