// Package kernels provides the operator kernels the executor dispatches and
// the registry that maps plan op types to them.
//
// A kernel is stateless and safe for concurrent use: every call receives its
// own input and output tensors. Shape inference runs twice per plan: once at
// load time with dynamic dimensions (tensor.DynamicDim) still unresolved, and
// again per call with concrete shapes. Kernels must propagate DynamicDim
// rather than guess, and only fail on mismatches between known dimensions.
//
// Built-in kernels compute on the CPU in float32 except Identity, Reshape,
// Flatten and Cast, which are dtype-agnostic.
package kernels

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// Kernel implements one operator type.
type Kernel interface {
	// InferShape returns the output descriptors for the given inputs.
	InferShape(attrs plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error)
	// Run computes outputs from inputs. Output tensors are pre-sized to the
	// inferred shapes and their payloads are not initialized.
	Run(ctx context.Context, attrs plan.Attrs, inputs, outputs []*tensor.Tensor) error
}

// Registry maps op type names to kernels. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]Kernel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kernels: make(map[string]Kernel)}
}

// NewDefaultRegistry returns a registry holding the built-in CPU kernels.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for opType, k := range builtins() {
		r.MustRegister(opType, k)
	}
	return r
}

// Register adds a kernel. Registering an op type twice is an error.
func (r *Registry) Register(opType string, k Kernel) error {
	if opType == "" || k == nil {
		return errors.New("kernel registration needs an op type and a kernel")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kernels[opType]; ok {
		return errors.Errorf("kernel for op type %q already registered", opType)
	}
	r.kernels[opType] = k
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(opType string, k Kernel) {
	if err := r.Register(opType, k); err != nil {
		panic(err)
	}
}

// Lookup returns the kernel for an op type.
func (r *Registry) Lookup(opType string) (Kernel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kernels[opType]
	return k, ok
}

// OpTypes lists the registered op types in sorted order.
func (r *Registry) OpTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.kernels))
	for op := range r.kernels {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func builtins() map[string]Kernel {
	return map[string]Kernel{
		"Identity":          identity{},
		"Relu":              unary{name: "Relu", fn: relu},
		"Sigmoid":           unary{name: "Sigmoid", fn: sigmoid},
		"Tanh":              unary{name: "Tanh", fn: tanh},
		"Add":               binary{name: "Add", fn: add},
		"Mul":               binary{name: "Mul", fn: mul},
		"MatMul":            matMul{},
		"Gemm":              gemm{},
		"Softmax":           softmax{},
		"Flatten":           flatten{},
		"Reshape":           reshape{},
		"GlobalAveragePool": globalAveragePool{},
		"Cast":              cast{},
	}
}

// Helpers shared by the kernels.

func expectInputs(op string, inputs []tensor.Desc, lo, hi int) error {
	if len(inputs) < lo || len(inputs) > hi {
		if lo == hi {
			return errors.Errorf("%s expects %d inputs, got %d", op, lo, len(inputs))
		}
		return errors.Errorf("%s expects %d to %d inputs, got %d", op, lo, hi, len(inputs))
	}
	return nil
}

func expectFloat32(op string, inputs []tensor.Desc) error {
	for i, in := range inputs {
		if in.DType != tensor.Float32 {
			return errors.Errorf("%s input %d has dtype %s, only float32 is supported", op, i, in.DType)
		}
	}
	return nil
}

// mergeDim unifies two dimensions that must agree. A dynamic side yields
// the other side.
func mergeDim(a, b int64) (int64, bool) {
	switch {
	case a < 0:
		return b, true
	case b < 0:
		return a, true
	case a == b:
		return a, true
	}
	return 0, false
}

// normAxis maps a possibly negative axis into [0, rank).
func normAxis(axis int64, rank int) (int, error) {
	if axis < 0 {
		axis += int64(rank)
	}
	if axis < 0 || axis >= int64(rank) {
		return 0, errors.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return int(axis), nil
}
