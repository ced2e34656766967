package kernels

import (
	"context"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// identity copies its input; any dtype.
type identity struct{}

func (identity) InferShape(_ plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs("Identity", inputs, 1, 1); err != nil {
		return nil, err
	}
	return []tensor.Desc{{DType: inputs[0].DType, Shape: inputs[0].Shape.Clone()}}, nil
}

func (identity) Run(_ context.Context, _ plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	copy(outputs[0].Data, inputs[0].Data)
	return nil
}

// unary applies fn to every float32 element.
type unary struct {
	name string
	fn   func(dst, src []float32)
}

func (u unary) InferShape(_ plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs(u.name, inputs, 1, 1); err != nil {
		return nil, err
	}
	if err := expectFloat32(u.name, inputs); err != nil {
		return nil, err
	}
	return []tensor.Desc{{DType: tensor.Float32, Shape: inputs[0].Shape.Clone()}}, nil
}

func (u unary) Run(_ context.Context, _ plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	u.fn(outputs[0].Float32s(), inputs[0].Float32s())
	return nil
}

func relu(dst, src []float32) {
	for i, x := range src {
		if x < 0 {
			x = 0
		}
		dst[i] = x
	}
}

func sigmoid(dst, src []float32) {
	for i, x := range src {
		dst[i] = 1 / (1 + math32.Exp(-x))
	}
}

func tanh(dst, src []float32) {
	for i, x := range src {
		// tanh(x) = 2*sigmoid(2x) - 1, stable for large |x|.
		dst[i] = 2/(1+math32.Exp(-2*x)) - 1
	}
}

// binary applies fn element-wise. The second operand broadcasts when its
// shape is a suffix of the first's, e.g. a bias [C] against [N,C].
type binary struct {
	name string
	fn   func(dst, a, b []float32)
}

func (k binary) InferShape(_ plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs(k.name, inputs, 2, 2); err != nil {
		return nil, err
	}
	if err := expectFloat32(k.name, inputs); err != nil {
		return nil, err
	}
	a, b := inputs[0].Shape, inputs[1].Shape
	if b.Rank() > a.Rank() {
		return nil, errors.Errorf("%s: second operand %s has higher rank than first %s", k.name, b, a)
	}
	out := a.Clone()
	off := a.Rank() - b.Rank()
	for i, d := range b {
		m, ok := mergeDim(a[off+i], d)
		if !ok {
			return nil, errors.Errorf("%s: cannot broadcast %s against %s", k.name, b, a)
		}
		out[off+i] = m
	}
	return []tensor.Desc{{DType: tensor.Float32, Shape: out}}, nil
}

func (k binary) Run(_ context.Context, _ plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	a, b := inputs[0].Float32s(), inputs[1].Float32s()
	dst := outputs[0].Float32s()
	if len(b) == 0 || len(a)%len(b) != 0 {
		return errors.Errorf("%s: operand sizes %d and %d do not broadcast", k.name, len(a), len(b))
	}
	for start := 0; start < len(a); start += len(b) {
		k.fn(dst[start:start+len(b)], a[start:start+len(b)], b)
	}
	return nil
}

func add(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] + b[i]
	}
}

func mul(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] * b[i]
	}
}
