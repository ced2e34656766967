package kernels

import (
	"context"

	"github.com/chewxy/math32"

	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// softmax normalizes along one axis (default last).
type softmax struct{}

func (softmax) InferShape(attrs plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs("Softmax", inputs, 1, 1); err != nil {
		return nil, err
	}
	if err := expectFloat32("Softmax", inputs); err != nil {
		return nil, err
	}
	axis, err := attrs.Int("axis", -1)
	if err != nil {
		return nil, err
	}
	if _, err := normAxis(axis, inputs[0].Shape.Rank()); err != nil {
		return nil, err
	}
	return []tensor.Desc{{DType: tensor.Float32, Shape: inputs[0].Shape.Clone()}}, nil
}

func (softmax) Run(_ context.Context, attrs plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	shape := inputs[0].Shape
	a, err := attrs.Int("axis", -1)
	if err != nil {
		return err
	}
	axis, err := normAxis(a, shape.Rank())
	if err != nil {
		return err
	}

	outer, inner := 1, 1
	for _, d := range shape[:axis] {
		outer *= int(d)
	}
	for _, d := range shape[axis+1:] {
		inner *= int(d)
	}
	dim := int(shape[axis])

	src, dst := inputs[0].Float32s(), outputs[0].Float32s()
	for o := 0; o < outer; o++ {
		base := o * dim * inner
		for i := 0; i < inner; i++ {
			hi := math32.Inf(-1)
			for d := 0; d < dim; d++ {
				hi = math32.Max(hi, src[base+d*inner+i])
			}
			var sum float32
			for d := 0; d < dim; d++ {
				e := math32.Exp(src[base+d*inner+i] - hi)
				dst[base+d*inner+i] = e
				sum += e
			}
			for d := 0; d < dim; d++ {
				dst[base+d*inner+i] /= sum
			}
		}
	}
	return nil
}
