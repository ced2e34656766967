package kernels

import (
	"context"

	"github.com/pkg/errors"

	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// flatten collapses dims [0,axis) and [axis,rank) into a 2-D tensor.
type flatten struct{}

func (flatten) InferShape(attrs plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs("Flatten", inputs, 1, 1); err != nil {
		return nil, err
	}
	axis, err := attrs.Int("axis", 1)
	if err != nil {
		return nil, err
	}
	in := inputs[0].Shape
	if axis < 0 {
		axis += int64(in.Rank())
	}
	if axis < 0 || axis > int64(in.Rank()) {
		return nil, errors.Errorf("Flatten: axis %d out of range for rank %d", axis, in.Rank())
	}
	out := tensor.Shape{product(in[:axis]), product(in[axis:])}
	return []tensor.Desc{{DType: inputs[0].DType, Shape: out}}, nil
}

func (flatten) Run(_ context.Context, _ plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	copy(outputs[0].Data, inputs[0].Data)
	return nil
}

// reshape takes its target from the "shape" attribute. A 0 entry copies the
// input dimension at the same index; one -1 entry is inferred.
type reshape struct{}

func (reshape) InferShape(attrs plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs("Reshape", inputs, 1, 1); err != nil {
		return nil, err
	}
	target, err := attrs.Ints("shape")
	if err != nil {
		return nil, err
	}
	if len(target) == 0 {
		return nil, errors.New("Reshape: missing shape attribute")
	}
	in := inputs[0].Shape
	out := make(tensor.Shape, len(target))
	infer := -1
	known := int64(1)
	dynamic := false
	for i, d := range target {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, errors.New("Reshape: more than one inferred dimension")
			}
			infer = i
			continue
		case d == 0:
			if i >= in.Rank() {
				return nil, errors.Errorf("Reshape: cannot copy dimension %d of %s", i, in)
			}
			d = in[i]
		case d < 0:
			return nil, errors.Errorf("Reshape: invalid dimension %d", d)
		}
		out[i] = d
		if d < 0 {
			dynamic = true
		} else {
			known *= d
		}
	}

	total := in.NumElements()
	switch {
	case infer >= 0 && (total < 0 || dynamic):
		out[infer] = tensor.DynamicDim
	case infer >= 0:
		if known == 0 || total%known != 0 {
			return nil, errors.Errorf("Reshape: cannot reshape %s into %v", in, target)
		}
		out[infer] = total / known
	case total >= 0 && !dynamic && total != known:
		return nil, errors.Errorf("Reshape: cannot reshape %s into %v", in, target)
	}
	return []tensor.Desc{{DType: inputs[0].DType, Shape: out}}, nil
}

func (reshape) Run(_ context.Context, _ plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	if len(outputs[0].Data) != len(inputs[0].Data) {
		return errors.Errorf("Reshape: %s and %s differ in size", inputs[0].Shape, outputs[0].Shape)
	}
	copy(outputs[0].Data, inputs[0].Data)
	return nil
}

// globalAveragePool averages every spatial position: [N,C,...] to [N,C].
type globalAveragePool struct{}

func (globalAveragePool) InferShape(_ plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs("GlobalAveragePool", inputs, 1, 1); err != nil {
		return nil, err
	}
	if err := expectFloat32("GlobalAveragePool", inputs); err != nil {
		return nil, err
	}
	in := inputs[0].Shape
	if in.Rank() < 3 {
		return nil, errors.Errorf("GlobalAveragePool: input must have rank >= 3, got %s", in)
	}
	return []tensor.Desc{{DType: tensor.Float32, Shape: tensor.Shape{in[0], in[1]}}}, nil
}

func (globalAveragePool) Run(_ context.Context, _ plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	in := inputs[0].Shape
	spatial := int(product(in[2:]))
	src, dst := inputs[0].Float32s(), outputs[0].Float32s()
	for i := range dst {
		var sum float32
		for _, v := range src[i*spatial : (i+1)*spatial] {
			sum += v
		}
		dst[i] = sum / float32(spatial)
	}
	return nil
}

// product multiplies dims, returning DynamicDim if any is dynamic.
func product(dims tensor.Shape) int64 {
	n := dims.NumElements()
	if n < 0 {
		return tensor.DynamicDim
	}
	return n
}
