package kernels

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// cast converts element types. The target dtype is the "to" attribute.
type cast struct{}

func (cast) InferShape(attrs plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs("Cast", inputs, 1, 1); err != nil {
		return nil, err
	}
	to, err := castTarget(attrs)
	if err != nil {
		return nil, err
	}
	return []tensor.Desc{{DType: to, Shape: inputs[0].Shape.Clone()}}, nil
}

func (cast) Run(_ context.Context, attrs plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	src, dst := inputs[0], outputs[0]
	if src.DType == dst.DType {
		copy(dst.Data, src.Data)
		return nil
	}
	// float32 and float16 convert directly to keep half-precision rounding
	// exact.
	switch {
	case src.DType == tensor.Float32 && dst.DType == tensor.Float16:
		out := dst.Float16s()
		for i, v := range src.Float32s() {
			out[i] = float16.Fromfloat32(v)
		}
		return nil
	case src.DType == tensor.Float16 && dst.DType == tensor.Float32:
		out := dst.Float32s()
		for i, v := range src.Float16s() {
			out[i] = v.Float32()
		}
		return nil
	}
	// Integer pairs skip float64, which is exact only up to 2^53.
	if isInteger(src.DType) && isInteger(dst.DType) {
		return fromInt64(dst, toInt64(src))
	}
	values, err := toFloat64(src)
	if err != nil {
		return err
	}
	return fromFloat64(dst, values)
}

func castTarget(attrs plan.Attrs) (tensor.DType, error) {
	name, err := attrs.Str("to", "")
	if err != nil {
		return tensor.Invalid, err
	}
	if name == "" {
		return tensor.Invalid, errors.New("Cast: missing to attribute")
	}
	to, err := tensor.ParseDType(name)
	if err != nil {
		return tensor.Invalid, errors.Wrap(err, "Cast")
	}
	return to, nil
}

func toFloat64(t *tensor.Tensor) ([]float64, error) {
	out := make([]float64, max(t.Shape.NumElements(), 0))
	switch t.DType {
	case tensor.Float32:
		for i, v := range t.Float32s() {
			out[i] = float64(v)
		}
	case tensor.Float64:
		copy(out, t.Float64s())
	case tensor.Float16:
		for i, v := range t.Float16s() {
			out[i] = float64(v.Float32())
		}
	case tensor.Int32:
		for i, v := range t.Int32s() {
			out[i] = float64(v)
		}
	case tensor.Int64:
		for i, v := range t.Int64s() {
			out[i] = float64(v)
		}
	case tensor.Uint8:
		for i, v := range t.Uint8s() {
			out[i] = float64(v)
		}
	default:
		return nil, errors.Errorf("Cast: unsupported source dtype %s", t.DType)
	}
	return out, nil
}

func fromFloat64(t *tensor.Tensor, values []float64) error {
	switch t.DType {
	case tensor.Float32:
		out := t.Float32s()
		for i, v := range values {
			out[i] = float32(v)
		}
	case tensor.Float64:
		copy(t.Float64s(), values)
	case tensor.Float16:
		out := t.Float16s()
		for i, v := range values {
			out[i] = float16.Fromfloat32(float32(v))
		}
	case tensor.Int32:
		out := t.Int32s()
		for i, v := range values {
			out[i] = int32(saturate(v, math.MinInt32, math.MaxInt32))
		}
	case tensor.Int64:
		out := t.Int64s()
		for i, v := range values {
			out[i] = saturate(v, math.MinInt64, math.MaxInt64)
		}
	case tensor.Uint8:
		out := t.Uint8s()
		for i, v := range values {
			out[i] = uint8(saturate(v, 0, math.MaxUint8))
		}
	default:
		return errors.Errorf("Cast: unsupported target dtype %s", t.DType)
	}
	return nil
}

// saturate truncates v toward zero and clamps it to [lo, hi]. NaN maps to 0.
func saturate(v float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= float64(lo):
		return lo
	// float64(MaxInt64) rounds up to 2^63, so compare with >=.
	case v >= float64(hi):
		return hi
	}
	return int64(v)
}

func isInteger(d tensor.DType) bool {
	return d == tensor.Int32 || d == tensor.Int64 || d == tensor.Uint8
}

func toInt64(t *tensor.Tensor) []int64 {
	out := make([]int64, len(t.Data)/t.DType.Size())
	switch t.DType {
	case tensor.Int32:
		for i, v := range t.Int32s() {
			out[i] = int64(v)
		}
	case tensor.Int64:
		copy(out, t.Int64s())
	case tensor.Uint8:
		for i, v := range t.Uint8s() {
			out[i] = int64(v)
		}
	}
	return out
}

func clampInt(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}

func fromInt64(t *tensor.Tensor, values []int64) error {
	switch t.DType {
	case tensor.Int32:
		out := t.Int32s()
		for i, v := range values {
			out[i] = int32(clampInt(v, math.MinInt32, math.MaxInt32))
		}
	case tensor.Int64:
		copy(t.Int64s(), values)
	case tensor.Uint8:
		out := t.Uint8s()
		for i, v := range values {
			out[i] = uint8(clampInt(v, 0, math.MaxUint8))
		}
	default:
		return errors.Errorf("Cast: unsupported target dtype %s", t.DType)
	}
	return nil
}
