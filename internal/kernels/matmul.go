package kernels

import (
	"context"

	"github.com/pkg/errors"
	gt "gorgonia.org/tensor"

	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// matMul multiplies [N,K] by [K,M].
type matMul struct{}

func (matMul) InferShape(_ plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs("MatMul", inputs, 2, 2); err != nil {
		return nil, err
	}
	if err := expectFloat32("MatMul", inputs); err != nil {
		return nil, err
	}
	n, m, err := matmulDims("MatMul", inputs[0].Shape, inputs[1].Shape, false)
	if err != nil {
		return nil, err
	}
	return []tensor.Desc{{DType: tensor.Float32, Shape: tensor.Shape{n, m}}}, nil
}

func (matMul) Run(_ context.Context, _ plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	x, w := inputs[0], inputs[1]
	n, k, m := int(x.Shape[0]), int(x.Shape[1]), int(w.Shape[1])
	return denseMatMul(outputs[0].Float32s(), x.Float32s(), w.Float32s(), n, k, m)
}

// gemm computes alpha * x·W + beta * b. With transB set, W is stored [M,K].
type gemm struct{}

func (gemm) InferShape(attrs plan.Attrs, inputs []tensor.Desc) ([]tensor.Desc, error) {
	if err := expectInputs("Gemm", inputs, 2, 3); err != nil {
		return nil, err
	}
	if err := expectFloat32("Gemm", inputs); err != nil {
		return nil, err
	}
	transB, err := attrs.Int("transB", 0)
	if err != nil {
		return nil, err
	}
	n, m, err := matmulDims("Gemm", inputs[0].Shape, inputs[1].Shape, transB != 0)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 3 {
		b := inputs[2].Shape
		if b.Rank() != 1 {
			return nil, errors.Errorf("Gemm: bias must be rank 1, got %s", b)
		}
		if m, err = mergeOrFail("Gemm bias", m, b[0]); err != nil {
			return nil, err
		}
	}
	return []tensor.Desc{{DType: tensor.Float32, Shape: tensor.Shape{n, m}}}, nil
}

func (gemm) Run(_ context.Context, attrs plan.Attrs, inputs, outputs []*tensor.Tensor) error {
	transB, err := attrs.Int("transB", 0)
	if err != nil {
		return err
	}
	alpha, err := attrs.Float("alpha", 1)
	if err != nil {
		return err
	}
	beta, err := attrs.Float("beta", 1)
	if err != nil {
		return err
	}

	x, w := inputs[0], inputs[1]
	n, k := int(x.Shape[0]), int(x.Shape[1])
	dst := outputs[0].Float32s()
	if transB != 0 {
		m := int(w.Shape[0])
		transposedMatMul(dst, x.Float32s(), w.Float32s(), n, k, m)
	} else {
		m := int(w.Shape[1])
		if err := denseMatMul(dst, x.Float32s(), w.Float32s(), n, k, m); err != nil {
			return err
		}
	}

	if alpha != 1 {
		a := float32(alpha)
		for i := range dst {
			dst[i] *= a
		}
	}
	if len(inputs) == 3 {
		bias := inputs[2].Float32s()
		bt := float32(beta)
		for row := 0; row < len(dst); row += len(bias) {
			for j, b := range bias {
				dst[row+j] += bt * b
			}
		}
	}
	return nil
}

// matmulDims returns N and M for x·W, checking the shared K dimension.
func matmulDims(op string, x, w tensor.Shape, transB bool) (int64, int64, error) {
	if x.Rank() != 2 || w.Rank() != 2 {
		return 0, 0, errors.Errorf("%s: operands must be rank 2, got %s and %s", op, x, w)
	}
	wk, m := w[0], w[1]
	if transB {
		wk, m = w[1], w[0]
	}
	if _, err := mergeOrFail(op, x[1], wk); err != nil {
		return 0, 0, err
	}
	return x[0], m, nil
}

func mergeOrFail(op string, a, b int64) (int64, error) {
	d, ok := mergeDim(a, b)
	if !ok {
		return 0, errors.Errorf("%s: inner dimensions %d and %d differ", op, a, b)
	}
	return d, nil
}

// denseMatMul writes x[n,k]·w[k,m] into dst using the gorgonia dense engine.
// The operands are wrapped without copying.
func denseMatMul(dst, x, w []float32, n, k, m int) error {
	a := gt.New(gt.WithShape(n, k), gt.WithBacking(x))
	b := gt.New(gt.WithShape(k, m), gt.WithBacking(w))
	c, err := gt.MatMul(a, b)
	if err != nil {
		return errors.Wrapf(err, "matmul [%d,%d]x[%d,%d]", n, k, k, m)
	}
	switch v := c.Data().(type) {
	case []float32:
		copy(dst, v)
	case float32:
		dst[0] = v
	default:
		return errors.Errorf("matmul produced %T", v)
	}
	return nil
}

// transposedMatMul writes x[n,k]·wᵀ into dst where w is stored [m,k]. Rows of
// both operands are contiguous, so each output is a plain dot product.
func transposedMatMul(dst, x, w []float32, n, k, m int) {
	for i := 0; i < n; i++ {
		xr := x[i*k : (i+1)*k]
		for j := 0; j < m; j++ {
			wr := w[j*k : (j+1)*k]
			var sum float32
			for p, v := range xr {
				sum += v * wr[p]
			}
			dst[i*m+j] = sum
		}
	}
}
