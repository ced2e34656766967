package inference

import (
	"sort"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// validateInputs checks a call's inputs against the declared specs and
// returns the batch size (dim 0, shared by every input of rank >= 1). Checks
// run in a fixed order: presence and unknown names, dtype, shape, payload
// size, then batch consistency. Nothing is coerced.
func validateInputs(specs []plan.TensorSpec, inputs map[string]*tensor.Tensor, maxBatch int64) (int64, error) {
	const op = "inference.Predict"

	for _, spec := range specs {
		if t, ok := inputs[spec.Name]; !ok || t == nil {
			return 0, errdefs.Predict(op, "missing input %q", spec.Name)
		}
	}
	if len(inputs) != len(specs) {
		declared := make(map[string]bool, len(specs))
		for _, spec := range specs {
			declared[spec.Name] = true
		}
		var unknown []string
		for name := range inputs {
			if !declared[name] {
				unknown = append(unknown, name)
			}
		}
		sort.Strings(unknown)
		return 0, errdefs.Predict(op, "unknown inputs %q", unknown)
	}

	for _, spec := range specs {
		if t := inputs[spec.Name]; t.DType != spec.DType {
			return 0, errdefs.Predict(op, "input %q has dtype %s, expected %s", spec.Name, t.DType, spec.DType)
		}
	}

	for i := range specs {
		if err := checkShape(&specs[i], inputs[specs[i].Name].Shape, maxBatch); err != nil {
			return 0, err
		}
	}

	for _, spec := range specs {
		t := inputs[spec.Name]
		want := t.ByteSize()
		if want < 0 {
			return 0, errdefs.Predict(op, "input %q has shape %s: %s payload size overflows", spec.Name, t.Shape, t.DType)
		}
		if len(t.Data) != want {
			return 0, errdefs.Predict(op, "input %q has %d payload bytes, shape %s of %s needs %d", spec.Name, len(t.Data), t.Shape, t.DType, want)
		}
	}

	batch := int64(-1)
	var batchFrom string
	for _, spec := range specs {
		shape := inputs[spec.Name].Shape
		if shape.Rank() == 0 {
			continue
		}
		if batch < 0 {
			batch, batchFrom = shape[0], spec.Name
			continue
		}
		if shape[0] != batch {
			return 0, errdefs.Predict(op, "inconsistent batch size: input %q has %d, input %q has %d", batchFrom, batch, spec.Name, shape[0])
		}
	}
	if batch < 0 {
		batch = 1
	}
	return batch, nil
}

func checkShape(spec *plan.TensorSpec, got tensor.Shape, maxBatch int64) error {
	const op = "inference.Predict"

	if got.Rank() != spec.Shape.Rank() {
		return errdefs.Predict(op, "input %q has shape %s, expected rank %d %s", spec.Name, got, spec.Shape.Rank(), spec.Shape)
	}
	for i, want := range spec.Shape {
		d := got[i]
		if want >= 0 {
			if d != want {
				return errdefs.Predict(op, "input %q has shape %s, expected %s (dimension %d is %d, expected %d)", spec.Name, got, spec.Shape, i, d, want)
			}
			continue
		}
		if d < 1 {
			return errdefs.Predict(op, "input %q has shape %s: dynamic dimension %d must be positive", spec.Name, got, i)
		}
		if len(spec.MaxDims) > i && spec.MaxDims[i] > 0 && d > spec.MaxDims[i] {
			return errdefs.Predict(op, "input %q has shape %s: dimension %d is %d, bound is %d", spec.Name, got, i, d, spec.MaxDims[i])
		}
		if i == 0 && maxBatch > 0 && d > maxBatch {
			return errdefs.Predict(op, "input %q has batch %d, engine allows at most %d", spec.Name, d, maxBatch)
		}
	}
	return nil
}
