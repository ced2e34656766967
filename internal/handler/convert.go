package handler

import (
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
	pb "github.com/SyedDaiam9101/ignition/proto/inferencepb"
)

// fromProto converts request tensors. Only wire-level problems are reported
// here; shape and payload checks are left to the engine.
func fromProto(in []*pb.Tensor) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, len(in))
	for i, t := range in {
		if t == nil {
			return nil, invalidArgumentError("input %d is nil", i)
		}
		if t.Name == "" {
			return nil, invalidArgumentError("input %d has no name", i)
		}
		if _, dup := out[t.Name]; dup {
			return nil, invalidArgumentError("input %q given more than once", t.Name)
		}
		dtype, err := tensor.ParseDType(t.DType)
		if err != nil {
			return nil, invalidArgumentError("input %q: %v", t.Name, err)
		}
		for _, d := range t.Shape {
			if d < 0 {
				return nil, invalidArgumentError("input %q has negative dimension in shape %v", t.Name, t.Shape)
			}
		}
		out[t.Name] = tensor.FromBytes(dtype, tensor.Shape(t.Shape), t.Data)
	}
	return out, nil
}

func toProto(list tensor.List) []*pb.Tensor {
	out := make([]*pb.Tensor, len(list))
	for i, n := range list {
		out[i] = &pb.Tensor{
			Name:  n.Name,
			DType: n.Tensor.DType.String(),
			Shape: []int64(n.Tensor.Shape.Clone()),
			Data:  n.Tensor.Data,
		}
	}
	return out
}

func specsToProto(specs []plan.TensorSpec) []*pb.TensorSpec {
	out := make([]*pb.TensorSpec, len(specs))
	for i, s := range specs {
		out[i] = &pb.TensorSpec{
			Name:    s.Name,
			DType:   s.DType.String(),
			Shape:   []int64(s.Shape.Clone()),
			MaxDims: s.MaxDims,
		}
	}
	return out
}
