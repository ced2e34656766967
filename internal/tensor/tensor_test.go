package tensor

import (
	"testing"

	"github.com/x448/float16"
)

func TestShape(t *testing.T) {
	s := Shape{DynamicDim, 3, 224, 224}
	if s.IsStatic() {
		t.Error("expected dynamic shape")
	}
	if s.NumElements() != -1 {
		t.Errorf("NumElements = %d, expected -1", s.NumElements())
	}
	if got := s.String(); got != "[?,3,224,224]" {
		t.Errorf("String = %q", got)
	}
	if !s.Compatible(Shape{4, 3, 224, 224}) {
		t.Error("expected concrete shape to fit")
	}
	if s.Compatible(Shape{4, 1, 224, 224}) {
		t.Error("static dim mismatch must not fit")
	}
	if s.Compatible(Shape{4, 3, 224}) {
		t.Error("rank mismatch must not fit")
	}
	if (Shape{}).NumElements() != 1 {
		t.Error("scalar must have one element")
	}
}

func TestShapeOverflow(t *testing.T) {
	huge := Shape{1 << 32, 1 << 32}
	if n := huge.NumElements(); n != -1 {
		t.Errorf("NumElements = %d, expected -1 on overflow", n)
	}
	if _, ok := huge.ByteSize(Float32); ok {
		t.Error("ByteSize must fail on overflow")
	}
	if _, ok := (Shape{1 << 61}).ByteSize(Float64); ok {
		t.Error("ByteSize must fail when the dtype width overflows")
	}
	if size, ok := (Shape{2, 3}).ByteSize(Float64); !ok || size != 48 {
		t.Errorf("ByteSize = %d, %v", size, ok)
	}
	if _, ok := (Shape{DynamicDim, 1 << 62, 4}).StaticElements(); ok {
		t.Error("StaticElements must fail on overflow")
	}

	x := FromBytes(Float32, huge, nil)
	if x.ByteSize() != -1 {
		t.Errorf("tensor ByteSize = %d", x.ByteSize())
	}
	if err := x.Validate(); err == nil {
		t.Error("expected an oversized tensor to fail validation")
	}
}

func TestParseDType(t *testing.T) {
	for _, d := range []DType{Float32, Float64, Float16, Int32, Int64, Uint8} {
		got, err := ParseDType(d.String())
		if err != nil || got != d {
			t.Errorf("ParseDType(%q) = %v, %v", d.String(), got, err)
		}
	}
	if _, err := ParseDType("complex128"); err == nil {
		t.Error("expected error for unknown dtype")
	}
	if _, err := ParseDType("invalid"); err == nil {
		t.Error("expected error for the invalid sentinel")
	}
}

func TestTensorViews(t *testing.T) {
	x := FromFloat32(Shape{2, 2}, []float32{1, 2, 3, 4})
	if err := x.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if x.Int32s() != nil {
		t.Error("int32 view of float32 tensor must be nil")
	}
	v := x.Float32s()
	v[3] = 9
	if x.Clone().Float32s()[3] != 9 {
		t.Error("view must alias the payload")
	}

	h := New(Float16, Shape{3})
	h.Float16s()[1] = float16.Fromfloat32(1.5)
	if got := h.Float16s()[1].Float32(); got != 1.5 {
		t.Errorf("float16 roundtrip = %v", got)
	}

	bad := FromBytes(Float32, Shape{3}, make([]byte, 8))
	if err := bad.Validate(); err == nil {
		t.Error("expected payload length error")
	}
}

func TestList(t *testing.T) {
	l := List{
		{Name: "b", Tensor: New(Float32, Shape{1})},
		{Name: "a", Tensor: New(Int64, Shape{2})},
	}
	if names := l.Names(); names[0] != "b" || names[1] != "a" {
		t.Errorf("order not preserved: %v", names)
	}
	if x, ok := l.Get("a"); !ok || x.DType != Int64 {
		t.Error("Get(a) failed")
	}
	if _, ok := l.Get("c"); ok {
		t.Error("Get(c) should miss")
	}
	if len(l.Map()) != 2 {
		t.Error("Map lost entries")
	}
}
