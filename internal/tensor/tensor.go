package tensor

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

// Tensor is a dense value with a flat payload in native (little-endian) order.
type Tensor struct {
	DType DType
	Shape Shape
	Data  []byte
}

// New allocates a zeroed tensor. The shape must be static.
func New(dtype DType, shape Shape) *Tensor {
	size, ok := shape.ByteSize(dtype)
	if !ok {
		size = 0
	}
	return &Tensor{
		DType: dtype,
		Shape: shape.Clone(),
		Data:  make([]byte, size),
	}
}

// FromBytes wraps an existing payload without copying it.
func FromBytes(dtype DType, shape Shape, data []byte) *Tensor {
	return &Tensor{DType: dtype, Shape: shape.Clone(), Data: data}
}

// FromFloat32 copies values into a new float32 tensor.
func FromFloat32(shape Shape, values []float32) *Tensor {
	t := New(Float32, shape)
	copy(t.Float32s(), values)
	return t
}

// FromInt64 copies values into a new int64 tensor.
func FromInt64(shape Shape, values []int64) *Tensor {
	t := New(Int64, shape)
	copy(t.Int64s(), values)
	return t
}

// ByteSize is the payload size the shape and dtype require, or -1 when the
// shape is dynamic or too large to address.
func (t *Tensor) ByteSize() int {
	size, ok := t.Shape.ByteSize(t.DType)
	if !ok {
		return -1
	}
	return size
}

// Validate checks that the payload length agrees with dtype and shape.
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("tensor is nil")
	}
	if !t.DType.Valid() {
		return fmt.Errorf("invalid dtype %s", t.DType)
	}
	if !t.Shape.IsStatic() {
		return fmt.Errorf("shape %s is not concrete", t.Shape)
	}
	want := t.ByteSize()
	if want < 0 {
		return fmt.Errorf("shape %s of %s is too large", t.Shape, t.DType)
	}
	if len(t.Data) != want {
		return fmt.Errorf("payload has %d bytes, shape %s of %s needs %d", len(t.Data), t.Shape, t.DType, want)
	}
	return nil
}

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]byte, len(t.Data))
	copy(data, t.Data)
	return &Tensor{DType: t.DType, Shape: t.Shape.Clone(), Data: data}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%s", t.DType, t.Shape)
}

// The typed views below alias Data. They return nil when the dtype differs
// or the payload is empty.

func (t *Tensor) Float32s() []float32 {
	if t.DType != Float32 || len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

func (t *Tensor) Float64s() []float64 {
	if t.DType != Float64 || len(t.Data) < 8 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&t.Data[0])), len(t.Data)/8)
}

func (t *Tensor) Float16s() []float16.Float16 {
	if t.DType != Float16 || len(t.Data) < 2 {
		return nil
	}
	return unsafe.Slice((*float16.Float16)(unsafe.Pointer(&t.Data[0])), len(t.Data)/2)
}

func (t *Tensor) Int32s() []int32 {
	if t.DType != Int32 || len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

func (t *Tensor) Int64s() []int64 {
	if t.DType != Int64 || len(t.Data) < 8 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&t.Data[0])), len(t.Data)/8)
}

func (t *Tensor) Uint8s() []uint8 {
	if t.DType != Uint8 {
		return nil
	}
	return t.Data
}

// Named pairs a tensor with its plan-declared name.
type Named struct {
	Name   string
	Tensor *Tensor
}

// List is a name-keyed association that keeps declaration order.
type List []Named

// Get returns the tensor bound to name.
func (l List) Get(name string) (*Tensor, bool) {
	for _, n := range l {
		if n.Name == name {
			return n.Tensor, true
		}
	}
	return nil, false
}

// Names returns the names in order.
func (l List) Names() []string {
	names := make([]string, len(l))
	for i, n := range l {
		names[i] = n.Name
	}
	return names
}

// Map converts the list to a plain map.
func (l List) Map() map[string]*Tensor {
	m := make(map[string]*Tensor, len(l))
	for _, n := range l {
		m[n.Name] = n.Tensor
	}
	return m
}

// Desc describes a tensor without its payload.
type Desc struct {
	DType DType
	Shape Shape
}

func (d Desc) String() string {
	return fmt.Sprintf("%s%s", d.DType, d.Shape)
}

// Desc returns the descriptor of t.
func (t *Tensor) Desc() Desc {
	return Desc{DType: t.DType, Shape: t.Shape}
}
