package tensor

import (
	"math"
	"strconv"
	"strings"
)

// DynamicDim marks a dimension whose size is bound at call time.
const DynamicDim int64 = -1

// Shape lists the size of each dimension. A DynamicDim entry is unresolved.
type Shape []int64

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// IsStatic reports whether every dimension is known.
func (s Shape) IsStatic() bool {
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

// NumElements returns the element count, or -1 if any dimension is dynamic
// or the count does not fit in an int64. A scalar (rank 0) has one element.
func (s Shape) NumElements() int64 {
	n := int64(1)
	for _, d := range s {
		if d < 0 {
			return -1
		}
		if d != 0 && n > math.MaxInt64/d {
			return -1
		}
		n *= d
	}
	return n
}

// StaticElements multiplies the known dimensions, skipping dynamic ones. ok
// is false when the product overflows.
func (s Shape) StaticElements() (n int64, ok bool) {
	n = 1
	for _, d := range s {
		if d < 0 {
			continue
		}
		if d != 0 && n > math.MaxInt64/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// ByteSize returns the payload size of s for elements of dtype d. ok is false
// when s is dynamic or the size does not fit in an int.
func (s Shape) ByteSize(d DType) (size int, ok bool) {
	n := s.NumElements()
	if n < 0 {
		return 0, false
	}
	width := int64(d.Size())
	if width > 0 && n > int64(math.MaxInt)/width {
		return 0, false
	}
	return int(n * width), true
}

// Equal compares two shapes dimension by dimension.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Compatible reports whether a concrete shape c fits s, treating dynamic
// dimensions of s as wildcards.
func (s Shape) Compatible(c Shape) bool {
	if len(s) != len(c) {
		return false
	}
	for i := range s {
		if s[i] >= 0 && c[i] >= 0 && s[i] != c[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not alias s.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	c := make(Shape, len(s))
	copy(c, s)
	return c
}

func (s Shape) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, d := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		if d < 0 {
			b.WriteByte('?')
		} else {
			b.WriteString(strconv.FormatInt(d, 10))
		}
	}
	b.WriteByte(']')
	return b.String()
}
