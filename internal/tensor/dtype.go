// Package tensor holds the raw tensor values exchanged with the engine:
// an element type, a shape, and a flat little-endian byte payload.
package tensor

import (
	"fmt"
	"strings"
)

// DType is the element type of a tensor. Values are part of the plan file
// format and the C surface and must not be renumbered.
type DType uint8

const (
	Invalid DType = iota
	Float32
	Float64
	Float16
	Int32
	Int64
	Uint8
)

var dtypeNames = [...]string{
	Invalid: "invalid",
	Float32: "float32",
	Float64: "float64",
	Float16: "float16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
}

var dtypeSizes = [...]int{
	Invalid: 0,
	Float32: 4,
	Float64: 8,
	Float16: 2,
	Int32:   4,
	Int64:   8,
	Uint8:   1,
}

func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// Size is the width of one element in bytes, 0 for unknown types.
func (d DType) Size() int {
	if int(d) < len(dtypeSizes) {
		return dtypeSizes[d]
	}
	return 0
}

// Valid reports whether d is a known, non-invalid element type.
func (d DType) Valid() bool {
	return d != Invalid && int(d) < len(dtypeNames)
}

// ParseDType parses the lower-case dtype name used in plan descriptions.
func ParseDType(s string) (DType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range dtypeNames {
		if i != int(Invalid) && name == s {
			return DType(i), nil
		}
	}
	return Invalid, fmt.Errorf("unknown dtype %q", s)
}
