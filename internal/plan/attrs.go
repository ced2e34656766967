package plan

import "fmt"

// AttrKind identifies the value held by an Attr.
type AttrKind uint8

const (
	AttrInt AttrKind = iota + 1
	AttrFloat
	AttrString
	AttrInts
	AttrFloats
)

// Attr is a typed operator attribute.
type Attr struct {
	Kind   AttrKind
	Int    int64
	Float  float64
	String string
	Ints   []int64
	Floats []float64
}

func IntAttr(v int64) Attr { return Attr{Kind: AttrInt, Int: v} }

func FloatAttr(v float64) Attr { return Attr{Kind: AttrFloat, Float: v} }

func StringAttr(v string) Attr { return Attr{Kind: AttrString, String: v} }

func IntsAttr(v ...int64) Attr { return Attr{Kind: AttrInts, Ints: v} }

func FloatsAttr(v ...float64) Attr { return Attr{Kind: AttrFloats, Floats: v} }

// Attrs maps attribute names to values.
type Attrs map[string]Attr

// Int returns the named integer attribute or def when absent.
func (a Attrs) Int(name string, def int64) (int64, error) {
	v, ok := a[name]
	if !ok {
		return def, nil
	}
	if v.Kind != AttrInt {
		return 0, fmt.Errorf("attribute %q is not an int", name)
	}
	return v.Int, nil
}

// Float returns the named float attribute or def when absent. Integer
// attributes are accepted.
func (a Attrs) Float(name string, def float64) (float64, error) {
	v, ok := a[name]
	if !ok {
		return def, nil
	}
	switch v.Kind {
	case AttrFloat:
		return v.Float, nil
	case AttrInt:
		return float64(v.Int), nil
	}
	return 0, fmt.Errorf("attribute %q is not a float", name)
}

// Str returns the named string attribute or def when absent.
func (a Attrs) Str(name string, def string) (string, error) {
	v, ok := a[name]
	if !ok {
		return def, nil
	}
	if v.Kind != AttrString {
		return "", fmt.Errorf("attribute %q is not a string", name)
	}
	return v.String, nil
}

// Ints returns the named integer list attribute or nil when absent.
func (a Attrs) Ints(name string) ([]int64, error) {
	v, ok := a[name]
	if !ok {
		return nil, nil
	}
	if v.Kind != AttrInts {
		return nil, fmt.Errorf("attribute %q is not an int list", name)
	}
	return v.Ints, nil
}
