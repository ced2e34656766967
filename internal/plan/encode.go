package plan

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

const (
	// Magic opens every plan file.
	Magic = "IGNP"
	// Version is the format version written by Encode and accepted by Decode.
	Version uint16 = 1
	// HeaderSize is the fixed size of the file header.
	HeaderSize = 64
)

// Section tags.
const (
	tagMeta    = "META"
	tagInputs  = "INPT"
	tagOutputs = "OUTP"
	tagWeights = "WGHT"
	tagNodes   = "NODE"
)

// sectionHeaderSize is tag(4) + length(8).
const sectionHeaderSize = 12

var le = binary.LittleEndian

// Encode serializes p into the plan file format and sets p.Checksum.
// The plan is validated first so that only loadable plans are written.
func Encode(w io.Writer, p *Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	body := encodeBody(p)
	p.Checksum = xxhash.Sum64(body)

	header := make([]byte, HeaderSize)
	copy(header[0:4], Magic)
	le.PutUint16(header[4:6], Version)
	le.PutUint16(header[6:8], 0) // flags
	le.PutUint64(header[8:16], uint64(len(body)))
	le.PutUint64(header[16:24], p.Checksum)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing plan header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing plan body: %w", err)
	}
	return nil
}

// WriteFile encodes p to path.
func WriteFile(path string, p *Plan) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating plan file: %w", err)
	}
	if err := Encode(f, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// encoder appends little-endian fields to a plan body.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) u32(v uint32) { e.buf = le.AppendUint32(e.buf, v) }

func (e *encoder) u64(v uint64) { e.buf = le.AppendUint64(e.buf, v) }

func (e *encoder) i64(v int64) { e.u64(uint64(v)) }

func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) strs(ss []string) {
	e.u32(uint32(len(ss)))
	for _, s := range ss {
		e.str(s)
	}
}

func (e *encoder) shape(s tensor.Shape) {
	e.u8(uint8(len(s)))
	for _, d := range s {
		e.i64(d)
	}
}

// padTo pads with zeros until the absolute file offset is aligned.
func (e *encoder) padTo(align int) {
	for (HeaderSize+len(e.buf))%align != 0 {
		e.buf = append(e.buf, 0)
	}
}

// section writes tag and a length placeholder, runs fill, then patches the length.
func (e *encoder) section(tag string, fill func()) {
	e.buf = append(e.buf, tag...)
	lenAt := len(e.buf)
	e.u64(0)
	start := len(e.buf)
	fill()
	le.PutUint64(e.buf[lenAt:], uint64(len(e.buf)-start))
}

func encodeBody(p *Plan) []byte {
	e := &encoder{}

	e.section(tagMeta, func() {
		keys := make([]string, 0, len(p.Metadata))
		for k := range p.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.u32(uint32(len(keys)))
		for _, k := range keys {
			e.str(k)
			e.str(p.Metadata[k])
		}
	})
	e.section(tagInputs, func() { encodeSpecs(e, p.Inputs) })
	e.section(tagOutputs, func() { encodeSpecs(e, p.Outputs) })
	e.section(tagWeights, func() {
		e.u32(uint32(len(p.Weights)))
		for i := range p.Weights {
			w := &p.Weights[i]
			e.str(w.Name)
			e.u8(uint8(w.DType))
			e.shape(w.Shape)
			e.u64(uint64(len(w.Data)))
			e.padTo(tensor.Alignment)
			e.buf = append(e.buf, w.Data...)
		}
	})
	e.section(tagNodes, func() {
		e.u32(uint32(len(p.Nodes)))
		for i := range p.Nodes {
			n := &p.Nodes[i]
			e.str(n.Name)
			e.str(n.OpType)
			e.strs(n.Inputs)
			e.strs(n.Outputs)
			encodeAttrs(e, n.Attrs)
		}
	})
	return e.buf
}

func encodeSpecs(e *encoder, specs []TensorSpec) {
	e.u32(uint32(len(specs)))
	for i := range specs {
		s := &specs[i]
		e.str(s.Name)
		e.u8(uint8(s.DType))
		e.shape(s.Shape)
		if s.MaxDims != nil {
			e.u8(1)
			for _, m := range s.MaxDims {
				e.i64(m)
			}
		} else {
			e.u8(0)
		}
	}
}

func encodeAttrs(e *encoder, attrs Attrs) {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	e.u32(uint32(len(names)))
	for _, name := range names {
		a := attrs[name]
		e.str(name)
		e.u8(uint8(a.Kind))
		switch a.Kind {
		case AttrInt:
			e.i64(a.Int)
		case AttrFloat:
			e.f64(a.Float)
		case AttrString:
			e.str(a.String)
		case AttrInts:
			e.u32(uint32(len(a.Ints)))
			for _, v := range a.Ints {
				e.i64(v)
			}
		case AttrFloats:
			e.u32(uint32(len(a.Floats)))
			for _, v := range a.Floats {
				e.f64(v)
			}
		}
	}
}
