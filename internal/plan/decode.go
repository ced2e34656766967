package plan

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

const maxRank = 16

// Load reads and decodes the plan file at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errdefs.Wrap(errdefs.ErrNotFound, "plan.Load", err, "%q", path)
		}
		return nil, errdefs.Wrap(errdefs.ErrCorruptPlan, "plan.Load", err, "reading %q", path)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return p, nil
}

// Decode parses a plan from its file bytes. The header, version and checksum
// are verified before any section is parsed, and the result is validated.
// Weight payloads are copied into aligned memory owned by the plan.
func Decode(data []byte) (*Plan, error) {
	const op = "plan.Decode"

	if len(data) < HeaderSize {
		return nil, errdefs.CorruptPlan(op, "file is %d bytes, header needs %d", len(data), HeaderSize)
	}
	if string(data[0:4]) != Magic {
		return nil, errdefs.CorruptPlan(op, "bad magic %q", data[0:4])
	}
	version := le.Uint16(data[4:6])
	if version != Version {
		return nil, errdefs.VersionMismatch(op, "file version %d, supported %d", version, Version)
	}
	bodyLen := le.Uint64(data[8:16])
	checksum := le.Uint64(data[16:24])

	body := data[HeaderSize:]
	if uint64(len(body)) < bodyLen {
		return nil, errdefs.CorruptPlan(op, "truncated body: have %d bytes, header declares %d", len(body), bodyLen)
	}
	if uint64(len(body)) > bodyLen {
		return nil, errdefs.CorruptPlan(op, "%d trailing bytes after body", uint64(len(body))-bodyLen)
	}
	if sum := xxhash.Sum64(body); sum != checksum {
		return nil, errdefs.CorruptPlan(op, "checksum mismatch: header %016x, body %016x", checksum, sum)
	}

	p := &Plan{Version: version, Checksum: checksum, Metadata: map[string]string{}}
	d := &decoder{buf: body}
	seen := make(map[string]bool)
	for d.remaining() > 0 {
		if d.remaining() < sectionHeaderSize {
			return nil, errdefs.CorruptPlan(op, "truncated section header at offset %d", d.off)
		}
		tag := string(d.bytes(4))
		n := d.u64()
		if n > uint64(d.remaining()) {
			return nil, errdefs.CorruptPlan(op, "section %s declares %d bytes, %d remain", tag, n, d.remaining())
		}
		sec := &decoder{buf: d.buf[:d.off+int(n)], off: d.off}
		d.off += int(n)

		switch tag {
		case tagMeta, tagInputs, tagOutputs, tagWeights, tagNodes:
			if seen[tag] {
				return nil, errdefs.CorruptPlan(op, "duplicate section %s", tag)
			}
			seen[tag] = true
		}
		switch tag {
		case tagMeta:
			decodeMeta(sec, p)
		case tagInputs:
			p.Inputs = decodeSpecs(sec)
		case tagOutputs:
			p.Outputs = decodeSpecs(sec)
		case tagWeights:
			p.Weights = decodeWeights(sec)
		case tagNodes:
			p.Nodes = decodeNodes(sec)
		default:
			continue
		}
		if sec.err != nil {
			return nil, errdefs.Wrap(errdefs.ErrCorruptPlan, op, sec.err, "section %s", tag)
		}
		if sec.remaining() != 0 {
			return nil, errdefs.CorruptPlan(op, "section %s has %d unparsed bytes", tag, sec.remaining())
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

var errShort = errors.New("unexpected end of data")

// decoder reads little-endian fields. The first failure sticks in err and
// every later read returns zero values, so callers check err once.
// off is relative to the start of the body, which keeps weight alignment
// checks in file coordinates.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.remaining() {
		d.fail(errShort)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.bytes(4)
	if b == nil {
		return 0
	}
	return le.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.bytes(8)
	if b == nil {
		return 0
	}
	return le.Uint64(b)
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) f64() float64 { return math.Float64frombits(d.u64()) }

// count reads an element count and rejects values that cannot fit in the
// remaining bytes given a minimum encoded size per element.
func (d *decoder) count(minElem int) int {
	n := d.u32()
	if d.err == nil && uint64(n)*uint64(minElem) > uint64(d.remaining()) {
		d.fail(fmt.Errorf("count %d exceeds remaining %d bytes", n, d.remaining()))
		return 0
	}
	return int(n)
}

func (d *decoder) str() string {
	n := d.u32()
	return string(d.bytes(int(n)))
}

func (d *decoder) strs() []string {
	n := d.count(4)
	ss := make([]string, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		ss = append(ss, d.str())
	}
	return ss
}

func (d *decoder) shape() tensor.Shape {
	rank := int(d.u8())
	if rank > maxRank {
		d.fail(fmt.Errorf("rank %d exceeds %d", rank, maxRank))
		return nil
	}
	s := make(tensor.Shape, rank)
	for i := range s {
		s[i] = d.i64()
	}
	return s
}

func (d *decoder) padTo(align int) {
	for d.err == nil && (HeaderSize+d.off)%align != 0 {
		d.u8()
	}
}

func decodeMeta(d *decoder, p *Plan) {
	n := d.count(8)
	for i := 0; i < n && d.err == nil; i++ {
		k := d.str()
		p.Metadata[k] = d.str()
	}
}

func decodeSpecs(d *decoder) []TensorSpec {
	n := d.count(6)
	specs := make([]TensorSpec, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		s := TensorSpec{Name: d.str(), DType: tensor.DType(d.u8()), Shape: d.shape()}
		if d.u8() == 1 {
			s.MaxDims = make([]int64, len(s.Shape))
			for j := range s.MaxDims {
				s.MaxDims[j] = d.i64()
			}
		}
		specs = append(specs, s)
	}
	return specs
}

func decodeWeights(d *decoder) []Weight {
	n := d.count(14)
	weights := make([]Weight, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		w := Weight{Name: d.str(), DType: tensor.DType(d.u8()), Shape: d.shape()}
		size := d.u64()
		d.padTo(tensor.Alignment)
		if d.err == nil && size > uint64(d.remaining()) {
			d.fail(fmt.Errorf("weight %q declares %d bytes, %d remain", w.Name, size, d.remaining()))
		}
		raw := d.bytes(int(size))
		if d.err != nil {
			break
		}
		w.Data = tensor.AlignedBytes(len(raw))
		copy(w.Data, raw)
		weights = append(weights, w)
	}
	return weights
}

func decodeNodes(d *decoder) []Node {
	n := d.count(20)
	nodes := make([]Node, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		node := Node{
			Name:    d.str(),
			OpType:  d.str(),
			Inputs:  d.strs(),
			Outputs: d.strs(),
		}
		node.Attrs = decodeAttrs(d)
		nodes = append(nodes, node)
	}
	return nodes
}

func decodeAttrs(d *decoder) Attrs {
	n := d.count(5)
	if n == 0 {
		return nil
	}
	attrs := make(Attrs, n)
	for i := 0; i < n && d.err == nil; i++ {
		name := d.str()
		a := Attr{Kind: AttrKind(d.u8())}
		switch a.Kind {
		case AttrInt:
			a.Int = d.i64()
		case AttrFloat:
			a.Float = d.f64()
		case AttrString:
			a.String = d.str()
		case AttrInts:
			m := d.count(8)
			a.Ints = make([]int64, m)
			for j := range a.Ints {
				a.Ints[j] = d.i64()
			}
		case AttrFloats:
			m := d.count(8)
			a.Floats = make([]float64, m)
			for j := range a.Floats {
				a.Floats[j] = d.f64()
			}
		default:
			d.fail(fmt.Errorf("attribute %q has unknown kind %d", name, a.Kind))
		}
		attrs[name] = a
	}
	return attrs
}
