package plan

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

const classifierYAML = `
metadata:
  producer: planc-test
inputs:
  - name: input
    dtype: float32
    shape: [-1, 3, 4, 4]
    max: [64, 0, 0, 0]
outputs:
  - name: output_layer_name
    dtype: float32
    shape: [-1, 10]
weights:
  - name: fc.w
    dtype: float32
    shape: [3, 10]
    init: random
    seed: 7
  - name: fc.b
    dtype: float32
    shape: [10]
    init: ones
nodes:
  - name: pool
    op: GlobalAveragePool
    inputs: [input]
    outputs: [pooled]
  - name: fc
    op: Gemm
    inputs: [pooled, fc.w, fc.b]
    outputs: [logits]
  - name: softmax
    op: Softmax
    inputs: [logits]
    outputs: [output_layer_name]
    attrs:
      axis: -1
`

func buildClassifier(t *testing.T) *Plan {
	t.Helper()
	src, err := ParseSource([]byte(classifierYAML))
	if err != nil {
		t.Fatalf("ParseSource failed: %v", err)
	}
	p, err := src.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return p
}

func encode(t *testing.T, p *Plan) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestEncodeDecode(t *testing.T) {
	p := buildClassifier(t)
	data := encode(t, p)

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Checksum != p.Checksum || got.Checksum == 0 {
		t.Errorf("checksum = %x, expected %x", got.Checksum, p.Checksum)
	}
	if got.Metadata["producer"] != "planc-test" {
		t.Errorf("metadata lost: %v", got.Metadata)
	}
	in, ok := got.Input("input")
	if !ok {
		t.Fatal("input spec missing")
	}
	if !in.Shape.Equal(tensor.Shape{-1, 3, 4, 4}) || in.MaxDims[0] != 64 {
		t.Errorf("input spec = %+v", in)
	}
	if len(got.Nodes) != 3 || got.Nodes[2].OpType != "Softmax" {
		t.Fatalf("nodes = %+v", got.Nodes)
	}
	if axis, _ := got.Nodes[2].Attrs.Int("axis", 0); axis != -1 {
		t.Errorf("axis attr = %d", axis)
	}

	w, ok := got.Weight("fc.w")
	if !ok {
		t.Fatal("weight missing")
	}
	if !tensor.IsAligned(w.Data) {
		t.Error("weight data not aligned")
	}
	orig, _ := p.Weight("fc.w")
	if !bytes.Equal(w.Data, orig.Data) {
		t.Error("weight payload changed")
	}
	if got.WeightBytes() != int64(30*4+10*4) {
		t.Errorf("WeightBytes = %d", got.WeightBytes())
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a := encode(t, buildClassifier(t))
	b := encode(t, buildClassifier(t))
	if !bytes.Equal(a, b) {
		t.Error("encoding the same source twice produced different bytes")
	}
}

func TestDecodeErrors(t *testing.T) {
	good := encode(t, buildClassifier(t))

	mutate := func(f func([]byte) []byte) []byte {
		c := make([]byte, len(good))
		copy(c, good)
		return f(c)
	}

	tests := []struct {
		name string
		data []byte
		kind error
	}{
		{"empty", nil, errdefs.ErrCorruptPlan},
		{"short header", good[:10], errdefs.ErrCorruptPlan},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b }), errdefs.ErrCorruptPlan},
		{"future version", mutate(func(b []byte) []byte { le.PutUint16(b[4:6], 9); return b }), errdefs.ErrVersion},
		{"truncated body", good[:len(good)-5], errdefs.ErrCorruptPlan},
		{"trailing bytes", append(append([]byte{}, good...), 0, 0), errdefs.ErrCorruptPlan},
		{"flipped payload bit", mutate(func(b []byte) []byte { b[len(b)-3] ^= 0x40; return b }), errdefs.ErrCorruptPlan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			if !errors.Is(err, errdefs.ErrLoad) {
				t.Errorf("expected load error, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsDuplicateSection(t *testing.T) {
	good := encode(t, buildClassifier(t))
	body := good[HeaderSize:]

	var inputs []byte
	for off := 0; off < len(body); {
		n := int(le.Uint64(body[off+4 : off+sectionHeaderSize]))
		end := off + sectionHeaderSize + n
		if string(body[off:off+4]) == tagInputs {
			inputs = append([]byte(nil), body[off:end]...)
		}
		off = end
	}
	if inputs == nil {
		t.Fatal("no inputs section found")
	}

	data := append(append([]byte{}, good...), inputs...)
	le.PutUint64(data[8:16], uint64(len(data)-HeaderSize))
	le.PutUint64(data[16:24], xxhash.Sum64(data[HeaderSize:]))
	if _, err := Decode(data); !errors.Is(err, errdefs.ErrCorruptPlan) {
		t.Fatalf("expected ErrCorruptPlan, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "bad_path.plan"))
	if p != nil {
		t.Error("expected no plan")
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteFileAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "good_path.plan")
	if err := WriteFile(path, buildClassifier(t)); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("plan file missing: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(p.Outputs) != 1 || p.Outputs[0].Name != "output_layer_name" {
		t.Errorf("outputs = %+v", p.Outputs)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Plan { return buildClassifier(t) }

	tests := []struct {
		name   string
		mutate func(p *Plan)
	}{
		{"empty graph", func(p *Plan) { p.Nodes = nil }},
		{"no inputs", func(p *Plan) { p.Inputs = nil }},
		{"no outputs", func(p *Plan) { p.Outputs = nil }},
		{"duplicate tensor name", func(p *Plan) { p.Nodes[1].Outputs = []string{"pooled"} }},
		{"weight shadows input", func(p *Plan) { p.Weights[0].Name = "input" }},
		{"forward reference", func(p *Plan) { p.Nodes[0].Inputs = []string{"logits"} }},
		{"unknown tensor", func(p *Plan) { p.Nodes[1].Inputs[0] = "nope" }},
		{"duplicate node name", func(p *Plan) { p.Nodes[2].Name = "fc" }},
		{"missing op type", func(p *Plan) { p.Nodes[0].OpType = "" }},
		{"output not produced", func(p *Plan) { p.Outputs[0].Name = "ghost" }},
		{"output names an input", func(p *Plan) {
			p.Outputs = append(p.Outputs, TensorSpec{Name: "input", DType: tensor.Float32, Shape: tensor.Shape{-1, 3, 4, 4}})
		}},
		{"output names a weight", func(p *Plan) { p.Outputs[0].Name = "fc.b" }},
		{"weight size overflows", func(p *Plan) { p.Weights[1].Shape = tensor.Shape{1 << 32, 1 << 32} }},
		{"spec size overflows", func(p *Plan) { p.Inputs[0].Shape = tensor.Shape{-1, 1 << 31, 1 << 31, 4} }},
		{"zero dimension", func(p *Plan) { p.Inputs[0].Shape[1] = 0 }},
		{"max dims rank", func(p *Plan) { p.Inputs[0].MaxDims = []int64{1} }},
		{"weight payload size", func(p *Plan) { p.Weights[1].Data = p.Weights[1].Data[:4] }},
		{"invalid dtype", func(p *Plan) { p.Outputs[0].DType = tensor.Invalid }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			err := p.Validate()
			if !errors.Is(err, errdefs.ErrSchema) {
				t.Fatalf("expected ErrSchema, got %v", err)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}
}

func TestSourceErrors(t *testing.T) {
	bad := []string{
		"inputs: [{name: x, dtype: complex, shape: [1]}]",
		"weights: [{name: w, dtype: float32, shape: [2], init: values, values: [1]}]",
		"weights: [{name: w, dtype: float32, shape: [-1], init: zeros}]",
		"weights: [{name: w, dtype: float32, shape: [1], init: gaussian}]",
		"nodes: [{name: n, op: Relu, inputs: [], outputs: [y], attrs: {k: {a: b}}}]",
	}
	for _, doc := range bad {
		src, err := ParseSource([]byte(doc))
		if err != nil {
			continue
		}
		if _, err := src.Build(); err == nil {
			t.Errorf("expected Build error for %q", doc)
		}
	}
}
