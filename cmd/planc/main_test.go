package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/plan"
)

const source = `
metadata:
  model: planc-test
inputs:
  - name: x
    dtype: float32
    shape: [-1, 3]
outputs:
  - name: y
    dtype: float32
    shape: [-1, 2]
weights:
  - name: w
    dtype: float32
    shape: [3, 2]
    init: random
    seed: 7
nodes:
  - name: mm
    op: MatMul
    inputs: [x, w]
    outputs: [h]
  - name: act
    op: Tanh
    inputs: [h]
    outputs: [y]
`

func TestRun(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(in, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := run(context.Background(), in, ""); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	p, err := plan.Load(filepath.Join(dir, "model.plan"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Metadata["model"] != "planc-test" || len(p.Nodes) != 2 {
		t.Errorf("unexpected plan: metadata=%v nodes=%d", p.Metadata, len(p.Nodes))
	}
}

func TestRunRejectsUnknownOp(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bad.yaml")
	bad := []byte(`
inputs: [{name: x, dtype: float32, shape: [1]}]
outputs: [{name: y, dtype: float32, shape: [1]}]
nodes: [{name: n, op: Conv, inputs: [x], outputs: [y]}]
`)
	if err := os.WriteFile(in, bad, 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "bad.plan")
	if err := run(context.Background(), in, out); !errors.Is(err, errdefs.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected no plan file, stat returned %v", err)
	}
}

func TestTrimExt(t *testing.T) {
	for in, want := range map[string]string{
		"model.yaml":      "model",
		"dir.v1/model":    "dir.v1/model",
		"a/b/model.x.yml": "a/b/model.x",
	} {
		if got := trimExt(in); got != want {
			t.Errorf("trimExt(%q) = %q, want %q", in, got, want)
		}
	}
}
