// Package capi backs the C function surface of cmd/libignition. It keeps
// engines behind integer handles, since C callers cannot hold Go pointers,
// and reduces every error to a stable integer Code plus a message.
package capi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/inference"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// errInvalidArgument marks misuse of the C surface itself, such as an unknown
// handle or a malformed tensor descriptor.
var errInvalidArgument = errors.New("invalid argument")

// InvalidArgument builds an error reported to C as CodeInvalidArgument.
func InvalidArgument(op, format string, args ...interface{}) error {
	return errdefs.New(errInvalidArgument, op, format, args...)
}

// Code is the integer status returned by every C entry point; 0 is success.
type Code = errdefs.Code

// Handle names a loaded engine. Zero is never a valid handle.
type Handle uint64

// Config is the C-visible subset of inference.Options.
type Config struct {
	MaxPoolBytes int64
	MaxWaitMs    int64
	Workers      int32
	ZeroInit     bool
	// CloseMode is 0 for wait and 1 for refuse.
	CloseMode int32
	MaxBatch  int64
}

func (c Config) options() (inference.Options, error) {
	opts := inference.DefaultOptions()
	if c.MaxPoolBytes < 0 || c.MaxWaitMs < 0 || c.Workers < 0 || c.MaxBatch < 0 {
		return opts, InvalidArgument("ignition_load", "negative config value")
	}
	switch c.CloseMode {
	case 0:
		opts.CloseMode = inference.CloseWait
	case 1:
		opts.CloseMode = inference.CloseRefuse
	default:
		return opts, InvalidArgument("ignition_load", "unknown close mode %d", c.CloseMode)
	}
	opts.MaxPoolBytes = c.MaxPoolBytes
	opts.MaxWait = time.Duration(c.MaxWaitMs) * time.Millisecond
	opts.Workers = int(c.Workers)
	opts.ZeroInitBuffers = c.ZeroInit
	opts.MaxBatch = c.MaxBatch
	return opts, nil
}

// Table maps handles to engines and remembers the last error message.
type Table struct {
	mu      sync.Mutex
	next    Handle
	engines map[Handle]inference.InferenceEngine
	lastErr string
}

func NewTable() *Table {
	return &Table{engines: make(map[Handle]inference.InferenceEngine)}
}

// Load loads the plan at path and returns its handle.
func (t *Table) Load(ctx context.Context, path string, cfg Config) (Handle, Code) {
	opts, err := cfg.options()
	if err != nil {
		return 0, t.Fail(err)
	}
	e, err := inference.Load(ctx, path, opts)
	if err != nil {
		return 0, t.Fail(err)
	}
	return t.Add(e), errdefs.CodeOK
}

// Add registers an engine and returns its handle.
func (t *Table) Add(e inference.InferenceEngine) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.engines[t.next] = e
	return t.next
}

// Predict runs one call on the engine behind h.
func (t *Table) Predict(ctx context.Context, h Handle, inputs map[string]*tensor.Tensor) (tensor.List, Code) {
	e, err := t.lookup(h)
	if err != nil {
		return nil, t.Fail(err)
	}
	out, err := e.Predict(ctx, inputs)
	if err != nil {
		return nil, t.Fail(err)
	}
	return out, errdefs.CodeOK
}

// Close closes the engine behind h. The handle stays valid when the engine
// refuses to close, so the caller can retry.
func (t *Table) Close(h Handle) Code {
	e, err := t.lookup(h)
	if err != nil {
		return t.Fail(err)
	}
	if err := e.Close(); err != nil {
		return t.Fail(err)
	}
	t.mu.Lock()
	delete(t.engines, h)
	t.mu.Unlock()
	return errdefs.CodeOK
}

// LastError returns the message of the most recent failure on any handle.
func (t *Table) LastError() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Len reports the number of open handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.engines)
}

func (t *Table) lookup(h Handle) (inference.InferenceEngine, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.engines[h]
	if !ok {
		return nil, InvalidArgument("capi", "unknown handle %d", h)
	}
	return e, nil
}

// Fail records err as the last error and returns its code. Entry points use
// it for failures detected before a table call.
func (t *Table) Fail(err error) Code {
	t.mu.Lock()
	t.lastErr = err.Error()
	t.mu.Unlock()
	return CodeOf(err)
}

// CodeOf classifies err for C callers.
func CodeOf(err error) Code {
	if errors.Is(err, errInvalidArgument) {
		return errdefs.CodeInvalidArgument
	}
	return errdefs.CodeOf(err)
}

// NewInput builds an input tensor from a C descriptor. The payload is copied
// by the caller; dtype uses the tensor.DType numbering.
func NewInput(name string, dtype int32, shape []int64, data []byte) (*tensor.Tensor, error) {
	const op = "ignition_predict"
	if name == "" {
		return nil, InvalidArgument(op, "input has no name")
	}
	dt := tensor.DType(dtype)
	if dtype < 0 || dtype > 255 || !dt.Valid() {
		return nil, InvalidArgument(op, "input %q has unknown dtype %d", name, dtype)
	}
	for _, d := range shape {
		if d < 0 {
			return nil, InvalidArgument(op, "input %q has negative dimension in shape %v", name, shape)
		}
	}
	return tensor.FromBytes(dt, tensor.Shape(shape), data), nil
}
