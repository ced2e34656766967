package inference

import (
	"fmt"
	"strings"
	"time"

	"github.com/SyedDaiam9101/ignition/internal/kernels"
)

// CloseMode selects what Close does while calls are in flight.
type CloseMode int

const (
	// CloseWait blocks until in-flight calls finish.
	CloseWait CloseMode = iota
	// CloseRefuse fails with errdefs.ErrEngineBusy and leaves the engine open.
	CloseRefuse
)

func (m CloseMode) String() string {
	if m == CloseRefuse {
		return "refuse"
	}
	return "wait"
}

// ParseCloseMode parses "wait" or "refuse".
func ParseCloseMode(s string) (CloseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wait":
		return CloseWait, nil
	case "refuse":
		return CloseRefuse, nil
	}
	return CloseWait, fmt.Errorf("unknown close mode %q (want wait or refuse)", s)
}

// Options configures an Engine.
type Options struct {
	// MaxPoolBytes bounds the buffer bytes leased by concurrent calls.
	// Zero means unbounded.
	MaxPoolBytes int64
	// MaxWait is how long a call may wait for pool capacity before failing
	// with ErrResourceExhausted. Zero fails fast.
	MaxWait time.Duration
	// Workers bounds the nodes of one level that run in parallel within a
	// call. Zero means GOMAXPROCS.
	Workers int
	// ZeroInitBuffers clears pooled buffers on every lease.
	ZeroInitBuffers bool
	CloseMode       CloseMode
	// MaxBatch bounds the batch dimension of every input. Zero means the
	// plan's own bounds apply.
	MaxBatch int64
	// ShapeCacheSize bounds the resolved input signatures kept per engine.
	// Zero selects the default; a negative value disables the cache.
	ShapeCacheSize int
	// Registry supplies the kernels. Nil selects the built-in CPU kernels.
	Registry *kernels.Registry
}

// DefaultShapeCacheSize is used when Options.ShapeCacheSize is zero.
const DefaultShapeCacheSize = 64

// DefaultOptions returns the options Load uses when none are given.
func DefaultOptions() Options {
	return Options{ShapeCacheSize: DefaultShapeCacheSize}
}

func (o Options) shapeCacheSize() int {
	switch {
	case o.ShapeCacheSize == 0:
		return DefaultShapeCacheSize
	case o.ShapeCacheSize < 0:
		return 0
	}
	return o.ShapeCacheSize
}

func (o Options) registry() *kernels.Registry {
	if o.Registry != nil {
		return o.Registry
	}
	return kernels.NewDefaultRegistry()
}
