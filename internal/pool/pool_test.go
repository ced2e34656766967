package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

func TestLeaseRelease(t *testing.T) {
	p := New(Options{MaxBytes: 1 << 20})
	ctx := context.Background()

	b, err := p.Lease(ctx, "a", 100)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(b.Bytes()) != 100 {
		t.Errorf("len = %d, expected 100", len(b.Bytes()))
	}
	if !tensor.IsAligned(b.Bytes()) {
		t.Error("buffer not aligned")
	}
	if got := p.Stats().InUse; got != 100 {
		t.Errorf("in use = %d, expected 100", got)
	}

	p.Release(b)
	p.Release(b)
	st := p.Stats()
	if st.InUse != 0 || st.Retained != 100 {
		t.Errorf("after release: %+v", st)
	}

	// A smaller lease of the same key reuses the retained buffer and is
	// accounted at its capacity.
	again, err := p.Lease(ctx, "a", 40)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if &again.data[0] != &b.data[0] {
		t.Error("expected the retained buffer to be reused")
	}
	if got := p.Stats().InUse; got != 100 {
		t.Errorf("in use = %d, expected capacity 100", got)
	}
	p.Release(again)
}

func TestRetainedBufferIsReplacedWhenTooSmall(t *testing.T) {
	p := New(Options{})
	ctx := context.Background()

	small, _ := p.Lease(ctx, "k", 16)
	p.Release(small)
	big, err := p.Lease(ctx, "k", 256)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	p.Release(big)

	st := p.Stats()
	if st.Retained != 256 {
		t.Errorf("retained = %d, expected only the larger buffer", st.Retained)
	}
}

func TestLeaseTakesSmallestRetainedBuffer(t *testing.T) {
	p := New(Options{MaxBytes: 600})
	ctx := context.Background()

	big, err := p.Lease(ctx, "k", 512)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	small, err := p.Lease(ctx, "k", 64)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	p.Release(big)
	p.Release(small)

	b, err := p.Lease(ctx, "k", 32)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if b.Cap() != 64 {
		t.Errorf("cap = %d, expected the 64 byte buffer", b.Cap())
	}
	// The large buffer is still retained, so this fits under the ceiling.
	b2, err := p.Lease(ctx, "k", 500)
	if err != nil {
		t.Fatalf("second Lease failed: %v", err)
	}
	if got := p.Stats().InUse; got != 576 {
		t.Errorf("in use = %d, expected 576", got)
	}
	p.Release(b)
	p.Release(b2)
}

func TestZeroInit(t *testing.T) {
	p := New(Options{ZeroInit: true})
	ctx := context.Background()

	b, _ := p.Lease(ctx, "k", 8)
	for i := range b.Bytes() {
		b.Bytes()[i] = 0xff
	}
	p.Release(b)
	b, _ = p.Lease(ctx, "k", 8)
	for i, v := range b.Bytes() {
		if v != 0 {
			t.Fatalf("byte %d = %x, expected zero", i, v)
		}
	}
}

func TestCeilingFailsFast(t *testing.T) {
	p := New(Options{MaxBytes: 128})
	ctx := context.Background()

	if _, err := p.Lease(ctx, "huge", 129); !errors.Is(err, errdefs.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted for oversize lease, got %v", err)
	}

	a, err := p.Lease(ctx, "a", 100)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if _, err := p.Lease(ctx, "b", 64); !errors.Is(err, errdefs.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	p.Release(a)
	b, err := p.Lease(ctx, "b", 64)
	if err != nil {
		t.Fatalf("Lease after release failed: %v", err)
	}
	p.Release(b)

	if st := p.Stats(); st.Failures != 2 || st.HighWater > 128 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCeilingWaitsUpToMaxWait(t *testing.T) {
	p := New(Options{MaxBytes: 100, MaxWait: time.Second})
	ctx := context.Background()

	held, err := p.Lease(ctx, "a", 100)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	go func(b *Buffer) {
		time.Sleep(20 * time.Millisecond)
		p.Release(b)
	}(held)
	b, err := p.Lease(ctx, "b", 50)
	if err != nil {
		t.Fatalf("waiting lease failed: %v", err)
	}
	p.Release(b)

	short := New(Options{MaxBytes: 100, MaxWait: 10 * time.Millisecond})
	held, _ = short.Lease(ctx, "a", 100)
	defer short.Release(held)
	if _, err := short.Lease(ctx, "b", 50); !errors.Is(err, errdefs.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted after MaxWait, got %v", err)
	}
}

func TestLeaseHonoursCancellation(t *testing.T) {
	p := New(Options{MaxBytes: 10, MaxWait: time.Minute})
	held, _ := p.Lease(context.Background(), "a", 10)
	defer p.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Lease(ctx, "b", 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentLeasesStayUnderCeiling(t *testing.T) {
	const ceiling = 4096
	p := New(Options{MaxBytes: ceiling, MaxWait: time.Second})

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b, err := p.Lease(context.Background(), "shared", 256+g*16)
				if err != nil {
					t.Errorf("Lease failed: %v", err)
					return
				}
				p.Release(b)
			}
		}(g)
	}
	wg.Wait()

	st := p.Stats()
	if st.InUse != 0 {
		t.Errorf("in use = %d after all releases", st.InUse)
	}
	if st.HighWater > ceiling {
		t.Errorf("high water %d exceeds ceiling %d", st.HighWater, ceiling)
	}
}

func TestClose(t *testing.T) {
	p := New(Options{})
	ctx := context.Background()

	kept, _ := p.Lease(ctx, "a", 32)
	freed, _ := p.Lease(ctx, "b", 32)
	p.Release(freed)

	p.Close()
	if st := p.Stats(); st.Retained != 0 || st.InUse != 32 {
		t.Errorf("after close: %+v", st)
	}
	if _, err := p.Lease(ctx, "c", 8); !errors.Is(err, errdefs.ErrClosedEngine) {
		t.Fatalf("expected ErrClosedEngine, got %v", err)
	}
	p.Release(kept)
	if st := p.Stats(); st.InUse != 0 || st.Retained != 0 {
		t.Errorf("after late release: %+v", st)
	}
}
