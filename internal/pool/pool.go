// Package pool recycles the byte buffers that back intermediate and output
// tensors across predict calls.
//
// Each buffer belongs to a key (the tensor name it backs). Released buffers
// are retained on a per-key free list and handed back to later leases of the
// same key when their capacity suffices; a retained buffer that is too small
// is dropped and replaced, so retained sizes track the largest lease seen.
//
// The bytes leased at any instant are bounded by Options.MaxBytes. Accounting
// is by buffer capacity, which can exceed the requested size when a larger
// retained buffer is reused. Retained (free) bytes do not count against the
// ceiling.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/metrics"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

var errLimit = errors.New("pool ceiling reached")

// Options configures a Pool.
type Options struct {
	// MaxBytes bounds concurrently leased bytes. Zero means unbounded.
	MaxBytes int64
	// MaxWait is how long a lease may wait for capacity. Zero fails fast.
	MaxWait time.Duration
	// ZeroInit clears buffers on every lease.
	ZeroInit bool
}

// Stats is a snapshot of pool occupancy in bytes.
type Stats struct {
	InUse     int64
	Retained  int64
	HighWater int64
	Leases    int64
	Failures  int64
}

// Buffer is a leased, 64-byte aligned byte buffer.
type Buffer struct {
	key      string
	data     []byte
	size     int
	released bool
}

// Bytes returns the leased bytes, exactly the requested size.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// Cap is the accounted capacity of the buffer.
func (b *Buffer) Cap() int { return cap(b.data) }

// Key is the key the buffer was leased under.
func (b *Buffer) Key() string { return b.key }

// Pool is safe for concurrent use.
type Pool struct {
	opts Options
	sem  *semaphore.Weighted

	mu     sync.Mutex
	free   map[string][]*Buffer
	stats  Stats
	closed bool
}

// New returns an empty pool.
func New(opts Options) *Pool {
	p := &Pool{
		opts: opts,
		free: make(map[string][]*Buffer),
	}
	if opts.MaxBytes > 0 {
		p.sem = semaphore.NewWeighted(opts.MaxBytes)
	}
	return p
}

// Lease returns a buffer of size bytes for key. It fails with
// errdefs.ErrResourceExhausted when the ceiling cannot accommodate the lease
// within MaxWait, and returns the context error if ctx ends first.
func (p *Pool) Lease(ctx context.Context, key string, size int) (*Buffer, error) {
	const op = "pool.Lease"

	if size < 0 {
		return nil, errdefs.New(errdefs.ErrResourceExhausted, op, "negative lease size %d for %q", size, key)
	}
	if p.opts.MaxBytes > 0 && int64(size) > p.opts.MaxBytes {
		p.recordFailure()
		return nil, errdefs.ResourceExhausted(op, "lease of %d bytes for %q exceeds the pool ceiling of %d bytes", size, key, p.opts.MaxBytes)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errdefs.New(errdefs.ErrClosedEngine, op, "pool is closed")
	}
	buf := p.takeLocked(key, size)
	p.mu.Unlock()

	if buf == nil {
		buf = &Buffer{key: key, data: tensor.AlignedBytes(size)}
	}
	buf.size = size
	buf.released = false

	if err := p.acquire(ctx, int64(buf.Cap())); err != nil {
		p.putBack(buf)
		if ctx.Err() == nil {
			p.recordFailure()
			return nil, errdefs.Wrap(errdefs.ErrResourceExhausted, op, err,
				"lease of %d bytes for %q: %d of %d bytes in use", buf.Cap(), key, p.Stats().InUse, p.opts.MaxBytes)
		}
		return nil, ctx.Err()
	}

	if p.opts.ZeroInit {
		clear(buf.data)
	}

	p.mu.Lock()
	p.stats.InUse += int64(buf.Cap())
	p.stats.Leases++
	if p.stats.InUse > p.stats.HighWater {
		p.stats.HighWater = p.stats.InUse
	}
	p.publishLocked()
	p.mu.Unlock()
	return buf, nil
}

// takeLocked pops the smallest retained buffer for key with enough capacity.
// A retained buffer that is too small is dropped so the new allocation
// replaces it.
func (p *Pool) takeLocked(key string, size int) *Buffer {
	list := p.free[key]
	best := -1
	for i, b := range list {
		if b.Cap() >= size && (best < 0 || b.Cap() < list[best].Cap()) {
			best = i
		}
	}
	if best >= 0 {
		b := list[best]
		p.free[key] = append(list[:best], list[best+1:]...)
		p.stats.Retained -= int64(b.Cap())
		return b
	}
	if len(list) > 0 {
		stale := list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		p.stats.Retained -= int64(stale.Cap())
	}
	return nil
}

func (p *Pool) acquire(ctx context.Context, n int64) error {
	if p.sem == nil || n == 0 {
		return nil
	}
	if p.opts.MaxWait <= 0 {
		if !p.sem.TryAcquire(n) {
			return errLimit
		}
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, p.opts.MaxWait)
	defer cancel()
	return p.sem.Acquire(wctx, n)
}

// Release returns a buffer to the pool. Releasing a buffer twice is a no-op.
func (p *Pool) Release(b *Buffer) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	n := int64(b.Cap())
	p.stats.InUse -= n
	if p.sem != nil && n > 0 {
		p.sem.Release(n)
	}
	if !p.closed && n > 0 {
		p.free[b.key] = append(p.free[b.key], b)
		p.stats.Retained += n
	}
	p.publishLocked()
}

// putBack returns an unaccounted buffer to its free list after a failed
// acquisition.
func (p *Pool) putBack(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || b.Cap() == 0 {
		return
	}
	p.free[b.key] = append(p.free[b.key], b)
	p.stats.Retained += int64(b.Cap())
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close drops every retained buffer and refuses later leases. Buffers still
// leased stay valid; releasing them afterwards only updates accounting.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.free = make(map[string][]*Buffer)
	p.stats.Retained = 0
	p.publishLocked()
}

func (p *Pool) recordFailure() {
	p.mu.Lock()
	p.stats.Failures++
	p.mu.Unlock()
	metrics.RecordLeaseFailure()
}

func (p *Pool) publishLocked() {
	metrics.SetPoolBytes(p.stats.InUse, p.stats.Retained, p.stats.HighWater)
}
