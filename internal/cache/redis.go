// Package cache provides a Redis-backed cache of encoded prediction results.
// Entries are keyed by the plan checksum and a hash of the call's inputs, so
// a new plan never reads results computed by an old one.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/SyedDaiam9101/ignition/internal/metrics"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

const (
	DefaultPrefix = "ignition:predict"
	DefaultTTL    = 5 * time.Minute
)

// Options configures the Redis connection and entry lifetime.
type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL is the lifetime of each entry; zero uses DefaultTTL.
	TTL time.Duration
	// Prefix namespaces the keys; empty uses DefaultPrefix.
	Prefix string
}

// Cache wraps a Redis client for prediction result storage
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// New creates a new Cache connected to opts.Addr and checks the connection.
// If Addr is empty, defaults to localhost:6379
func New(ctx context.Context, opts Options) (*Cache, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return newCache(client, opts), nil
}

func newCache(client *redis.Client, opts Options) *Cache {
	c := &Cache{client: client, ttl: opts.TTL, prefix: opts.Prefix}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.prefix == "" {
		c.prefix = DefaultPrefix
	}
	return c
}

// Key derives the cache key of a call from the plan checksum and its inputs.
// Inputs are hashed in name order with their dtype, shape and payload.
func (c *Cache) Key(checksum uint64, inputs map[string]*tensor.Tensor) string {
	return fmt.Sprintf("%s:%016x:%016x", c.prefix, checksum, HashInputs(inputs))
}

// HashInputs returns the xxhash64 of the inputs in name order.
func HashInputs(inputs map[string]*tensor.Tensor) uint64 {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	d := xxhash.New()
	var scratch [8]byte
	for _, name := range names {
		t := inputs[name]
		d.WriteString(name)
		d.Write([]byte{0, byte(t.DType)})
		binary.LittleEndian.PutUint64(scratch[:], uint64(t.Shape.Rank()))
		d.Write(scratch[:])
		for _, dim := range t.Shape {
			binary.LittleEndian.PutUint64(scratch[:], uint64(dim))
			d.Write(scratch[:])
		}
		d.Write(t.Data)
	}
	return d.Sum64()
}

// Get returns the value stored under key. A miss is not an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.client == nil {
		return nil, false, fmt.Errorf("cache client is nil")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheLookup("miss")
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordCacheLookup("error")
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	metrics.RecordCacheLookup("hit")
	return data, true, nil
}

// Set stores value under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if c.client == nil {
		return fmt.Errorf("cache client is nil")
	}

	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
