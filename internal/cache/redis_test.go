package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

func inputs(values ...float32) map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"x": tensor.FromFloat32(tensor.Shape{1, int64(len(values))}, values),
		"y": tensor.FromInt64(tensor.Shape{1}, []int64{7}),
	}
}

func TestKey(t *testing.T) {
	c := newCache(nil, Options{})

	k1 := c.Key(1, inputs(1, 2, 3))
	if !strings.HasPrefix(k1, DefaultPrefix+":0000000000000001:") {
		t.Errorf("unexpected key %q", k1)
	}
	if k2 := c.Key(1, inputs(1, 2, 3)); k1 != k2 {
		t.Errorf("key is not deterministic: %q vs %q", k1, k2)
	}
	if k := c.Key(2, inputs(1, 2, 3)); k == k1 {
		t.Error("key ignores the plan checksum")
	}
	if k := c.Key(1, inputs(1, 2, 4)); k == k1 {
		t.Error("key ignores the payload")
	}

	// Same bytes, different shape.
	reshaped := inputs(1, 2, 3)
	reshaped["x"] = tensor.FromFloat32(tensor.Shape{3, 1}, []float32{1, 2, 3})
	if k := c.Key(1, reshaped); k == k1 {
		t.Error("key ignores the shape")
	}
}

func TestOptionsDefaults(t *testing.T) {
	c := newCache(nil, Options{})
	if c.ttl != DefaultTTL || c.prefix != DefaultPrefix {
		t.Errorf("defaults not applied: ttl=%v prefix=%q", c.ttl, c.prefix)
	}
	c = newCache(nil, Options{TTL: time.Second, Prefix: "p"})
	if c.ttl != time.Second || c.prefix != "p" {
		t.Errorf("options not applied: ttl=%v prefix=%q", c.ttl, c.prefix)
	}
}

func TestNilClient(t *testing.T) {
	c := newCache(nil, Options{})
	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Error("expected error from Get with nil client")
	}
	if err := c.Set(context.Background(), "k", []byte("v")); err == nil {
		t.Error("expected error from Set with nil client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close with nil client: %v", err)
	}
}

func TestNewUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Port 1 is never a Redis server.
	if _, err := New(ctx, Options{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected connection error")
	}
}
