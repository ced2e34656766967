package graph

import (
	"container/list"
	"strings"
	"sync"

	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

// Shapes maps every tensor of a call to its concrete descriptor. A Shapes
// value returned by Resolve is shared and must not be modified.
type Shapes map[string]tensor.Desc

// Resolve computes concrete descriptors for a call whose inputs have the
// given shapes. Inputs must already be validated against their specs; shape
// conflicts that only surface once dynamic dims are bound are reported as
// predict errors.
func (g *Graph) Resolve(inputs map[string]tensor.Shape) (Shapes, error) {
	const op = "graph.Resolve"

	key := g.signature(inputs)
	if shapes, ok := g.cache.get(key); ok {
		return shapes, nil
	}

	shapes := make(Shapes, len(g.descs))
	for _, spec := range g.plan.Inputs {
		shape, ok := inputs[spec.Name]
		if !ok {
			return nil, errdefs.Predict(op, "missing input %q", spec.Name)
		}
		shapes[spec.Name] = tensor.Desc{DType: spec.DType, Shape: shape.Clone()}
	}
	for _, w := range g.plan.Weights {
		shapes[w.Name] = g.descs[w.Name]
	}

	for _, step := range g.steps {
		outs, err := inferStep(step, shapes)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.ErrPredict, op, err, "node %q (%s)", step.Node.Name, step.Node.OpType)
		}
		for i, name := range step.Node.Outputs {
			if !outs[i].Shape.IsStatic() {
				return nil, errdefs.Predict(op, "node %q: shape of %q is unresolved: %s", step.Node.Name, name, outs[i].Shape)
			}
			shapes[name] = outs[i]
		}
	}

	for _, spec := range g.plan.Outputs {
		if got := shapes[spec.Name]; !spec.Shape.Compatible(got.Shape) {
			return nil, errdefs.Predict(op, "output %q resolves to %s, declared %s", spec.Name, got.Shape, spec.Shape)
		}
	}

	g.cache.put(key, shapes)
	return shapes, nil
}

// signature renders input shapes in declaration order, e.g. "[8,3,224,224]".
func (g *Graph) signature(inputs map[string]tensor.Shape) string {
	var b strings.Builder
	for i, spec := range g.plan.Inputs {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(inputs[spec.Name].String())
	}
	return b.String()
}

// shapeCache is a small LRU of resolved shapes keyed by input signature.
type shapeCache struct {
	mu      sync.Mutex
	size    int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key    string
	shapes Shapes
}

func newShapeCache(size int) *shapeCache {
	return &shapeCache{
		size:    size,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *shapeCache) get(key string) (Shapes, bool) {
	if c.size <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).shapes, true
}

func (c *shapeCache) put(key string, shapes Shapes) {
	if c.size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).shapes = shapes
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, shapes: shapes})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *shapeCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
