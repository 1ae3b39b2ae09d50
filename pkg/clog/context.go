package clog

import (
	"context"
	"maps"
	"sync"
)

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

// attrBag is a mutable attribute set shared by everything that logs with the
// same request (or poll) context. Inner code adds attributes; the outermost
// logger emits them once.
type attrBag struct {
	mu    sync.RWMutex
	attrs map[string]any
}

type attrBagKey struct{}

func ContextWithSlog(ctx context.Context) context.Context {
	return context.WithValue(ctx, attrBagKey{}, &attrBag{attrs: map[string]any{}})
}

func bagFrom(ctx context.Context) *attrBag {
	b, _ := ctx.Value(attrBagKey{}).(*attrBag)
	return b
}

func AddAttribute(ctx context.Context, key string, value any) {
	AddAttributes(ctx, map[string]any{key: value})
}

// AddAttributes merges attributes into the bag. Nested maps are merged key by
// key. Without a bag in ctx this is a no-op.
func AddAttributes(ctx context.Context, attributes map[string]any) {
	b := bagFrom(ctx)
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	mergeMaps(b.attrs, attributes)
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		vMap, isMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if isMap && dstIsMap {
			mergeMaps(dstMap, vMap)
			continue
		}
		dst[k] = v
	}
}

func GetAttributes(ctx context.Context) map[string]any {
	b := bagFrom(ctx)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.attrs)
}

func GetAttribute[T any](ctx context.Context, key string) T {
	var zero T
	b := bagFrom(ctx)
	if b == nil {
		return zero
	}
	b.mu.RLock()
	v, ok := b.attrs[key].(T)
	b.mu.RUnlock()
	if !ok {
		return zero
	}
	return v
}

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func GetError(ctx context.Context) error {
	return GetAttribute[error](ctx, ErrorAttributeKey)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}
