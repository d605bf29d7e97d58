package gqlrt

import (
	"context"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// callCache memoizes unary replies within a single GraphQL operation:
// identical (service, method, request bytes) calls collapse into one. It is
// request-scoped and never outlives the operation context.
type callCache struct {
	mu sync.Mutex
	m  map[cacheKey]protoreflect.Message
}

type cacheKey struct {
	service string
	method  string
	request string
}

type cacheCtxKey struct{}

// WithCallCache attaches a fresh per-operation call cache to ctx.
func WithCallCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheCtxKey{}, &callCache{m: map[cacheKey]protoreflect.Message{}})
}

func cacheFromContext(ctx context.Context) *callCache {
	c, _ := ctx.Value(cacheCtxKey{}).(*callCache)
	return c
}

func newCacheKey(service string, method protoreflect.MethodDescriptor, req protoreflect.Message) (cacheKey, bool) {
	raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(req.Interface())
	if err != nil {
		return cacheKey{}, false
	}
	return cacheKey{service: service, method: string(method.FullName()), request: string(raw)}, true
}

func (c *callCache) get(key cacheKey) (protoreflect.Message, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.m[key]
	return msg, ok
}

func (c *callCache) put(key cacheKey, msg protoreflect.Message) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.m[key] = msg
	c.mu.Unlock()
}
