// Package gateway assembles the bridge: descriptor pool, annotation-driven
// schema synthesis, client pool, resolver runtime, and the HTTP/WebSocket
// handlers. Everything is built once; the result is immutable for the
// process lifetime except the client pool's channels.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/protogate/protogate/internal/bridge"
	"github.com/protogate/protogate/internal/descpool"
	"github.com/protogate/protogate/internal/executor"
	"github.com/protogate/protogate/internal/gqlrt"
	"github.com/protogate/protogate/internal/grpcpool"
	"github.com/protogate/protogate/internal/introspection"
	"github.com/protogate/protogate/internal/schema"
	"github.com/protogate/protogate/internal/server"
)

// Middleware wraps the GraphQL handlers; middlewares apply in the order
// they were added, outermost first.
type Middleware func(http.Handler) http.Handler

// EntityMapping directs real federation entity resolution for one type.
type EntityMapping struct {
	// TypeName is the GraphQL entity type name.
	TypeName string
	// Service is the backend service FQN; Method the RPC name on it.
	Service string
	Method  string
	// KeyField is the request's repeated key field (proto name).
	KeyField string
}

// Backend overrides or supplies the endpoint for one service.
type Backend struct {
	Service  string
	Endpoint string
	Insecure bool
}

// Builder accumulates gateway configuration.
type Builder struct {
	descriptorBytes []byte
	federation      bool
	services        []string
	introspection   bool
	eager           bool

	clientDefaults grpcpool.Defaults
	backends       []Backend
	entityMappings []EntityMapping
	entityResolver gqlrt.EntityResolver
	middlewares    []Middleware
	errorHook      server.ErrorHook
	serverOptions  []server.Option
}

func NewBuilder() *Builder {
	return &Builder{introspection: true}
}

// WithDescriptorSetBytes supplies the binary FileDescriptorSet.
func (b *Builder) WithDescriptorSetBytes(raw []byte) *Builder {
	b.descriptorBytes = raw
	return b
}

// WithDescriptorSetFile reads the descriptor set from a file.
func (b *Builder) WithDescriptorSetFile(path string) (*Builder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b.descriptorBytes = raw
	return b, nil
}

// WithFederation enables federation directives and `_entities`.
func (b *Builder) WithFederation() *Builder {
	b.federation = true
	return b
}

// WithServices restricts synthesis to the named service FQNs.
func (b *Builder) WithServices(services ...string) *Builder {
	b.services = append(b.services, services...)
	return b
}

// WithIntrospection toggles __schema/__type support (default on).
func (b *Builder) WithIntrospection(enable bool) *Builder {
	b.introspection = enable
	return b
}

// WithEagerConnect dials every registered backend at build time and fails
// fast when one is unreachable.
func (b *Builder) WithEagerConnect() *Builder {
	b.eager = true
	return b
}

// WithClientDefaults sets the pool-wide deadline and TLS defaults.
func (b *Builder) WithClientDefaults(d grpcpool.Defaults) *Builder {
	b.clientDefaults = d
	return b
}

// WithBackend maps a service to an endpoint, overriding any
// (graphql.service) annotation.
func (b *Builder) WithBackend(backend Backend) *Builder {
	b.backends = append(b.backends, backend)
	return b
}

// WithEntityMapping enables real `_entities` resolution for one type.
func (b *Builder) WithEntityMapping(m EntityMapping) *Builder {
	b.entityMappings = append(b.entityMappings, m)
	return b
}

// WithEntityResolver installs a custom resolution strategy, overriding the
// mapping-based resolver.
func (b *Builder) WithEntityResolver(r gqlrt.EntityResolver) *Builder {
	b.entityResolver = r
	return b
}

// WithMiddleware appends a handler middleware; ordering is preserved.
func (b *Builder) WithMiddleware(m Middleware) *Builder {
	b.middlewares = append(b.middlewares, m)
	return b
}

// WithErrorHook installs the hook run over every outgoing GraphQL error.
func (b *Builder) WithErrorHook(h server.ErrorHook) *Builder {
	b.errorHook = h
	return b
}

// WithServerOptions forwards options to the HTTP and WebSocket handlers.
func (b *Builder) WithServerOptions(opts ...server.Option) *Builder {
	b.serverOptions = append(b.serverOptions, opts...)
	return b
}

// Gateway is the built, ready-to-serve bridge.
type Gateway struct {
	schema  *schema.Schema
	sdl     string
	exec    *executor.Executor
	pool    *grpcpool.Pool
	handler http.Handler
}

// Handler serves /graphql and /graphql/ws with middlewares applied.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Schema returns the synthesized schema (without introspection grafts).
func (g *Gateway) Schema() *schema.Schema { return g.schema }

// SDL returns the schema rendered deterministically.
func (g *Gateway) SDL() string { return g.sdl }

// Executor exposes the operation executor (used by tests and embedders).
func (g *Gateway) Executor() *executor.Executor { return g.exec }

// Close drains the client pool.
func (g *Gateway) Close() error { return g.pool.Close() }

// Build synthesizes the schema and wires the runtime. Synthesis or eager
// connection failures abort with an error and no partial gateway.
func (b *Builder) Build(ctx context.Context) (*Gateway, error) {
	if len(b.descriptorBytes) == 0 {
		return nil, fmt.Errorf("gateway: a descriptor set is required")
	}
	pool, err := descpool.Load(b.descriptorBytes)
	if err != nil {
		return nil, err
	}
	br, err := bridge.Build(pool, bridge.Options{Federation: b.federation, Services: b.services})
	if err != nil {
		return nil, err
	}
	sdl := schema.Render(br.Schema)

	clients := grpcpool.New(grpcpool.WithDefaults(b.clientDefaults))
	if err := b.registerBackends(ctx, clients, br); err != nil {
		clients.Close()
		return nil, err
	}

	transport := &poolTransport{pool: clients}
	runtimeOpts := []gqlrt.Option{gqlrt.WithSDL(sdl)}
	resolver := b.entityResolver
	if resolver == nil && len(b.entityMappings) > 0 {
		bindings := map[string]gqlrt.EntityBinding{}
		for _, m := range b.entityMappings {
			md, err := b.lookupMethod(pool, m)
			if err != nil {
				clients.Close()
				return nil, err
			}
			bindings[m.TypeName] = gqlrt.EntityBinding{Service: m.Service, Method: md, KeyField: m.KeyField}
		}
		resolver = gqlrt.NewGRPCEntityResolver(br.Registry, transport, bindings)
	}
	if resolver != nil {
		runtimeOpts = append(runtimeOpts, gqlrt.WithEntityResolver(resolver))
	}

	var runtime executor.Runtime = gqlrt.NewRuntime(br.Registry, transport, runtimeOpts...)
	served := br.Schema
	if b.introspection {
		wrapped := introspection.Wrap(runtime, br.Schema)
		runtime = wrapped.Runtime
		served = wrapped.Schema
	}
	exec := executor.NewExecutor(runtime, served)

	srvOpts := b.serverOptions
	if b.errorHook != nil {
		srvOpts = append(srvOpts, server.WithErrorHook(b.errorHook))
	}
	mux := http.NewServeMux()
	mux.Handle("/graphql", server.New(exec, srvOpts...))
	mux.Handle("/graphql/ws", server.NewWS(exec, srvOpts...))

	var handler http.Handler = mux
	for i := len(b.middlewares) - 1; i >= 0; i-- {
		handler = b.middlewares[i](handler)
	}

	return &Gateway{schema: br.Schema, sdl: sdl, exec: exec, pool: clients, handler: handler}, nil
}

// registerBackends registers explicit backends first, then falls back to
// the (graphql.service) annotations for services without one.
func (b *Builder) registerBackends(ctx context.Context, clients *grpcpool.Pool, br *bridge.Bridge) error {
	mode := grpcpool.Lazy
	if b.eager {
		mode = grpcpool.Eager
	}
	seen := map[string]bool{}
	for _, backend := range b.backends {
		opts := []grpcpool.RegisterOption{grpcpool.WithMode(mode)}
		if backend.Insecure {
			opts = append(opts, grpcpool.WithInsecure())
		}
		if err := clients.Register(ctx, backend.Service, backend.Endpoint, opts...); err != nil {
			return err
		}
		seen[backend.Service] = true
	}
	for service, ann := range br.ServiceHosts {
		if seen[service] {
			continue
		}
		opts := []grpcpool.RegisterOption{grpcpool.WithMode(mode)}
		if ann.Insecure {
			opts = append(opts, grpcpool.WithInsecure())
		}
		if err := clients.Register(ctx, service, ann.Host, opts...); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) lookupMethod(pool *descpool.Pool, m EntityMapping) (protoreflect.MethodDescriptor, error) {
	md := pool.Method(protoreflect.FullName(m.Service + "." + m.Method))
	if md == nil {
		return nil, fmt.Errorf("gateway: entity mapping for %s: method %s.%s not found", m.TypeName, m.Service, m.Method)
	}
	return md, nil
}

// poolTransport adapts the client pool to the runtime's transport surface.
type poolTransport struct {
	pool *grpcpool.Pool
}

func (t *poolTransport) Invoke(ctx context.Context, service string, method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error) {
	client, err := t.pool.Get(ctx, service)
	if err != nil {
		return nil, err
	}
	return client.Invoke(ctx, method, request)
}

func (t *poolTransport) OpenStream(ctx context.Context, service string, method protoreflect.MethodDescriptor, request protoreflect.Message) (gqlrt.MessageStream, error) {
	client, err := t.pool.Get(ctx, service)
	if err != nil {
		return nil, err
	}
	return client.InvokeStream(ctx, method, request)
}
