// Package gqlrt implements executor.Runtime on top of the bridge's dispatch
// registry and a gRPC transport: it reconstructs request messages from
// GraphQL arguments, invokes unary or server-streaming methods, and
// projects replies (including pluck paths) back into GraphQL values.
package gqlrt

import (
	"context"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/protogate/protogate/internal/bridge"
	"github.com/protogate/protogate/internal/executor"
)

// Transport issues calls against named backends. The client pool provides
// the production implementation; tests substitute fakes. Implementations
// must be safe for concurrent use.
type Transport interface {
	Invoke(ctx context.Context, service string, method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error)
	OpenStream(ctx context.Context, service string, method protoreflect.MethodDescriptor, request protoreflect.Message) (MessageStream, error)
}

// MessageStream is a server-stream of dynamic messages. Recv returns io.EOF
// at normal end of stream.
type MessageStream interface {
	Recv() (protoreflect.Message, error)
	Close() error
}

// Option configures the runtime.
type Option func(*Runtime)

// WithEntityResolver installs the federation entity resolution strategy.
// The default echoes representations back verbatim.
func WithEntityResolver(r EntityResolver) Option {
	return func(rt *Runtime) { rt.entities = r }
}

// WithSDL provides the rendered schema served on `_service { sdl }`.
func WithSDL(sdl string) Option {
	return func(rt *Runtime) { rt.sdl = sdl }
}

// Runtime is the gRPC-backed resolver runtime.
type Runtime struct {
	reg       *bridge.Registry
	transport Transport
	entities  EntityResolver
	sdl       string
}

var _ executor.Runtime = (*Runtime)(nil)

func NewRuntime(reg *bridge.Registry, transport Transport, opts ...Option) *Runtime {
	rt := &Runtime{reg: reg, transport: transport, entities: EchoEntityResolver{}}
	for _, f := range opts {
		f(rt)
	}
	return rt
}

// ResolveSync projects physical fields from the parent source. It never
// performs network I/O; every RPC-backed field is async and flows through
// BatchResolveAsync.
func (r *Runtime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	_ = ctx
	_ = args

	switch src := source.(type) {
	case nil:
		switch {
		case objectType == "Query" && field == "_placeholder":
			return true, nil
		case objectType == "Query" && field == "_service":
			return map[string]any{"sdl": r.sdl}, nil
		default:
			return nil, nil
		}
	case map[string]any:
		// Echo-resolved entities and the _Service object carry plain maps.
		return src[field], nil
	case protoreflect.Message:
		fd := r.reg.SourceField(objectType, field)
		if fd == nil {
			return nil, &InternalError{Detail: fmt.Sprintf("no source field for %s.%s", objectType, field)}
		}
		if fd.IsMap() || fd.Cardinality() == protoreflect.Repeated {
			// empty containers surface as [] rather than null
			return fieldValue(fd, src.Get(fd)), nil
		}
		if fd.Kind() == protoreflect.MessageKind && !src.Has(fd) {
			return nil, nil
		}
		return fieldValue(fd, src.Get(fd)), nil
	default:
		return nil, &InternalError{Detail: fmt.Sprintf("unexpected source %T for %s.%s", source, objectType, field)}
	}
}

// BatchResolveAsync executes one depth of remote fields. Tasks group by
// (objectType, field); groups run in parallel. Within one `_entities` field
// the representations are coalesced per entity type into one upstream
// batch; separate `_entities` fields at the same depth (aliases) are not
// merged and each issue their own batches.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	type groupKey struct {
		objectType string
		field      string
	}
	type group struct {
		binding *bridge.Binding
		idxs    []int
	}
	groups := []*group{}
	idxByKey := map[groupKey]int{}
	for i, t := range tasks {
		k := groupKey{t.ObjectType, t.Field}
		if gi, ok := idxByKey[k]; ok {
			groups[gi].idxs = append(groups[gi].idxs, i)
			continue
		}
		idxByKey[k] = len(groups)
		groups = append(groups, &group{binding: r.reg.Binding(t.ObjectType, t.Field), idxs: []int{i}})
	}

	run := func(g *group) {
		if g.binding == nil {
			for _, i := range g.idxs {
				results[i] = executor.AsyncResolveResult{Error: &InternalError{
					Detail: fmt.Sprintf("no binding for %s.%s", tasks[g.idxs[0]].ObjectType, tasks[g.idxs[0]].Field),
				}}
			}
			return
		}
		switch g.binding.Kind {
		case bridge.BindEntities:
			for _, i := range g.idxs {
				value, err := r.resolveEntitiesTask(ctx, tasks[i])
				results[i] = executor.AsyncResolveResult{Value: value, Error: err}
			}
		case bridge.BindResolver:
			for _, i := range g.idxs {
				results[i] = r.executeResolver(ctx, g.binding, tasks[i])
			}
		default:
			for _, i := range g.idxs {
				results[i] = r.executeUnary(ctx, g.binding, tasks[i])
			}
		}
	}

	if len(groups) > 1 {
		var wg sync.WaitGroup
		wg.Add(len(groups))
		for _, g := range groups {
			go func(g *group) {
				defer wg.Done()
				run(g)
			}(g)
		}
		wg.Wait()
	} else {
		run(groups[0])
	}
	return results
}

// executeUnary issues one unary call for a root query/mutation field.
// Identical calls within the operation collapse through the per-request
// call cache.
func (r *Runtime) executeUnary(ctx context.Context, b *bridge.Binding, task executor.AsyncResolveTask) executor.AsyncResolveResult {
	req, err := buildRequest(r.reg, b.Method.Input(), task.Args, b.RequestName)
	if err != nil {
		return executor.AsyncResolveResult{Error: err}
	}

	cache := cacheFromContext(ctx)
	key, cacheable := newCacheKey(b.Service, b.Method, req)
	if cacheable {
		if resp, ok := cache.get(key); ok {
			return r.completeReply(b, resp)
		}
	}

	resp, err := r.transport.Invoke(ctx, b.Service, b.Method, req)
	if err != nil {
		return executor.AsyncResolveResult{Error: translateTransport(err)}
	}
	if cacheable {
		cache.put(key, resp)
	}
	return r.completeReply(b, resp)
}

// executeResolver issues the call backing a child field: the request
// message shares the parent message's descriptor and is rebuilt from the
// parent source.
func (r *Runtime) executeResolver(ctx context.Context, b *bridge.Binding, task executor.AsyncResolveTask) executor.AsyncResolveResult {
	src, ok := task.Source.(protoreflect.Message)
	if !ok {
		return executor.AsyncResolveResult{Error: &InternalError{
			Detail: fmt.Sprintf("resolver field %s.%s expects a message source, got %T", b.ObjectType, b.Field, task.Source),
		}}
	}
	req, err := requestFromSource(b.Method.Input(), src)
	if err != nil {
		return executor.AsyncResolveResult{Error: err}
	}
	resp, err := r.transport.Invoke(ctx, b.Service, b.Method, req)
	if err != nil {
		return executor.AsyncResolveResult{Error: translateTransport(err)}
	}
	return r.completeReply(b, resp)
}

// requestFromSource clones the parent message into the request. When the
// descriptors differ (a request type structurally distinct from the
// parent), fields copy by name.
func requestFromSource(input protoreflect.MessageDescriptor, src protoreflect.Message) (protoreflect.Message, error) {
	if src.Descriptor().FullName() == input.FullName() {
		return proto.Clone(src.Interface()).ProtoReflect(), nil
	}
	req := dynamicpb.NewMessage(input)
	fields := input.Fields()
	srcFields := src.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		sfd := srcFields.ByName(fd.Name())
		if sfd == nil || !src.Has(sfd) {
			continue
		}
		if sfd.Kind() != fd.Kind() || (sfd.Cardinality() == protoreflect.Repeated) != (fd.Cardinality() == protoreflect.Repeated) {
			continue
		}
		req.Set(fd, src.Get(sfd))
	}
	return req, nil
}

// completeReply applies the pluck chain and hands the value back lazily.
func (r *Runtime) completeReply(b *bridge.Binding, resp protoreflect.Message) executor.AsyncResolveResult {
	value, err := applyPluck(b, resp)
	if err != nil {
		return executor.AsyncResolveResult{Error: err}
	}
	return executor.AsyncResolveResult{Value: value}
}

// applyPluck walks the configured dot path. A missing intermediate message
// yields null for nullable fields and an internal error when the response
// is declared required.
func applyPluck(b *bridge.Binding, resp protoreflect.Message) (any, error) {
	if len(b.Pluck) == 0 {
		return resp, nil
	}
	cur := resp
	for _, fd := range b.Pluck[:len(b.Pluck)-1] {
		if !cur.Has(fd) {
			if b.ResponseRequired {
				return nil, &InternalError{Detail: fmt.Sprintf("pluck segment %q missing from reply", fd.Name())}
			}
			return nil, nil
		}
		cur = cur.Get(fd).Message()
	}
	last := b.Pluck[len(b.Pluck)-1]
	if last.Kind() == protoreflect.MessageKind && !last.IsMap() && last.Cardinality() != protoreflect.Repeated && !cur.Has(last) {
		if b.ResponseRequired {
			return nil, &InternalError{Detail: fmt.Sprintf("pluck field %q missing from reply", last.Name())}
		}
		return nil, nil
	}
	return fieldValue(last, cur.Get(last)), nil
}

// ResolveStream opens the server-streaming call backing a subscription
// field. Values arrive in server send order; pluck applies per message.
func (r *Runtime) ResolveStream(ctx context.Context, field string, args map[string]any) (executor.Stream, error) {
	b := r.reg.Binding("Subscription", field)
	if b == nil || b.Kind != bridge.BindSubscription {
		return nil, &InternalError{Detail: fmt.Sprintf("no subscription binding for %q", field)}
	}
	req, err := buildRequest(r.reg, b.Method.Input(), args, b.RequestName)
	if err != nil {
		return nil, err
	}
	ms, err := r.transport.OpenStream(ctx, b.Service, b.Method, req)
	if err != nil {
		return nil, translateTransport(err)
	}
	return &pluckStream{binding: b, ms: ms}, nil
}

type pluckStream struct {
	binding *bridge.Binding
	ms      MessageStream
}

func (s *pluckStream) Recv(ctx context.Context) (any, error) {
	_ = ctx // the underlying stream is bound to the open-time context
	msg, err := s.ms.Recv()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, translateTransport(err)
	}
	return applyPluck(s.binding, msg)
}

func (s *pluckStream) Close() error { return s.ms.Close() }

// ResolveType names the concrete object type for an abstract value.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	_ = ctx
	if msg, ok := value.(protoreflect.Message); ok {
		if name := r.reg.OutputName(msg.Descriptor()); name != "" {
			return name, nil
		}
	}
	return "", &InternalError{Detail: fmt.Sprintf("cannot resolve concrete type of %s value %T", abstractType, value)}
}

// SerializeLeafValue emits JSON-safe leaf values: 64-bit integers as
// decimal strings, bytes as standard padded base64, enums as their names.
func (r *Runtime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	_ = ctx
	return serializeLeaf(scalarOrEnumTypeName, value)
}
