package gqlrt

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/protogate/protogate/internal/bridge"
	"github.com/protogate/protogate/internal/executor"
)

// EntityResolver resolves one entity type's batch of representations.
// Implementations must return exactly one element per representation, in
// representation order; unresolvable entries are nil, never errors.
type EntityResolver interface {
	ResolveEntities(ctx context.Context, entity *bridge.Entity, representations []map[string]any) ([]any, error)
}

// EchoEntityResolver is the default strategy: resolvable representations
// echo back verbatim. Real resolution requires an explicit mapping.
type EchoEntityResolver struct{}

func (EchoEntityResolver) ResolveEntities(ctx context.Context, entity *bridge.Entity, representations []map[string]any) ([]any, error) {
	_ = ctx
	out := make([]any, len(representations))
	for i, rep := range representations {
		out[i] = rep
	}
	return out, nil
}

// resolveEntitiesTask implements the `_entities` field: group the
// representations by entity type, delegate each group to the resolver in
// one batched call, and stitch results back positionally. The output list
// length always equals the input length; missing entities are nulls.
func (r *Runtime) resolveEntitiesTask(ctx context.Context, task executor.AsyncResolveTask) (any, error) {
	rawReps, _ := task.Args["representations"].([]any)
	out := make([]any, len(rawReps))

	type slot struct {
		pos int
		rep map[string]any
	}
	groups := map[string][]slot{}
	var order []string
	for i, raw := range rawReps {
		rep, ok := raw.(map[string]any)
		if !ok {
			return nil, inputErrorf("representation %d is not an object", i)
		}
		typename, _ := rep["__typename"].(string)
		if typename == "" {
			return nil, inputErrorf("representation %d is missing __typename", i)
		}
		if _, seen := groups[typename]; !seen {
			order = append(order, typename)
		}
		groups[typename] = append(groups[typename], slot{pos: i, rep: rep})
	}

	for _, typename := range order {
		entity := r.reg.Entity(typename)
		if entity == nil {
			return nil, inputErrorf("unknown entity type %q", typename)
		}
		slots := groups[typename]
		reps := make([]map[string]any, len(slots))
		for i, s := range slots {
			reps[i] = s.rep
		}
		resolved, err := r.entities.ResolveEntities(ctx, entity, reps)
		if err != nil {
			return nil, err
		}
		if len(resolved) != len(reps) {
			return nil, &InternalError{Detail: fmt.Sprintf(
				"entity resolver for %s returned %d results for %d representations", typename, len(resolved), len(reps))}
		}
		for i, s := range slots {
			if resolved[i] == nil {
				continue
			}
			out[s.pos] = executor.Typed{TypeName: typename, Value: resolved[i]}
		}
	}
	return out, nil
}

// EntityBinding directs the gRPC entity resolver for one entity type.
type EntityBinding struct {
	// Service is the backend's fully-qualified service name.
	Service string
	// Method is the batch lookup RPC. Its request must carry a repeated
	// field named KeyField; its reply must carry a repeated field of the
	// entity's message type.
	Method protoreflect.MethodDescriptor
	// KeyField is the request's repeated key field name (proto name).
	KeyField string
}

// GRPCEntityResolver resolves entities with one batched backend call per
// entity type per `_entities` field, re-aligning replies by key value even
// when the server reorders.
type GRPCEntityResolver struct {
	transport Transport
	reg       *bridge.Registry
	bindings  map[string]EntityBinding
}

func NewGRPCEntityResolver(reg *bridge.Registry, transport Transport, bindings map[string]EntityBinding) *GRPCEntityResolver {
	return &GRPCEntityResolver{transport: transport, reg: reg, bindings: bindings}
}

func (g *GRPCEntityResolver) ResolveEntities(ctx context.Context, entity *bridge.Entity, representations []map[string]any) ([]any, error) {
	binding, ok := g.bindings[entity.TypeName]
	if !ok {
		// no mapping configured: fall back to echoing
		return EchoEntityResolver{}.ResolveEntities(ctx, entity, representations)
	}
	if len(entity.Keys) == 0 || len(entity.Keys[0]) != 1 {
		return nil, &InternalError{Detail: fmt.Sprintf("entity %s needs a single-field primary key for batch resolution", entity.TypeName)}
	}
	keyName := entity.Keys[0][0]
	entityKeyFD := g.reg.SourceField(entity.TypeName, keyName)
	if entityKeyFD == nil {
		return nil, &InternalError{Detail: fmt.Sprintf("entity %s: key field %q has no source field", entity.TypeName, keyName)}
	}

	input := binding.Method.Input()
	reqKeyFD := input.Fields().ByName(protoreflect.Name(binding.KeyField))
	if reqKeyFD == nil || reqKeyFD.Cardinality() != protoreflect.Repeated {
		return nil, &InternalError{Detail: fmt.Sprintf("entity %s: request field %q must be repeated", entity.TypeName, binding.KeyField)}
	}

	// Keys go out in representation order.
	req := dynamicpb.NewMessage(input)
	list := req.Mutable(reqKeyFD).List()
	keys := make([]string, len(representations))
	for i, rep := range representations {
		raw, ok := rep[keyName]
		if !ok {
			return nil, inputErrorf("representation for %s is missing key field %q", entity.TypeName, keyName)
		}
		pv, err := singleValue(g.reg, reqKeyFD, raw)
		if err != nil {
			return nil, err
		}
		list.Append(pv)
		keys[i] = keyString(pv.Interface())
	}

	resp, err := g.transport.Invoke(ctx, binding.Service, binding.Method, req)
	if err != nil {
		return nil, translateTransport(err)
	}

	respFD := findEntityListField(binding.Method.Output(), entity.Message)
	if respFD == nil {
		return nil, &InternalError{Detail: fmt.Sprintf("entity %s: reply of %s carries no repeated %s field",
			entity.TypeName, binding.Method.FullName(), entity.Message.FullName())}
	}

	byKey := map[string]protoreflect.Message{}
	replies := resp.Get(respFD).List()
	for i := 0; i < replies.Len(); i++ {
		msg := replies.Get(i).Message()
		byKey[keyString(scalarFieldValue(entityKeyFD, msg.Get(entityKeyFD)))] = msg
	}

	out := make([]any, len(representations))
	for i, key := range keys {
		if msg, ok := byKey[key]; ok {
			out[i] = msg
		}
	}
	return out, nil
}

// findEntityListField locates the reply's repeated field of the entity's
// message type.
func findEntityListField(output protoreflect.MessageDescriptor, entity protoreflect.MessageDescriptor) protoreflect.FieldDescriptor {
	fields := output.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.IsMap() || fd.Cardinality() != protoreflect.Repeated {
			continue
		}
		if fd.Kind() == protoreflect.MessageKind && fd.Message().FullName() == entity.FullName() {
			return fd
		}
	}
	return nil
}

func keyString(v any) string { return fmt.Sprint(v) }
