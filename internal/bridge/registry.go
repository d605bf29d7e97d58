package bridge

import (
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/protogate/protogate/internal/gqlopt"
)

// BindingKind classifies how a synthesized async field dispatches.
type BindingKind int

const (
	BindQuery BindingKind = iota
	BindMutation
	BindSubscription
	BindResolver
	// BindEntities is the federation `_entities` batch field.
	BindEntities
)

// Binding is one entry of the resolver dispatch table: everything the
// runtime needs to turn a GraphQL field invocation into a gRPC call.
type Binding struct {
	ObjectType string
	Field      string
	Kind       BindingKind

	// Service is the fully-qualified gRPC service name, the client pool key.
	Service string
	// Method is the RPC to invoke. Nil for BindEntities.
	Method protoreflect.MethodDescriptor

	// RequestName, when non-empty, packs all arguments into a single input
	// object argument of that name.
	RequestName string
	// Pluck is the resolved projection chain applied to the reply.
	Pluck []protoreflect.FieldDescriptor
	// ResponseRequired makes the return type Non-Null.
	ResponseRequired bool
}

type bindingKey struct {
	objectType string
	field      string
}

// Registry is the frozen output of schema synthesis that the resolver
// runtime executes against. Immutable after Build.
type Registry struct {
	bindings     map[bindingKey]*Binding
	sourceFields map[bindingKey]protoreflect.FieldDescriptor
	fieldOpts    map[protoreflect.FullName]gqlopt.Field

	outputMessages map[string]protoreflect.MessageDescriptor
	inputMessages  map[string]protoreflect.MessageDescriptor
	outputNames    map[protoreflect.FullName]string

	entities map[string]*Entity
}

func newRegistry() *Registry {
	return &Registry{
		bindings:       map[bindingKey]*Binding{},
		sourceFields:   map[bindingKey]protoreflect.FieldDescriptor{},
		fieldOpts:      map[protoreflect.FullName]gqlopt.Field{},
		outputMessages: map[string]protoreflect.MessageDescriptor{},
		inputMessages:  map[string]protoreflect.MessageDescriptor{},
		outputNames:    map[protoreflect.FullName]string{},
		entities:       map[string]*Entity{},
	}
}

// Binding returns the dispatch entry for (objectType, field), or nil for
// physical fields.
func (r *Registry) Binding(objectType, field string) *Binding {
	return r.bindings[bindingKey{objectType, field}]
}

// SourceField returns the proto field backing a physical GraphQL field.
func (r *Registry) SourceField(objectType, field string) protoreflect.FieldDescriptor {
	return r.sourceFields[bindingKey{objectType, field}]
}

// FieldAnnotation returns the recorded annotation for a proto field; absent
// annotations yield the zero value.
func (r *Registry) FieldAnnotation(fd protoreflect.FieldDescriptor) gqlopt.Field {
	return r.fieldOpts[fd.FullName()]
}

// OutputMessage resolves a GraphQL object type name back to its message.
func (r *Registry) OutputMessage(typeName string) protoreflect.MessageDescriptor {
	return r.outputMessages[typeName]
}

// InputMessage resolves a GraphQL input object name back to its message.
func (r *Registry) InputMessage(typeName string) protoreflect.MessageDescriptor {
	return r.inputMessages[typeName]
}

// OutputName returns the GraphQL object type name chosen for a message.
func (r *Registry) OutputName(md protoreflect.MessageDescriptor) string {
	return r.outputNames[md.FullName()]
}

// Entity returns the federation config for a GraphQL type name, or nil.
func (r *Registry) Entity(typeName string) *Entity {
	return r.entities[typeName]
}

// Entities returns the entity table keyed by GraphQL type name.
func (r *Registry) Entities() map[string]*Entity { return r.entities }

// Entity is the federation configuration of one annotated message.
type Entity struct {
	// TypeName is the GraphQL object type name.
	TypeName string
	// Message is the entity's descriptor.
	Message protoreflect.MessageDescriptor
	// Keys holds one field-name set per @key; tokens are GraphQL names.
	Keys [][]string
	// Extend marks the type as extending another subgraph's entity.
	Extend bool
	// Resolvable entities join the _Entity union.
	Resolvable bool
}
