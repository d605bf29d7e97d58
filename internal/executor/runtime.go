package executor

import (
	"context"
)

// Runtime is the host integration surface for field resolution, batching,
// streaming, abstract type resolution, and leaf-value serialization.
//
// Contract:
//   - The executor drains synchronous fields first at each depth, then calls
//     BatchResolveAsync ONCE with every async task collected at that depth.
//     The next depth does not begin until those results are completed.
//   - ResolveSync is never invoked for fields marked async, and
//     BatchResolveAsync only when at least one async field exists at the depth.
//   - Errors become located GraphQL errors; Non-Null return types propagate
//     null to the nearest nullable ancestor per the GraphQL spec.
//   - Implementations must be safe for concurrent use across operations and
//     must not mutate source or args values.
//
// Identifiers: objectType is the GraphQL type name, field the GraphQL field
// name, source the parent value (nil for roots), args the coerced argument
// map keyed by GraphQL argument name.
type Runtime interface {
	// ResolveSync resolves a physical field from the parent source without
	// I/O. Return (nil, nil) for GraphQL null on nullable fields.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves one execution depth of remote field tasks.
	// It must return exactly one result per task, in task order; failures are
	// per-element and do not abort the batch.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveStream opens the source stream backing a subscription root
	// field. The returned stream yields raw values to be completed against
	// the field's type.
	ResolveStream(ctx context.Context, field string, args map[string]any) (Stream, error)

	// ResolveType names the concrete object type for a value of an abstract
	// type. Values wrapped in Typed bypass this hook.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue serializes a scalar or enum value into a JSON-safe
	// Go value. 64-bit integers and bytes serialize as strings.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

// Stream is a pull-based source of subscription values. Recv blocks until a
// value arrives, the stream ends (io.EOF), or ctx is done. Close releases
// the underlying call; it is safe to call more than once.
type Stream interface {
	Recv(ctx context.Context) (any, error)
	Close() error
}

// AsyncResolveTask is one queued remote field resolution.
type AsyncResolveTask struct {
	// ObjectType is the parent GraphQL object type name.
	ObjectType string
	// Field is the GraphQL field name to resolve.
	Field string
	// Source is the parent object value (nil for root fields).
	Source any
	// Args are the coerced field arguments.
	Args map[string]any
}

// AsyncResolveResult is the outcome of one task. Failures are independent:
// other elements of the same batch are unaffected.
type AsyncResolveResult struct {
	Value any
	Error error
}

// Typed tags a value with its concrete GraphQL object type. The entity
// loader wraps `_entities` elements this way so union completion does not
// need a ResolveType round trip.
type Typed struct {
	TypeName string
	Value    any
}

// LeafFallback defers a leaf's fate to its nullability: a nullable position
// completes with Value, a Non-Null position records Err and propagates null.
// The gRPC runtime uses it for unknown enum numbers, which stringify on
// nullable fields and fail on non-null ones.
type LeafFallback struct {
	Value any
	Err   error
}

// ExtensionsProvider lets typed errors attach GraphQL error extensions
// (e.g. {"code": "BAD_USER_INPUT"}) when folded into the errors array.
type ExtensionsProvider interface {
	GraphQLExtensions() map[string]any
}
