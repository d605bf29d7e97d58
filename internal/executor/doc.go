// Package executor implements a breadth-first, batch-friendly GraphQL
// executor with explicit runtime hooks for synchronous projection, depth-wise
// batching of remote work, streaming subscriptions, abstract-type resolution,
// and leaf serialization.
//
// # Execution model
//
// Execution proceeds level by level. Synchronous ("physical") fields expand
// immediately via Runtime.ResolveSync and never add depth. Asynchronous
// ("remote") fields discovered while expanding a depth are collected and
// handed to Runtime.BatchResolveAsync in a single call — exactly once per
// depth. That single call per depth is the coalescing point the gRPC runtime
// builds its request batching on: every remote field at the depth, across
// sibling resolvers, arrives together.
//
// Value completion follows the GraphQL specification: Non-Null violations
// propagate null to the nearest nullable ancestor and tombstone the subtree
// so queued tasks under it are dropped; lists complete element-wise with
// index-aware paths; leaves defer to Runtime.SerializeLeafValue; abstract
// values resolve their concrete type via Runtime.ResolveType (or carry it
// directly as a Typed value).
//
// Errors accumulate as located GraphQL errors. An error that implements
// ExtensionsProvider contributes machine-readable extensions (error codes,
// gRPC status) to the emitted error.
//
// # Subscriptions
//
// ExecuteSubscription opens a source stream through Runtime.ResolveStream
// and completes each received value against the subscription field's type,
// emitting one ExecutionResult per upstream message in arrival order. The
// stream ends when the source ends, errors, or the context is cancelled.
package executor
