package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	language "github.com/protogate/protogate/internal/language"
	schema "github.com/protogate/protogate/internal/schema"
)

// testSchema builds a small schema by hand:
//
//	type Query { user: User, fail: String!, note: String }
//	type User { id: String!, name: String, posts: [Post!] }
//	type Post { title: String }
//	type Subscription { ticks: Tick }
//	type Tick { n: Int }
func testSchema() *schema.Schema {
	s := schema.NewSchema()
	s.AddType(&schema.Type{
		Name: "Query",
		Kind: schema.TypeKindObject,
		Fields: []*schema.Field{
			{Name: "user", Type: schema.NamedType("User"), Async: true},
			{Name: "fail", Type: schema.NonNullType(schema.NamedType("String")), Async: true},
			{Name: "note", Type: schema.NamedType("String")},
		},
	})
	s.AddType(&schema.Type{
		Name: "User",
		Kind: schema.TypeKindObject,
		Fields: []*schema.Field{
			{Name: "id", Type: schema.NonNullType(schema.NamedType("String"))},
			{Name: "name", Type: schema.NamedType("String")},
			{Name: "posts", Type: schema.ListType(schema.NonNullType(schema.NamedType("Post"))), Async: true},
		},
	})
	s.AddType(&schema.Type{
		Name:   "Post",
		Kind:   schema.TypeKindObject,
		Fields: []*schema.Field{{Name: "title", Type: schema.NamedType("String")}},
	})
	s.AddType(&schema.Type{
		Name:   "Subscription",
		Kind:   schema.TypeKindObject,
		Fields: []*schema.Field{{Name: "ticks", Type: schema.NamedType("Tick"), Async: true}},
	})
	s.AddType(&schema.Type{
		Name:   "Tick",
		Kind:   schema.TypeKindObject,
		Fields: []*schema.Field{{Name: "n", Type: schema.NamedType("Int")}},
	})
	s.QueryType = "Query"
	s.SubscriptionType = "Subscription"
	return s
}

func mustParse(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(q)
	require.NoError(t, err)
	return doc
}

func TestSyncAndAsyncDepths(t *testing.T) {
	rt := NewMockRuntime()
	rt.AsyncHandlers["Query.user"] = func(task AsyncResolveTask) AsyncResolveResult {
		return AsyncResolveResult{Value: map[string]any{"id": "u1", "name": "Ada"}}
	}
	rt.AsyncHandlers["User.posts"] = func(task AsyncResolveTask) AsyncResolveResult {
		return AsyncResolveResult{Value: []any{map[string]any{"title": "p1"}}}
	}
	exec := NewExecutor(rt, testSchema())

	res := exec.ExecuteRequest(context.Background(), mustParse(t, `{ user { id name posts { title } } }`), "", nil, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{
		"user": map[string]any{
			"id":   "u1",
			"name": "Ada",
			"posts": []any{
				map[string]any{"title": "p1"},
			},
		},
	}, res.Data)

	// two async depths: root user, then its posts — one batch per depth
	require.Len(t, rt.BatchCalls(), 2)
}

func TestSiblingBatchingAtOneDepth(t *testing.T) {
	rt := NewMockRuntime()
	rt.AsyncHandlers["Query.user"] = func(task AsyncResolveTask) AsyncResolveResult {
		return AsyncResolveResult{Value: map[string]any{"id": "u1", "name": nil}}
	}
	exec := NewExecutor(rt, testSchema())

	res := exec.ExecuteRequest(context.Background(), mustParse(t, `{ a: user { id } b: user { id } }`), "", nil, nil)
	require.Empty(t, res.Errors)

	calls := rt.BatchCalls()
	require.Len(t, calls, 1, "sibling async fields share one batch")
	require.Len(t, calls[0], 2)
}

func TestNonNullErrorPropagation(t *testing.T) {
	rt := NewMockRuntime()
	rt.AsyncHandlers["Query.fail"] = func(task AsyncResolveTask) AsyncResolveResult {
		return AsyncResolveResult{Error: &extErr{msg: "backend exploded"}}
	}
	rt.AsyncHandlers["Query.user"] = func(task AsyncResolveTask) AsyncResolveResult {
		return AsyncResolveResult{Value: map[string]any{"id": "u1"}}
	}
	exec := NewExecutor(rt, testSchema())

	res := exec.ExecuteRequest(context.Background(), mustParse(t, `{ fail user { id } }`), "", nil, nil)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "backend exploded", res.Errors[0].Message)
	require.Equal(t, map[string]any{"code": "TEST"}, res.Errors[0].Extensions)

	// failing non-null root field nulls out; sibling proceeds
	data := res.Data.(map[string]any)
	require.Nil(t, data["fail"])
	require.Equal(t, map[string]any{"id": "u1"}, data["user"])
}

type extErr struct{ msg string }

func (e *extErr) Error() string { return e.msg }

func (e *extErr) GraphQLExtensions() map[string]any { return map[string]any{"code": "TEST"} }

func TestNonNullNullPropagatesToNullableAncestor(t *testing.T) {
	rt := NewMockRuntime()
	rt.AsyncHandlers["Query.user"] = func(task AsyncResolveTask) AsyncResolveResult {
		// id is non-null but missing: user must collapse to null
		return AsyncResolveResult{Value: map[string]any{"name": "Ada"}}
	}
	exec := NewExecutor(rt, testSchema())

	res := exec.ExecuteRequest(context.Background(), mustParse(t, `{ user { id name } }`), "", nil, nil)
	require.NotEmpty(t, res.Errors)
	require.Nil(t, res.Data.(map[string]any)["user"])
}

func TestSkipIncludeDirectives(t *testing.T) {
	rt := NewMockRuntime()
	rt.SyncRoots["Query.note"] = "kept"
	exec := NewExecutor(rt, testSchema())

	query := `query($yes: Boolean!, $no: Boolean!) {
		a: note @include(if: $yes)
		b: note @include(if: $no)
		c: note @skip(if: $yes)
		d: note @skip(if: $no)
	}`
	res := exec.ExecuteRequest(context.Background(), mustParse(t, query), "",
		map[string]any{"yes": true, "no": false}, nil)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]any)
	require.Equal(t, "kept", data["a"])
	require.NotContains(t, data, "b")
	require.NotContains(t, data, "c")
	require.Equal(t, "kept", data["d"])
}

func TestVariableCoercion(t *testing.T) {
	rt := NewMockRuntime()
	exec := NewExecutor(rt, testSchema())

	res := exec.ExecuteRequest(context.Background(),
		mustParse(t, `query($v: String!) { note @include(if: false) }`), "", nil, nil)
	require.Len(t, res.Errors, 1, "missing required variable fails before execution")
}

func TestSubscriptionDeliversInOrder(t *testing.T) {
	rt := NewMockRuntime()
	rt.Streams["ticks"] = []any{
		map[string]any{"n": 1},
		map[string]any{"n": 2},
		map[string]any{"n": 3},
	}
	exec := NewExecutor(rt, testSchema())

	sub, err := exec.ExecuteSubscription(context.Background(),
		mustParse(t, `subscription { ticks { n } }`), "", nil)
	require.NoError(t, err)

	var got []any
	for res := range sub.C {
		require.Empty(t, res.Errors)
		got = append(got, res.Data.(map[string]any)["ticks"].(map[string]any)["n"])
	}
	require.Equal(t, []any{1, 2, 3}, got)
}

func TestSubscriptionRejectsMultipleRootFields(t *testing.T) {
	rt := NewMockRuntime()
	rt.Streams["ticks"] = []any{}
	exec := NewExecutor(rt, testSchema())

	_, err := exec.ExecuteSubscription(context.Background(),
		mustParse(t, `subscription { a: ticks { n } b: ticks { n } }`), "", nil)
	require.Error(t, err)
}
