package bridge

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/protogate/protogate/internal/descpool"
	"github.com/protogate/protogate/internal/gqlopt"
	"github.com/protogate/protogate/internal/schema"
)

func TestBuildRootFields(t *testing.T) {
	br, err := Build(loadFixture(t), Options{})
	require.NoError(t, err)
	sch := br.Schema

	query := sch.GetQueryType()
	require.NotNil(t, query)
	require.NotNil(t, query.Field("hello"))
	require.NotNil(t, query.Field("users"))

	mutation := sch.GetMutationType()
	require.NotNil(t, mutation)
	require.NotNil(t, mutation.Field("updateGreeting"))
	require.NotNil(t, mutation.Field("setAvatar"))

	subscription := sch.GetSubscriptionType()
	require.NotNil(t, subscription)
	require.NotNil(t, subscription.Field("greetings"))

	// every exposed field is async and has a binding
	for _, f := range query.Fields {
		require.True(t, f.Async, f.Name)
		require.NotNil(t, br.Registry.Binding("Query", f.Name), f.Name)
	}

	// annotated backend host is surfaced for pool bootstrap
	require.Equal(t, "localhost:50051", br.ServiceHosts["hello.Greeter"].Host)
	require.True(t, br.ServiceHosts["hello.Greeter"].Insecure)
}

func TestArgumentShapes(t *testing.T) {
	br, err := Build(loadFixture(t), Options{})
	require.NoError(t, err)
	sch := br.Schema

	// single request field becomes a single argument of its mapped type
	hello := sch.GetQueryType().Field("hello")
	require.Len(t, hello.Arguments, 1)
	require.Equal(t, "name", hello.Arguments[0].Name)
	require.Equal(t, "String", schema.GetNamedType(hello.Arguments[0].Type))

	// request wrapper packs everything into one input object
	update := sch.GetMutationType().Field("updateGreeting")
	require.Len(t, update.Arguments, 1)
	require.Equal(t, "input", update.Arguments[0].Name)
	require.Equal(t, "UpdateGreetingRequest_Input", schema.GetNamedType(update.Arguments[0].Type))
	input := sch.Types["UpdateGreetingRequest_Input"]
	require.NotNil(t, input)
	require.Equal(t, schema.TypeKindInputObject, input.Kind)
	require.Len(t, input.InputFields, 2)

	// bytes maps to Upload on input
	setAvatar := sch.GetMutationType().Field("setAvatar")
	require.Len(t, setAvatar.Arguments, 2)
	require.Equal(t, "Upload", schema.GetNamedType(setAvatar.Arguments[1].Type))
	require.NotNil(t, sch.Types["Upload"])
}

func TestUserTypeMapping(t *testing.T) {
	br, err := Build(loadFixture(t), Options{})
	require.NoError(t, err)
	user := br.Schema.Types["User"]
	require.NotNil(t, user)

	id := user.Field("id")
	require.True(t, schema.IsNonNull(id.Type))
	require.Equal(t, "String", schema.GetNamedType(id.Type))

	require.Equal(t, "String", schema.GetNamedType(user.Field("score").Type))
	require.Equal(t, "Mood", schema.GetNamedType(user.Field("mood").Type))
	require.Equal(t, "String", schema.GetNamedType(user.Field("avatar").Type))

	labels := user.Field("labels")
	require.True(t, schema.IsList(labels.Type))
	require.Equal(t, "LabelsEntry", schema.GetNamedType(labels.Type))
	entry := br.Schema.Types["LabelsEntry"]
	require.NotNil(t, entry.Field("key"))
	require.NotNil(t, entry.Field("value"))

	require.Nil(t, user.Field("secret"), "omitted fields are excluded")

	mood := br.Schema.Types["Mood"]
	require.Equal(t, schema.TypeKindEnum, mood.Kind)
	require.Len(t, mood.EnumValues, 3)
	require.Equal(t, "MOOD_UNSPECIFIED", mood.EnumValues[0].Name)
}

func TestResolverAttachesToRequestObject(t *testing.T) {
	br, err := Build(loadFixture(t), Options{})
	require.NoError(t, err)

	user := br.Schema.Types["User"]
	badge := user.Field("badge")
	require.NotNil(t, badge, "RESOLVER methods attach to the request message's output object")
	require.True(t, badge.Async)
	require.Empty(t, badge.Arguments)
	require.Equal(t, "Badge", schema.GetNamedType(badge.Type))

	binding := br.Registry.Binding("User", "badge")
	require.NotNil(t, binding)
	require.Equal(t, BindResolver, binding.Kind)
	require.Equal(t, "hello.UserService", binding.Service)
}

func TestPluckReturnType(t *testing.T) {
	br, err := Build(loadFixture(t), Options{})
	require.NoError(t, err)

	users := br.Schema.GetQueryType().Field("users")
	require.True(t, schema.IsList(users.Type))
	require.Equal(t, "User", schema.GetNamedType(users.Type))

	binding := br.Registry.Binding("Query", "users")
	require.Len(t, binding.Pluck, 1)
	require.Equal(t, "users", string(binding.Pluck[0].Name()))
}

func TestDeterministicSDL(t *testing.T) {
	pool := loadFixture(t)
	first, err := Build(pool, Options{Federation: true})
	require.NoError(t, err)
	second, err := Build(loadFixture(t), Options{Federation: true})
	require.NoError(t, err)

	if diff := cmp.Diff(schema.Render(first.Schema), schema.Render(second.Schema)); diff != "" {
		t.Fatalf("schema SDL not deterministic (-first +second):\n%s", diff)
	}
}

func TestFederationSurface(t *testing.T) {
	br, err := Build(loadFixture(t), Options{Federation: true})
	require.NoError(t, err)
	sch := br.Schema

	entity := br.Registry.Entity("User")
	require.NotNil(t, entity)
	require.Equal(t, [][]string{{"id"}}, entity.Keys)
	require.True(t, entity.Resolvable)

	union := sch.Types["_Entity"]
	require.NotNil(t, union)
	require.Equal(t, []string{"User"}, union.PossibleTypes)

	entities := sch.GetQueryType().Field("_entities")
	require.NotNil(t, entities)
	require.True(t, entities.Async)
	require.Equal(t, "_Any", schema.GetNamedType(entities.Arguments[0].Type))

	require.NotNil(t, sch.GetQueryType().Field("_service"))

	user := sch.Types["User"]
	require.Len(t, user.Directives, 1)
	require.Equal(t, "key", user.Directives[0].Name)
	require.Equal(t, "id", user.Directives[0].Args[0].Value)

	sdl := schema.Render(sch)
	require.Contains(t, sdl, `type User @key(fields: "id")`)
	require.Contains(t, sdl, "union _Entity = User")
}

func TestUploadOnQueryRejected(t *testing.T) {
	set := greeterFixture()
	// flip SetAvatar to QUERY: Upload input must be rejected at synthesis
	for _, svc := range set.File[0].Service {
		for _, m := range svc.Method {
			if m.GetName() == "SetAvatar" {
				m.Options = methodOptions(methodAnn{kind: gqlopt.KindQuery, name: "setAvatar"})
			}
		}
	}
	pool, err := descpool.FromSet(set)
	require.NoError(t, err)
	_, err = Build(pool, Options{})
	require.ErrorIs(t, err, ErrSchemaSynthesis)
}

func TestSubscriptionRequiresServerStreaming(t *testing.T) {
	set := greeterFixture()
	for _, svc := range set.File[0].Service {
		for _, m := range svc.Method {
			if m.GetName() == "WatchGreetings" {
				m.ServerStreaming = nil
			}
		}
	}
	pool, err := descpool.FromSet(set)
	require.NoError(t, err)
	_, err = Build(pool, Options{})
	require.ErrorIs(t, err, ErrSchemaSynthesis)
}

func TestMissingPluckFieldRejected(t *testing.T) {
	set := greeterFixture()
	for _, svc := range set.File[0].Service {
		for _, m := range svc.Method {
			if m.GetName() == "ListUsers" {
				m.Options = methodOptions(methodAnn{kind: gqlopt.KindQuery, name: "users", pluck: "nope"})
			}
		}
	}
	pool, err := descpool.FromSet(set)
	require.NoError(t, err)
	_, err = Build(pool, Options{})
	require.ErrorIs(t, err, ErrSchemaSynthesis)
}

func TestRequiredAndOmitConflict(t *testing.T) {
	set := greeterFixture()
	for _, m := range set.File[0].MessageType {
		if m.GetName() == "User" {
			for _, f := range m.Field {
				if f.GetName() == "secret" {
					f.Options = fieldOptions(fieldAnn{required: true, omit: true})
				}
			}
		}
	}
	pool, err := descpool.FromSet(set)
	require.NoError(t, err)
	_, err = Build(pool, Options{})
	require.ErrorIs(t, err, ErrSchemaSynthesis)
}

func TestServiceAllowlist(t *testing.T) {
	br, err := Build(loadFixture(t), Options{Services: []string{"hello.Greeter"}})
	require.NoError(t, err)
	require.NotNil(t, br.Schema.GetQueryType().Field("hello"))
	require.Nil(t, br.Schema.GetQueryType().Field("users"))
}

func TestEntityKeyMustExist(t *testing.T) {
	set := greeterFixture()
	for _, m := range set.File[0].MessageType {
		if m.GetName() == "User" {
			m.Options = entityOptions([]string{"missing"}, false, true)
		}
	}
	pool, err := descpool.FromSet(set)
	require.NoError(t, err)
	_, err = Build(pool, Options{Federation: true})
	require.ErrorIs(t, err, ErrSchemaSynthesis)
}
