package introspection

import (
	schema "github.com/protogate/protogate/internal/schema"
)

// extend copies the schema and grafts the introspection types plus the
// Query.__schema/__type fields onto it. The original schema stays frozen.
func extend(original *schema.Schema) *schema.Schema {
	extended := &schema.Schema{
		QueryType:        original.QueryType,
		MutationType:     original.MutationType,
		SubscriptionType: original.SubscriptionType,
		Types:            make(map[string]*schema.Type, len(original.Types)+8),
		Directives:       original.Directives,
		Description:      original.Description,
	}
	for name, typ := range original.Types {
		extended.Types[name] = typ
	}

	extended.Types["__Schema"] = schemaType()
	extended.Types["__Type"] = typeType()
	extended.Types["__Field"] = fieldType()
	extended.Types["__InputValue"] = inputValueType()
	extended.Types["__EnumValue"] = enumValueType()
	extended.Types["__Directive"] = directiveType()
	extended.Types["__TypeKind"] = typeKindEnum()
	extended.Types["__DirectiveLocation"] = directiveLocationEnum()

	queryType := extended.GetQueryType()
	if queryType == nil {
		return extended
	}
	queryCopy := &schema.Type{
		Name:        queryType.Name,
		Kind:        queryType.Kind,
		Description: queryType.Description,
		Fields:      make([]*schema.Field, len(queryType.Fields)),
		Interfaces:  queryType.Interfaces,
		Directives:  queryType.Directives,
	}
	copy(queryCopy.Fields, queryType.Fields)
	queryCopy.Fields = append(queryCopy.Fields,
		&schema.Field{
			Name:        "__schema",
			Description: "Access the current type schema of this server.",
			Type:        schema.NonNullType(schema.NamedType("__Schema")),
		},
		&schema.Field{
			Name:        "__type",
			Description: "Request the type information of a single type.",
			Arguments: []*schema.InputValue{{
				Name: "name",
				Type: schema.NonNullType(schema.NamedType("String")),
			}},
			Type: schema.NamedType("__Type"),
		},
	)
	extended.Types[queryCopy.Name] = queryCopy
	return extended
}

func schemaType() *schema.Type {
	return &schema.Type{
		Name:        "__Schema",
		Kind:        schema.TypeKindObject,
		Description: "A GraphQL Schema defines the capabilities of a GraphQL server.",
		Fields: []*schema.Field{
			{Name: "description", Type: schema.NamedType("String")},
			{Name: "types", Type: schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("__Type"))))},
			{Name: "queryType", Type: schema.NonNullType(schema.NamedType("__Type"))},
			{Name: "mutationType", Type: schema.NamedType("__Type")},
			{Name: "subscriptionType", Type: schema.NamedType("__Type")},
			{Name: "directives", Type: schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("__Directive"))))},
		},
	}
}

func typeType() *schema.Type {
	return &schema.Type{
		Name:        "__Type",
		Kind:        schema.TypeKindObject,
		Description: "The fundamental unit of any GraphQL Schema is the type.",
		Fields: []*schema.Field{
			{Name: "kind", Type: schema.NonNullType(schema.NamedType("__TypeKind"))},
			{Name: "name", Type: schema.NamedType("String")},
			{Name: "description", Type: schema.NamedType("String")},
			{
				Name:      "fields",
				Arguments: []*schema.InputValue{{Name: "includeDeprecated", Type: schema.NamedType("Boolean"), DefaultValue: false}},
				Type:      schema.ListType(schema.NonNullType(schema.NamedType("__Field"))),
			},
			{Name: "interfaces", Type: schema.ListType(schema.NonNullType(schema.NamedType("__Type")))},
			{Name: "possibleTypes", Type: schema.ListType(schema.NonNullType(schema.NamedType("__Type")))},
			{
				Name:      "enumValues",
				Arguments: []*schema.InputValue{{Name: "includeDeprecated", Type: schema.NamedType("Boolean"), DefaultValue: false}},
				Type:      schema.ListType(schema.NonNullType(schema.NamedType("__EnumValue"))),
			},
			{
				Name:      "inputFields",
				Arguments: []*schema.InputValue{{Name: "includeDeprecated", Type: schema.NamedType("Boolean"), DefaultValue: false}},
				Type:      schema.ListType(schema.NonNullType(schema.NamedType("__InputValue"))),
			},
			{Name: "ofType", Type: schema.NamedType("__Type")},
			{Name: "specifiedByURL", Type: schema.NamedType("String")},
		},
	}
}

func fieldType() *schema.Type {
	return &schema.Type{
		Name: "__Field",
		Kind: schema.TypeKindObject,
		Fields: []*schema.Field{
			{Name: "name", Type: schema.NonNullType(schema.NamedType("String"))},
			{Name: "description", Type: schema.NamedType("String")},
			{
				Name:      "args",
				Arguments: []*schema.InputValue{{Name: "includeDeprecated", Type: schema.NamedType("Boolean"), DefaultValue: false}},
				Type:      schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("__InputValue")))),
			},
			{Name: "type", Type: schema.NonNullType(schema.NamedType("__Type"))},
			{Name: "isDeprecated", Type: schema.NonNullType(schema.NamedType("Boolean"))},
			{Name: "deprecationReason", Type: schema.NamedType("String")},
		},
	}
}

func inputValueType() *schema.Type {
	return &schema.Type{
		Name: "__InputValue",
		Kind: schema.TypeKindObject,
		Fields: []*schema.Field{
			{Name: "name", Type: schema.NonNullType(schema.NamedType("String"))},
			{Name: "description", Type: schema.NamedType("String")},
			{Name: "type", Type: schema.NonNullType(schema.NamedType("__Type"))},
			{Name: "defaultValue", Type: schema.NamedType("String")},
			{Name: "isDeprecated", Type: schema.NonNullType(schema.NamedType("Boolean"))},
			{Name: "deprecationReason", Type: schema.NamedType("String")},
		},
	}
}

func enumValueType() *schema.Type {
	return &schema.Type{
		Name: "__EnumValue",
		Kind: schema.TypeKindObject,
		Fields: []*schema.Field{
			{Name: "name", Type: schema.NonNullType(schema.NamedType("String"))},
			{Name: "description", Type: schema.NamedType("String")},
			{Name: "isDeprecated", Type: schema.NonNullType(schema.NamedType("Boolean"))},
			{Name: "deprecationReason", Type: schema.NamedType("String")},
		},
	}
}

func directiveType() *schema.Type {
	return &schema.Type{
		Name: "__Directive",
		Kind: schema.TypeKindObject,
		Fields: []*schema.Field{
			{Name: "name", Type: schema.NonNullType(schema.NamedType("String"))},
			{Name: "description", Type: schema.NamedType("String")},
			{Name: "isRepeatable", Type: schema.NonNullType(schema.NamedType("Boolean"))},
			{Name: "locations", Type: schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("__DirectiveLocation"))))},
			{
				Name:      "args",
				Arguments: []*schema.InputValue{{Name: "includeDeprecated", Type: schema.NamedType("Boolean"), DefaultValue: false}},
				Type:      schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("__InputValue")))),
			},
		},
	}
}

func typeKindEnum() *schema.Type {
	return &schema.Type{
		Name: "__TypeKind",
		Kind: schema.TypeKindEnum,
		EnumValues: []*schema.EnumValue{
			{Name: "SCALAR"}, {Name: "OBJECT"}, {Name: "INTERFACE"}, {Name: "UNION"},
			{Name: "ENUM"}, {Name: "INPUT_OBJECT"}, {Name: "LIST"}, {Name: "NON_NULL"},
		},
	}
}

func directiveLocationEnum() *schema.Type {
	return &schema.Type{
		Name: "__DirectiveLocation",
		Kind: schema.TypeKindEnum,
		EnumValues: []*schema.EnumValue{
			{Name: "QUERY"}, {Name: "MUTATION"}, {Name: "SUBSCRIPTION"}, {Name: "FIELD"},
			{Name: "FRAGMENT_DEFINITION"}, {Name: "FRAGMENT_SPREAD"}, {Name: "INLINE_FRAGMENT"},
			{Name: "VARIABLE_DEFINITION"}, {Name: "SCHEMA"}, {Name: "SCALAR"}, {Name: "OBJECT"},
			{Name: "FIELD_DEFINITION"}, {Name: "ARGUMENT_DEFINITION"}, {Name: "INTERFACE"},
			{Name: "UNION"}, {Name: "ENUM"}, {Name: "ENUM_VALUE"}, {Name: "INPUT_OBJECT"},
			{Name: "INPUT_FIELD_DEFINITION"},
		},
	}
}
