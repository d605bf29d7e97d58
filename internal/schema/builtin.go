package schema

var stringType = &Type{
	Name:        "String",
	Kind:        TypeKindScalar,
	Description: "The `String` scalar type represents textual data, represented as UTF-8 character sequences.",
}

var intType = &Type{
	Name:        "Int",
	Kind:        TypeKindScalar,
	Description: "The `Int` scalar type represents non-fractional signed whole numeric values.",
}

var floatType = &Type{
	Name:        "Float",
	Kind:        TypeKindScalar,
	Description: "The `Float` scalar type represents signed double-precision fractional values.",
}

var booleanType = &Type{
	Name:        "Boolean",
	Kind:        TypeKindScalar,
	Description: "The `Boolean` scalar type represents `true` or `false`.",
}

var idType = &Type{
	Name:        "ID",
	Kind:        TypeKindScalar,
	Description: "The `ID` scalar type represents a unique identifier, often used to refetch an object or as a key for caching.",
}

// UploadType is the multipart file scalar. Valid only as a mutation input;
// the bridge enforces that during synthesis.
var UploadType = &Type{
	Name:        "Upload",
	Kind:        TypeKindScalar,
	Description: "The `Upload` scalar type represents a file attached through a multipart request.",
}

// AnyType carries federation entity representations.
var AnyType = &Type{
	Name:        "_Any",
	Kind:        TypeKindScalar,
	Description: "The `_Any` scalar type carries entity representations for `_entities`.",
}

// FieldSetType is the federation field-selection scalar used by @key and friends.
var FieldSetType = &Type{
	Name:        "FieldSet",
	Kind:        TypeKindScalar,
	Description: "A selection of fields expressed as a string, e.g. \"id\" or \"orgId userId\".",
}

var builtinScalars = []*Type{stringType, intType, floatType, booleanType, idType}

var includeDirective = &Directive{
	Name:        "include",
	Description: "Directs the executor to include this field or fragment only when the `if` argument is true.",
	Arguments: []*InputValue{{
		Name:        "if",
		Description: "Included when true.",
		Type:        NonNullType(NamedType("Boolean")),
	}},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

var skipDirective = &Directive{
	Name:        "skip",
	Description: "Directs the executor to skip this field or fragment when the `if` argument is true.",
	Arguments: []*InputValue{{
		Name:        "if",
		Description: "Skipped when true.",
		Type:        NonNullType(NamedType("Boolean")),
	}},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

var builtinDirectives = []*Directive{includeDirective, skipDirective}

// FederationDirectives are the Apollo Federation v2 directive definitions the
// bridge installs when federation is enabled.
func FederationDirectives() []*Directive {
	fieldSet := NonNullType(NamedType("FieldSet"))
	return []*Directive{
		{
			Name: "key",
			Arguments: []*InputValue{
				{Name: "fields", Type: fieldSet},
				{Name: "resolvable", Type: NamedType("Boolean"), DefaultValue: true},
			},
			Locations:    []string{"OBJECT", "INTERFACE"},
			IsRepeatable: true,
		},
		{Name: "extends", Locations: []string{"OBJECT", "INTERFACE"}},
		{
			Name:      "external",
			Locations: []string{"FIELD_DEFINITION", "OBJECT"},
		},
		{
			Name:      "requires",
			Arguments: []*InputValue{{Name: "fields", Type: fieldSet}},
			Locations: []string{"FIELD_DEFINITION"},
		},
		{
			Name:      "provides",
			Arguments: []*InputValue{{Name: "fields", Type: fieldSet}},
			Locations: []string{"FIELD_DEFINITION"},
		},
		{
			Name:      "shareable",
			Locations: []string{"OBJECT", "FIELD_DEFINITION"},
		},
	}
}
