// Package schema holds the in-memory GraphQL schema model the gateway
// synthesizes from protobuf descriptors. The model is immutable after the
// bridge finishes building it.
package schema

// Schema is the complete GraphQL schema.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type // all named types keyed by name
	Directives       map[string]*Directive
	Description      string
}

// GetQueryType returns the root query type (nil if absent).
func (s *Schema) GetQueryType() *Type { return s.Types[s.QueryType] }

// GetMutationType returns the root mutation type (nil if absent).
func (s *Schema) GetMutationType() *Type { return s.Types[s.MutationType] }

// GetSubscriptionType returns the root subscription type (nil if absent).
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// NewSchema creates an empty schema pre-populated with the builtin scalars
// and the @include/@skip directives.
func NewSchema() *Schema {
	s := &Schema{
		Types:      map[string]*Type{},
		Directives: map[string]*Directive{},
	}
	for _, t := range builtinScalars {
		s.Types[t.Name] = t
	}
	for _, d := range builtinDirectives {
		s.Directives[d.Name] = d
	}
	return s
}

// AddType registers t and returns the schema for chaining.
func (s *Schema) AddType(t *Type) *Schema {
	s.Types[t.Name] = t
	return s
}

// AddDirective registers a directive definition.
func (s *Schema) AddDirective(d *Directive) *Schema {
	s.Directives[d.Name] = d
	return s
}

// TypeKind represents the kind of a GraphQL type.
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// Type is a named GraphQL type.
type Type struct {
	Name          string
	Kind          TypeKind
	Description   string
	Fields        []*Field      // OBJECT, INTERFACE
	Interfaces    []string      // OBJECT, INTERFACE
	PossibleTypes []string      // UNION, INTERFACE
	EnumValues    []*EnumValue  // ENUM
	InputFields   []*InputValue // INPUT_OBJECT
	Directives    []*AppliedDirective
}

// Field returns the named field of an object or interface type, or nil.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Field is a field on an object or interface type.
type Field struct {
	Name        string
	Description string
	Type        *TypeRef
	Arguments   []*InputValue
	// Async marks the field as resolver/loader-backed: the executor defers
	// it into the depth's batch instead of resolving from the source value.
	Async             bool
	Directives        []*AppliedDirective
	IsDeprecated      bool
	DeprecationReason string
}

// EnumValue is one value of an enum type.
type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

// InputValue is an argument or input-object field.
type InputValue struct {
	Name              string
	Description       string
	Type              *TypeRef
	DefaultValue      any
	IsDeprecated      bool
	DeprecationReason string
}

// Directive is a directive definition.
type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
}

// AppliedDirective is a directive use site (e.g. @key(fields: "id")).
// Argument order is the declaration order and is preserved in SDL output.
type AppliedDirective struct {
	Name string
	Args []AppliedArgument
}

// AppliedArgument is one named argument of an applied directive.
type AppliedArgument struct {
	Name  string
	Value any
}

// TypeRef references a type, possibly wrapped in List/NonNull.
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // List and NonNull
	Named  string   // Named
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

// IsNonNull reports whether the type is wrapped with Non-Null.
func IsNonNull(t *TypeRef) bool { return t != nil && t.Kind == TypeRefKindNonNull }

// IsList reports whether the type is a list, possibly under a Non-Null.
func IsList(t *TypeRef) bool {
	if t == nil {
		return false
	}
	if t.Kind == TypeRefKindList {
		return true
	}
	return t.Kind == TypeRefKindNonNull && t.OfType != nil && t.OfType.Kind == TypeRefKindList
}

// Unwrap removes one layer of Non-Null or List wrapping.
func Unwrap(t *TypeRef) *TypeRef {
	if t != nil && (t.Kind == TypeRefKindNonNull || t.Kind == TypeRefKindList) {
		return t.OfType
	}
	return t
}

// GetNamedType returns the innermost named type.
func GetNamedType(t *TypeRef) string {
	for t != nil {
		if t.Named != "" {
			return t.Named
		}
		t = t.OfType
	}
	return ""
}
