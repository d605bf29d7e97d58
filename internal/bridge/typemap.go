package bridge

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/protogate/protogate/internal/gqlopt"
	"github.com/protogate/protogate/internal/schema"
)

// typeMapper synthesizes GraphQL types from protobuf types. Construction is
// two-phase: a placeholder type is registered under its final name before
// any field is populated, so recursive and mutually-recursive message
// graphs terminate. Visiting order is the deterministic DFS the builder
// drives (services sorted by FQN, methods and fields in declaration order),
// so identical descriptor sets always produce identical schemas.
type typeMapper struct {
	reader     *gqlopt.Reader
	reg        *Registry
	sch        *schema.Schema
	federation bool

	// taken tracks names claimed per GraphQL namespace so collisions fall
	// back to the underscore-joined full name.
	taken map[string]protoreflect.FullName

	enumNames map[protoreflect.FullName]string
	// inputNames guards phase-2 population for input objects; outputs use
	// Registry.outputNames the same way.
	inputNames map[protoreflect.FullName]string
	// uploadMemo caches transitive Upload containment per input message.
	uploadMemo map[protoreflect.FullName]bool
}

func newTypeMapper(reader *gqlopt.Reader, reg *Registry, sch *schema.Schema, federation bool) *typeMapper {
	return &typeMapper{
		reader:     reader,
		reg:        reg,
		sch:        sch,
		federation: federation,
		taken:      map[string]protoreflect.FullName{},
		enumNames:  map[protoreflect.FullName]string{},
		inputNames: map[protoreflect.FullName]string{},
		uploadMemo: map[protoreflect.FullName]bool{},
	}
}

const inputSuffix = "_Input"

// claimName picks the short descriptor name, falling back to the full name
// with dots replaced by underscores when another descriptor got there first.
func (m *typeMapper) claimName(short string, full protoreflect.FullName) string {
	if owner, ok := m.taken[short]; !ok || owner == full {
		m.taken[short] = full
		return short
	}
	fallback := strings.ReplaceAll(string(full), ".", "_")
	m.taken[fallback] = full
	return fallback
}

// ensureOutput registers (or returns) the output object for a message.
func (m *typeMapper) ensureOutput(md protoreflect.MessageDescriptor) (string, error) {
	if name, ok := m.reg.outputNames[md.FullName()]; ok {
		return name, nil
	}
	name := m.claimName(string(md.Name()), md.FullName())

	t := &schema.Type{Name: name, Kind: schema.TypeKindObject}
	m.sch.AddType(t)
	m.reg.outputNames[md.FullName()] = name
	m.reg.outputMessages[name] = md

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		ann, err := m.reader.Field(fd)
		if err != nil {
			return "", err
		}
		m.reg.fieldOpts[fd.FullName()] = ann
		if ann.Omit {
			if ann.Required {
				return "", fmt.Errorf("%w: field %s is both required and omitted", ErrSchemaSynthesis, fd.FullName())
			}
			continue
		}
		gqlName := fieldName(fd, ann)
		ref, err := m.fieldTypeRef(fd, ann, false)
		if err != nil {
			return "", err
		}
		f := &schema.Field{Name: gqlName, Type: ref}
		if m.federation {
			f.Directives = fieldDirectives(ann)
		}
		t.Fields = append(t.Fields, f)
		m.reg.sourceFields[bindingKey{name, gqlName}] = fd
	}
	return name, nil
}

// ensureInput registers (or returns) the input object for a message. The
// name is the output name plus the input suffix, so messages used in both
// positions stay distinguishable.
func (m *typeMapper) ensureInput(md protoreflect.MessageDescriptor) (string, error) {
	if name, ok := m.inputNames[md.FullName()]; ok {
		return name, nil
	}
	base, err := m.outputBaseName(md)
	if err != nil {
		return "", err
	}
	name := base + inputSuffix

	t := &schema.Type{Name: name, Kind: schema.TypeKindInputObject}
	m.sch.AddType(t)
	m.inputNames[md.FullName()] = name
	m.reg.inputMessages[name] = md

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		ann, err := m.reader.Field(fd)
		if err != nil {
			return "", err
		}
		m.reg.fieldOpts[fd.FullName()] = ann
		if ann.Omit {
			continue
		}
		ref, err := m.fieldTypeRef(fd, ann, true)
		if err != nil {
			return "", err
		}
		t.InputFields = append(t.InputFields, &schema.InputValue{Name: fieldName(fd, ann), Type: ref})
	}
	return name, nil
}

// outputBaseName claims the message's base name without forcing the output
// object into existence; input-only messages still follow the same naming.
func (m *typeMapper) outputBaseName(md protoreflect.MessageDescriptor) (string, error) {
	if name, ok := m.reg.outputNames[md.FullName()]; ok {
		return name, nil
	}
	return m.claimName(string(md.Name()), md.FullName()), nil
}

func (m *typeMapper) ensureEnum(ed protoreflect.EnumDescriptor) string {
	if name, ok := m.enumNames[ed.FullName()]; ok {
		return name
	}
	name := m.claimName(string(ed.Name()), ed.FullName())
	t := &schema.Type{Name: name, Kind: schema.TypeKindEnum}
	values := ed.Values()
	for i := 0; i < values.Len(); i++ {
		t.EnumValues = append(t.EnumValues, &schema.EnumValue{Name: string(values.Get(i).Name())})
	}
	m.sch.AddType(t)
	m.enumNames[ed.FullName()] = name
	return name
}

// fieldTypeRef maps one proto field to its GraphQL type reference. The
// annotation's required flag controls Non-Null; on repeated fields it
// applies to the element, leaving the list itself nullable.
func (m *typeMapper) fieldTypeRef(fd protoreflect.FieldDescriptor, ann gqlopt.Field, input bool) (*schema.TypeRef, error) {
	base, err := m.scalarOrNamedRef(fd, input)
	if err != nil {
		return nil, err
	}
	if ann.Required {
		base = schema.NonNullType(base)
	}
	if fd.IsMap() || fd.Cardinality() == protoreflect.Repeated {
		return schema.ListType(base), nil
	}
	return base, nil
}

// scalarOrNamedRef applies the normative scalar table.
func (m *typeMapper) scalarOrNamedRef(fd protoreflect.FieldDescriptor, input bool) (*schema.TypeRef, error) {
	if fd.IsMap() {
		// map<K,V> surfaces as a list of its synthetic entry message
		// ({key, value}) in both positions.
		if input {
			name, err := m.ensureInput(fd.Message())
			if err != nil {
				return nil, err
			}
			return schema.NamedType(name), nil
		}
		name, err := m.ensureOutput(fd.Message())
		if err != nil {
			return nil, err
		}
		return schema.NamedType(name), nil
	}
	switch fd.Kind() {
	case protoreflect.StringKind:
		return schema.NamedType("String"), nil
	case protoreflect.BoolKind:
		return schema.NamedType("Boolean"), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return schema.NamedType("Int"), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		// 64-bit range exceeds GraphQL Int; both directions use strings
		return schema.NamedType("String"), nil
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return schema.NamedType("Float"), nil
	case protoreflect.BytesKind:
		if input {
			m.ensureUploadScalar()
			return schema.NamedType("Upload"), nil
		}
		return schema.NamedType("String"), nil
	case protoreflect.EnumKind:
		return schema.NamedType(m.ensureEnum(fd.Enum())), nil
	case protoreflect.MessageKind, protoreflect.GroupKind:
		if input {
			name, err := m.ensureInput(fd.Message())
			if err != nil {
				return nil, err
			}
			return schema.NamedType(name), nil
		}
		name, err := m.ensureOutput(fd.Message())
		if err != nil {
			return nil, err
		}
		return schema.NamedType(name), nil
	default:
		return nil, fmt.Errorf("%w: unsupported field kind %v on %s", ErrSchemaSynthesis, fd.Kind(), fd.FullName())
	}
}

func (m *typeMapper) ensureUploadScalar() {
	if _, ok := m.sch.Types["Upload"]; !ok {
		m.sch.AddType(schema.UploadType)
	}
}

// containsUpload reports whether a request message transitively carries a
// bytes field on its non-omitted input surface.
func (m *typeMapper) containsUpload(md protoreflect.MessageDescriptor) bool {
	if v, ok := m.uploadMemo[md.FullName()]; ok {
		return v
	}
	// pre-seed to cut recursion on cyclic graphs
	m.uploadMemo[md.FullName()] = false
	result := false
	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		ann, err := m.reader.Field(fd)
		if err != nil || ann.Omit {
			continue
		}
		switch {
		case fd.IsMap():
			if fd.MapValue().Kind() == protoreflect.BytesKind {
				result = true
			} else if fd.MapValue().Kind() == protoreflect.MessageKind && m.containsUpload(fd.MapValue().Message()) {
				result = true
			}
		case fd.Kind() == protoreflect.BytesKind:
			result = true
		case fd.Kind() == protoreflect.MessageKind:
			if m.containsUpload(fd.Message()) {
				result = true
			}
		}
		if result {
			break
		}
	}
	m.uploadMemo[md.FullName()] = result
	return result
}

// fieldName applies the rename annotation, defaulting to lowerCamelCase.
func fieldName(fd protoreflect.FieldDescriptor, ann gqlopt.Field) string {
	return gqlopt.GraphQLFieldName(fd, ann)
}

// fieldDirectives mirrors the federation flags of a field annotation.
func fieldDirectives(ann gqlopt.Field) []*schema.AppliedDirective {
	var out []*schema.AppliedDirective
	if ann.External {
		out = append(out, &schema.AppliedDirective{Name: "external"})
	}
	if ann.Requires != "" {
		out = append(out, &schema.AppliedDirective{Name: "requires", Args: []schema.AppliedArgument{{Name: "fields", Value: ann.Requires}}})
	}
	if ann.Provides != "" {
		out = append(out, &schema.AppliedDirective{Name: "provides", Args: []schema.AppliedArgument{{Name: "fields", Value: ann.Provides}}})
	}
	if ann.Shareable {
		out = append(out, &schema.AppliedDirective{Name: "shareable"})
	}
	return out
}
