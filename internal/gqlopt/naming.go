package gqlopt

import (
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// GraphQLFieldName resolves the exposed name of a proto field: the
// annotation's rename when present, otherwise lowerCamelCase of the proto
// name.
func GraphQLFieldName(fd protoreflect.FieldDescriptor, ann Field) string {
	if ann.Name != "" {
		return ann.Name
	}
	return LowerCamel(string(fd.Name()))
}

// LowerCamel converts a proto identifier (RPC or field name) to the GraphQL
// default: "SayHello" -> "sayHello", "user_id" -> "userId".
func LowerCamel(name string) string {
	if name == "" {
		return name
	}
	parts := strings.Split(name, "_")
	var b strings.Builder
	wrote := false
	for _, part := range parts {
		if part == "" {
			continue
		}
		if !wrote {
			b.WriteString(strings.ToLower(part[:1]))
			b.WriteString(part[1:])
			wrote = true
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	if !wrote {
		return name
	}
	return b.String()
}
