package bridge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/protogate/protogate/internal/gqlopt"
	"github.com/protogate/protogate/internal/schema"
)

// installFederation decorates entity types with their directives and wires
// the subgraph surface: the _Entity union, `_entities`, `_Any`, and
// `_service`.
func installFederation(reader *gqlopt.Reader, reg *Registry, sch *schema.Schema) error {
	sch.AddType(schema.AnyType)
	sch.AddType(schema.FieldSetType)
	for _, d := range schema.FederationDirectives() {
		sch.AddDirective(d)
	}

	// Deterministic entity order: sorted GraphQL type names of the
	// registered output objects.
	names := make([]string, 0, len(reg.outputMessages))
	for name := range reg.outputMessages {
		names = append(names, name)
	}
	sort.Strings(names)

	var union []string
	for _, typeName := range names {
		md := reg.outputMessages[typeName]
		ann, err := reader.Entity(md)
		if err != nil {
			return err
		}
		if ann == nil || len(ann.Keys) == 0 {
			continue
		}
		t := sch.Types[typeName]

		entity := &Entity{
			TypeName:   typeName,
			Message:    md,
			Extend:     ann.Extend,
			Resolvable: ann.Resolvable,
		}
		for _, key := range ann.Keys {
			tokens := strings.Fields(key)
			for _, tok := range tokens {
				if t.Field(tok) == nil {
					return fmt.Errorf("%w: entity %s: key field %q does not exist", ErrSchemaSynthesis, typeName, tok)
				}
			}
			entity.Keys = append(entity.Keys, tokens)

			args := []schema.AppliedArgument{{Name: "fields", Value: strings.Join(tokens, " ")}}
			if !ann.Resolvable {
				args = append(args, schema.AppliedArgument{Name: "resolvable", Value: false})
			}
			t.Directives = append(t.Directives, &schema.AppliedDirective{Name: "key", Args: args})
		}
		if ann.Extend {
			t.Directives = append(t.Directives, &schema.AppliedDirective{Name: "extends"})
		}
		reg.entities[typeName] = entity
		if ann.Resolvable {
			union = append(union, typeName)
		}
	}

	query := sch.Types["Query"]
	if query == nil {
		return fmt.Errorf("%w: federation requires a Query root", ErrSchemaSynthesis)
	}

	sch.AddType(&schema.Type{
		Name:   "_Service",
		Kind:   schema.TypeKindObject,
		Fields: []*schema.Field{{Name: "sdl", Type: schema.NonNullType(schema.NamedType("String"))}},
	})
	query.Fields = append(query.Fields, &schema.Field{
		Name: "_service",
		Type: schema.NonNullType(schema.NamedType("_Service")),
	})

	if len(union) > 0 {
		sch.AddType(&schema.Type{Name: "_Entity", Kind: schema.TypeKindUnion, PossibleTypes: union})
		entitiesField := &schema.Field{
			Name: "_entities",
			Type: schema.NonNullType(schema.ListType(schema.NamedType("_Entity"))),
			Arguments: []*schema.InputValue{{
				Name: "representations",
				Type: schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("_Any")))),
			}},
			Async: true,
		}
		query.Fields = append(query.Fields, entitiesField)
		reg.bindings[bindingKey{"Query", "_entities"}] = &Binding{
			ObjectType: "Query",
			Field:      "_entities",
			Kind:       BindEntities,
		}
	}
	return nil
}
