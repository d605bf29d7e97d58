// Package introspection wraps a runtime and schema so the executor can
// answer __schema/__type queries alongside the bridged fields.
package introspection

import (
	"context"
	"fmt"
	"sort"

	executor "github.com/protogate/protogate/internal/executor"
	schema "github.com/protogate/protogate/internal/schema"
)

// Wrapper pairs the extended schema with the delegating runtime.
type Wrapper struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap extends sch with introspection types and returns a runtime that
// answers introspection fields itself and delegates everything else.
func Wrap(base executor.Runtime, sch *schema.Schema) *Wrapper {
	extended := extend(sch)
	return &Wrapper{
		Runtime: &runtime{base: base, schema: extended, original: sch},
		Schema:  extended,
	}
}

type runtime struct {
	base     executor.Runtime
	schema   *schema.Schema // extended
	original *schema.Schema // served to introspection queries
}

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case *schema.Schema:
		if v, ok := resolveSchemaField(src, field); ok {
			return v, nil
		}
	case *schema.Type:
		if v, ok := resolveTypeField(r.original, src, field, args); ok {
			return v, nil
		}
	case *schema.TypeRef:
		if v, ok := resolveTypeRefField(r.original, src, field, args); ok {
			return v, nil
		}
	case *schema.Field:
		if v, ok := resolveFieldField(src, field, args); ok {
			return v, nil
		}
	case *schema.InputValue:
		if v, ok := resolveInputValueField(src, field); ok {
			return v, nil
		}
	case *schema.EnumValue:
		if v, ok := resolveEnumValueField(src, field); ok {
			return v, nil
		}
	case *schema.Directive:
		if v, ok := resolveDirectiveField(src, field, args); ok {
			return v, nil
		}
	}

	if objectType == r.schema.QueryType && source == nil {
		switch field {
		case "__schema":
			return r.original, nil
		case "__type":
			name, _ := args["name"].(string)
			if name == "" {
				return nil, nil
			}
			return r.original.Types[name], nil
		}
	}

	return r.base.ResolveSync(ctx, objectType, field, source, args)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) ResolveStream(ctx context.Context, field string, args map[string]any) (executor.Stream, error) {
	return r.base.ResolveStream(ctx, field, args)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	switch value.(type) {
	case schema.TypeKind, schema.TypeRefKind:
		return fmt.Sprintf("%v", value), nil
	}
	return r.base.SerializeLeafValue(ctx, typ, value)
}

// --- field resolvers over the schema model ---

func resolveSchemaField(sch *schema.Schema, field string) (any, bool) {
	switch field {
	case "description":
		return nullableString(sch.Description), true
	case "types":
		out := make([]*schema.Type, 0, len(sch.Types))
		for _, t := range sch.Types {
			out = append(out, t)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, true
	case "queryType":
		return sch.GetQueryType(), true
	case "mutationType":
		return sch.GetMutationType(), true
	case "subscriptionType":
		return sch.GetSubscriptionType(), true
	case "directives":
		out := make([]*schema.Directive, 0, len(sch.Directives))
		for _, d := range sch.Directives {
			out = append(out, d)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, true
	}
	return nil, false
}

func resolveTypeField(sch *schema.Schema, t *schema.Type, field string, args map[string]any) (any, bool) {
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description":
		return nullableString(t.Description), true
	case "specifiedByURL":
		return nil, true
	case "fields":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, true
		}
		includeDeprecated := boolArg(args, "includeDeprecated")
		out := []*schema.Field{}
		for _, f := range t.Fields {
			if !includeDeprecated && f.IsDeprecated {
				continue
			}
			out = append(out, f)
		}
		return out, true
	case "interfaces":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, true
		}
		out := []*schema.Type{}
		for _, name := range t.Interfaces {
			if def := sch.Types[name]; def != nil {
				out = append(out, def)
			}
		}
		return out, true
	case "possibleTypes":
		if t.Kind != schema.TypeKindInterface && t.Kind != schema.TypeKindUnion {
			return nil, true
		}
		out := []*schema.Type{}
		for _, name := range t.PossibleTypes {
			if def := sch.Types[name]; def != nil {
				out = append(out, def)
			}
		}
		return out, true
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, true
		}
		includeDeprecated := boolArg(args, "includeDeprecated")
		out := []*schema.EnumValue{}
		for _, ev := range t.EnumValues {
			if !includeDeprecated && ev.IsDeprecated {
				continue
			}
			out = append(out, ev)
		}
		return out, true
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		out := []*schema.InputValue{}
		out = append(out, t.InputFields...)
		return out, true
	case "ofType":
		// Named types never wrap; wrappers surface as TypeRef nodes.
		return nil, true
	}
	return nil, false
}

func resolveTypeRefField(sch *schema.Schema, tr *schema.TypeRef, field string, args map[string]any) (any, bool) {
	switch field {
	case "kind":
		if tr.Kind == schema.TypeRefKindNamed {
			if def := sch.Types[tr.Named]; def != nil {
				return string(def.Kind), true
			}
		}
		return string(tr.Kind), true
	case "name":
		if tr.Kind != schema.TypeRefKindNamed {
			return nil, true
		}
		return tr.Named, true
	case "ofType":
		if tr.Kind == schema.TypeRefKindNonNull || tr.Kind == schema.TypeRefKindList {
			return tr.OfType, true
		}
		return nil, true
	default:
		if name := schema.GetNamedType(tr); name != "" {
			if def := sch.Types[name]; def != nil {
				return resolveTypeField(sch, def, field, args)
			}
		}
		return nil, true
	}
}

func resolveFieldField(f *schema.Field, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return f.Name, true
	case "description":
		return nullableString(f.Description), true
	case "args":
		includeDeprecated := boolArg(args, "includeDeprecated")
		out := []*schema.InputValue{}
		for _, a := range f.Arguments {
			if !includeDeprecated && a.IsDeprecated {
				continue
			}
			out = append(out, a)
		}
		return out, true
	case "type":
		return f.Type, true
	case "isDeprecated":
		return f.IsDeprecated, true
	case "deprecationReason":
		if f.IsDeprecated {
			return f.DeprecationReason, true
		}
		return nil, true
	}
	return nil, false
}

func resolveInputValueField(a *schema.InputValue, field string) (any, bool) {
	switch field {
	case "name":
		return a.Name, true
	case "description":
		return nullableString(a.Description), true
	case "type":
		return a.Type, true
	case "defaultValue":
		if a.DefaultValue == nil {
			return nil, true
		}
		return fmt.Sprintf("%v", a.DefaultValue), true
	case "isDeprecated":
		return a.IsDeprecated, true
	case "deprecationReason":
		if a.IsDeprecated {
			return a.DeprecationReason, true
		}
		return nil, true
	}
	return nil, false
}

func resolveEnumValueField(ev *schema.EnumValue, field string) (any, bool) {
	switch field {
	case "name":
		return ev.Name, true
	case "description":
		return nullableString(ev.Description), true
	case "isDeprecated":
		return ev.IsDeprecated, true
	case "deprecationReason":
		if ev.IsDeprecated {
			return ev.DeprecationReason, true
		}
		return nil, true
	}
	return nil, false
}

func resolveDirectiveField(d *schema.Directive, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return d.Name, true
	case "description":
		return nullableString(d.Description), true
	case "isRepeatable":
		return d.IsRepeatable, true
	case "locations":
		return d.Locations, true
	case "args":
		includeDeprecated := boolArg(args, "includeDeprecated")
		out := []*schema.InputValue{}
		for _, a := range d.Arguments {
			if !includeDeprecated && a.IsDeprecated {
				continue
			}
			out = append(out, a)
		}
		return out, true
	}
	return nil, false
}

func boolArg(args map[string]any, name string) bool {
	v, ok := args[name]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
