package gqlrt

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/protogate/protogate/internal/bridge"
	"github.com/protogate/protogate/internal/executor"
	"github.com/protogate/protogate/internal/gqlopt"
)

// buildRequest reconstructs the method's request message from coerced
// GraphQL argument values. With a request wrapper configured, the single
// wrapper argument's object unpacks into the message.
func buildRequest(reg *bridge.Registry, input protoreflect.MessageDescriptor, args map[string]any, requestName string) (protoreflect.Message, error) {
	msg := dynamicpb.NewMessage(input)
	if requestName != "" {
		wrapped, ok := args[requestName]
		if ok && wrapped != nil {
			obj, isObj := wrapped.(map[string]any)
			if !isObj {
				return nil, inputErrorf("argument %q must be an input object", requestName)
			}
			if err := setFields(reg, msg, obj); err != nil {
				return nil, err
			}
		}
		return msg, nil
	}
	if err := setFields(reg, msg, args); err != nil {
		return nil, err
	}
	return msg, nil
}

// setFields writes GraphQL values into a dynamic message, matching proto
// fields by their exposed GraphQL name. Omitted fields never accept input.
func setFields(reg *bridge.Registry, msg protoreflect.Message, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	fields := msg.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		ann := reg.FieldAnnotation(fd)
		if ann.Omit {
			continue
		}
		v, ok := values[gqlopt.GraphQLFieldName(fd, ann)]
		if !ok || v == nil {
			continue
		}
		if err := setField(reg, msg, fd, v); err != nil {
			return err
		}
	}
	return nil
}

func setField(reg *bridge.Registry, msg protoreflect.Message, fd protoreflect.FieldDescriptor, v any) error {
	if fd.IsMap() {
		return setMapField(reg, msg, fd, v)
	}
	if fd.Cardinality() == protoreflect.Repeated {
		items, ok := v.([]any)
		if !ok {
			return inputErrorf("field %q expects a list", fd.JSONName())
		}
		list := msg.Mutable(fd).List()
		for _, item := range items {
			if item == nil {
				return inputErrorf("field %q rejects null list elements", fd.JSONName())
			}
			pv, err := singleValue(reg, fd, item)
			if err != nil {
				return err
			}
			list.Append(pv)
		}
		return nil
	}
	pv, err := singleValue(reg, fd, v)
	if err != nil {
		return err
	}
	msg.Set(fd, pv)
	return nil
}

// setMapField accepts the GraphQL shape of proto maps: a list of
// {key, value} entry objects.
func setMapField(reg *bridge.Registry, msg protoreflect.Message, fd protoreflect.FieldDescriptor, v any) error {
	entries, ok := v.([]any)
	if !ok {
		return inputErrorf("map field %q expects a list of {key, value} objects", fd.JSONName())
	}
	mp := msg.Mutable(fd).Map()
	keyFD := fd.MapKey()
	valFD := fd.MapValue()
	for _, e := range entries {
		obj, ok := e.(map[string]any)
		if !ok {
			return inputErrorf("map field %q entries must be objects", fd.JSONName())
		}
		kv, err := singleValue(reg, keyFD, obj["key"])
		if err != nil {
			return err
		}
		vv, err := singleValue(reg, valFD, obj["value"])
		if err != nil {
			return err
		}
		mp.Set(kv.MapKey(), vv)
	}
	return nil
}

// singleValue converts one GraphQL value to the proto field's kind with the
// bridge's coercion rules: 64-bit integers as decimal strings, bytes as
// Upload or base64, enums by name or number.
func singleValue(reg *bridge.Registry, fd protoreflect.FieldDescriptor, v any) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		if b, ok := v.(bool); ok {
			return protoreflect.ValueOfBool(b), nil
		}
	case protoreflect.StringKind:
		if s, ok := v.(string); ok {
			return protoreflect.ValueOfString(s), nil
		}
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		if n, ok := asInt64(v); ok {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return protoreflect.Value{}, inputErrorf("field %q: %d overflows int32", fd.JSONName(), n)
			}
			return protoreflect.ValueOfInt32(int32(n)), nil
		}
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		if n, ok := asInt64(v); ok {
			if n < 0 || n > math.MaxUint32 {
				return protoreflect.Value{}, inputErrorf("field %q: %d overflows uint32", fd.JSONName(), n)
			}
			return protoreflect.ValueOfUint32(uint32(n)), nil
		}
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		switch n := v.(type) {
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return protoreflect.Value{}, inputErrorf("field %q: %q is not a decimal int64", fd.JSONName(), n)
			}
			return protoreflect.ValueOfInt64(parsed), nil
		default:
			if i, ok := asInt64(v); ok {
				return protoreflect.ValueOfInt64(i), nil
			}
		}
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		switch n := v.(type) {
		case string:
			parsed, err := strconv.ParseUint(n, 10, 64)
			if err != nil {
				return protoreflect.Value{}, inputErrorf("field %q: %q is not a decimal uint64", fd.JSONName(), n)
			}
			return protoreflect.ValueOfUint64(parsed), nil
		default:
			if i, ok := asInt64(v); ok && i >= 0 {
				return protoreflect.ValueOfUint64(uint64(i)), nil
			}
		}
	case protoreflect.FloatKind:
		if f, ok := asFloat64(v); ok {
			return protoreflect.ValueOfFloat32(float32(f)), nil
		}
	case protoreflect.DoubleKind:
		if f, ok := asFloat64(v); ok {
			return protoreflect.ValueOfFloat64(f), nil
		}
	case protoreflect.BytesKind:
		switch b := v.(type) {
		case *Upload:
			return protoreflect.ValueOfBytes(b.Data), nil
		case Upload:
			return protoreflect.ValueOfBytes(b.Data), nil
		case []byte:
			return protoreflect.ValueOfBytes(b), nil
		case string:
			decoded, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return protoreflect.Value{}, inputErrorf("field %q: invalid base64: %v", fd.JSONName(), err)
			}
			return protoreflect.ValueOfBytes(decoded), nil
		}
	case protoreflect.EnumKind:
		switch e := v.(type) {
		case string:
			val := fd.Enum().Values().ByName(protoreflect.Name(e))
			if val == nil {
				return protoreflect.Value{}, inputErrorf("field %q: unknown enum value %q for %s", fd.JSONName(), e, fd.Enum().FullName())
			}
			return protoreflect.ValueOfEnum(val.Number()), nil
		default:
			if n, ok := asInt64(v); ok {
				return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n)), nil
			}
		}
	case protoreflect.MessageKind, protoreflect.GroupKind:
		if obj, ok := v.(map[string]any); ok {
			nested := dynamicpb.NewMessage(fd.Message())
			if err := setFields(reg, nested, obj); err != nil {
				return protoreflect.Value{}, err
			}
			return protoreflect.ValueOfMessage(nested), nil
		}
	}
	return protoreflect.Value{}, inputErrorf("field %q: unsupported value of type %T", fd.JSONName(), v)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// fieldValue converts a proto field value to a Go value for the executor.
// Messages stay lazy: the executor projects their fields through
// ResolveSync. Maps surface as entry-message lists sorted by key so one
// response is stable.
func fieldValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	if fd.IsMap() {
		type kv struct {
			key   string
			entry protoreflect.Message
		}
		var entries []kv
		entryDesc := fd.Message()
		v.Map().Range(func(mk protoreflect.MapKey, mv protoreflect.Value) bool {
			entry := dynamicpb.NewMessage(entryDesc)
			entry.Set(entryDesc.Fields().ByName("key"), mk.Value())
			entry.Set(entryDesc.Fields().ByName("value"), mv)
			entries = append(entries, kv{key: mk.String(), entry: entry})
			return true
		})
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
		out := make([]any, len(entries))
		for i, e := range entries {
			out[i] = e.entry
		}
		return out
	}
	if fd.Cardinality() == protoreflect.Repeated {
		lst := v.List()
		out := make([]any, lst.Len())
		for i := 0; i < lst.Len(); i++ {
			out[i] = scalarFieldValue(fd, lst.Get(i))
		}
		return out
	}
	return scalarFieldValue(fd, v)
}

// serializeLeaf renders a leaf value JSON-safe. Enum values are already
// symbolic names by the time they reach serialization.
func serializeLeaf(typeName string, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string, bool, int, int32, float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(v), nil
	case *Upload:
		return base64.StdEncoding.EncodeToString(v.Data), nil
	default:
		return nil, &InternalError{Detail: fmt.Sprintf("cannot serialize %T as %s", value, typeName)}
	}
}

func scalarFieldValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return v.Bool()
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return int32(v.Int())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return uint32(v.Uint())
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int()
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return v.Uint()
	case protoreflect.FloatKind:
		return float64(float32(v.Float()))
	case protoreflect.DoubleKind:
		return v.Float()
	case protoreflect.BytesKind:
		return []byte(v.Bytes())
	case protoreflect.EnumKind:
		if ev := fd.Enum().Values().ByNumber(v.Enum()); ev != nil {
			return string(ev.Name())
		}
		num := int32(v.Enum())
		return executor.LeafFallback{
			Value: strconv.FormatInt(int64(num), 10),
			Err:   &UpstreamError{Code: codes.Internal, redacted: true},
		}
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return v.Message()
	default:
		return nil
	}
}
