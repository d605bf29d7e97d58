// Package gqlopt reads the gateway's custom options from descriptor option
// messages. The options are declared in proto/graphql.proto as extension
// number 1079 on ServiceOptions, MethodOptions, MessageOptions and
// FieldOptions.
//
// The extension types are never registered with the protobuf runtime, so
// after protodesc resolves a descriptor set the option payloads sit in the
// options message's unknown fields. The reader walks those bytes directly
// with protowire; any other extension number is ignored, as is a foreign
// extension that declares number 1079 under a different name.
package gqlopt

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/protogate/protogate/internal/descpool"
)

// ExtensionNumber is the single extension number used by graphql.proto.
const ExtensionNumber = 1079

// Option full names, used to reject foreign extensions sharing the number.
const (
	serviceOptionName = "graphql.service"
	methodOptionName  = "graphql.schema"
	entityOptionName  = "graphql.entity"
	fieldOptionName   = "graphql.field"
)

// Kind is the operation surface a method maps to.
type Kind int32

const (
	KindNone Kind = iota
	KindQuery
	KindMutation
	KindSubscription
	KindResolver
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "NONE"
	case KindQuery:
		return "QUERY"
	case KindMutation:
		return "MUTATION"
	case KindSubscription:
		return "SUBSCRIPTION"
	case KindResolver:
		return "RESOLVER"
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

// Service is the per-service annotation.
type Service struct {
	Host     string
	Insecure bool
}

// Method is the per-method annotation. Name is already defaulted to the
// lowerCamelCase RPC name when the option leaves it empty.
type Method struct {
	Kind             Kind
	Name             string
	RequestName      string
	ResponseRequired bool
	Pluck            string
}

// Field is the per-field annotation.
type Field struct {
	Required  bool
	Name      string
	Omit      bool
	External  bool
	Requires  string
	Provides  string
	Shareable bool
}

// Entity is the per-message federation annotation.
type Entity struct {
	Keys       []string
	Extend     bool
	Resolvable bool
}

// Reader decodes annotations against a descriptor pool.
type Reader struct {
	pool *descpool.Pool
}

func NewReader(pool *descpool.Pool) *Reader { return &Reader{pool: pool} }

// Service reads the (graphql.service) option; absence yields the zero value.
func (r *Reader) Service(sd protoreflect.ServiceDescriptor) (Service, error) {
	var out Service
	raw, err := r.extension(sd.Options(), "google.protobuf.ServiceOptions", serviceOptionName)
	if err != nil || raw == nil {
		return out, err
	}
	err = rangeFields(raw, func(num protowire.Number, _ protowire.Type, v wireValue) error {
		switch num {
		case 1:
			out.Host = v.str()
		case 2:
			out.Insecure = v.boolean()
		}
		return nil
	})
	return out, err
}

// Method reads the (graphql.schema) option. A method without the option
// reports KindNone and is skipped by the bridge.
func (r *Reader) Method(md protoreflect.MethodDescriptor) (Method, error) {
	out := Method{Name: LowerCamel(string(md.Name()))}
	raw, err := r.extension(md.Options(), "google.protobuf.MethodOptions", methodOptionName)
	if err != nil || raw == nil {
		return out, err
	}
	err = rangeFields(raw, func(num protowire.Number, _ protowire.Type, v wireValue) error {
		switch num {
		case 1:
			out.Kind = Kind(v.varint())
		case 2:
			if s := v.str(); s != "" {
				out.Name = s
			}
		case 3: // request
			return rangeFields(v.bytes, func(n protowire.Number, _ protowire.Type, rv wireValue) error {
				if n == 1 {
					out.RequestName = rv.str()
				}
				return nil
			})
		case 4: // response
			return rangeFields(v.bytes, func(n protowire.Number, _ protowire.Type, rv wireValue) error {
				switch n {
				case 1:
					out.ResponseRequired = rv.boolean()
				case 2:
					out.Pluck = rv.str()
				}
				return nil
			})
		}
		return nil
	})
	return out, err
}

// Field reads the (graphql.field) option; absence yields the zero value.
func (r *Reader) Field(fd protoreflect.FieldDescriptor) (Field, error) {
	var out Field
	raw, err := r.extension(fd.Options(), "google.protobuf.FieldOptions", fieldOptionName)
	if err != nil || raw == nil {
		return out, err
	}
	err = rangeFields(raw, func(num protowire.Number, _ protowire.Type, v wireValue) error {
		switch num {
		case 1:
			out.Required = v.boolean()
		case 2:
			out.Name = v.str()
		case 3:
			out.Omit = v.boolean()
		case 4:
			out.External = v.boolean()
		case 5:
			out.Requires = v.str()
		case 6:
			out.Provides = v.str()
		case 7:
			out.Shareable = v.boolean()
		}
		return nil
	})
	return out, err
}

// Entity reads the (graphql.entity) option. It returns nil when the message
// carries no entity annotation.
func (r *Reader) Entity(md protoreflect.MessageDescriptor) (*Entity, error) {
	raw, err := r.extension(md.Options(), "google.protobuf.MessageOptions", entityOptionName)
	if err != nil || raw == nil {
		return nil, err
	}
	out := &Entity{}
	err = rangeFields(raw, func(num protowire.Number, _ protowire.Type, v wireValue) error {
		switch num {
		case 1:
			out.Keys = append(out.Keys, v.str())
		case 2:
			out.Extend = v.boolean()
		case 3:
			out.Resolvable = v.boolean()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// extension collects the concatenated payload of extension 1079 from an
// options message's unknown fields. When the descriptor set itself declares
// a different extension under the same number, the payload belongs to that
// foreign extension and is ignored.
func (r *Reader) extension(opts proto.Message, extendee protoreflect.FullName, want protoreflect.FullName) ([]byte, error) {
	if opts == nil {
		return nil, nil
	}
	m := opts.ProtoReflect()
	if !m.IsValid() {
		return nil, nil
	}
	if r.pool != nil {
		if xd := r.pool.Extension(extendee, ExtensionNumber); xd != nil && xd.FullName() != want {
			return nil, nil
		}
	}
	var payload []byte
	raw := m.GetUnknown()
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return nil, fmt.Errorf("%w: malformed options for %s", descpool.ErrInvalidDescriptor, want)
		}
		raw = raw[n:]
		if num == ExtensionNumber && typ == protowire.BytesType {
			b, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return nil, fmt.Errorf("%w: malformed %s option", descpool.ErrInvalidDescriptor, want)
			}
			// Repeated occurrences of a message field merge by concatenation.
			payload = append(payload, b...)
			raw = raw[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, raw)
		if n < 0 {
			return nil, fmt.Errorf("%w: malformed options for %s", descpool.ErrInvalidDescriptor, want)
		}
		raw = raw[n:]
	}
	return payload, nil
}

// wireValue holds one decoded field value; exactly one member is meaningful
// for a given wire type.
type wireValue struct {
	num   uint64
	bytes []byte
}

func (v wireValue) varint() int64 { return int64(v.num) }
func (v wireValue) boolean() bool { return v.num != 0 }
func (v wireValue) str() string   { return string(v.bytes) }

// rangeFields walks a wire-format message, calling f for each field.
func rangeFields(raw []byte, f func(protowire.Number, protowire.Type, wireValue) error) error {
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return fmt.Errorf("%w: malformed annotation payload", descpool.ErrInvalidDescriptor)
		}
		raw = raw[n:]
		var v wireValue
		switch typ {
		case protowire.VarintType:
			v.num, n = protowire.ConsumeVarint(raw)
		case protowire.Fixed32Type:
			var u32 uint32
			u32, n = protowire.ConsumeFixed32(raw)
			v.num = uint64(u32)
		case protowire.Fixed64Type:
			v.num, n = protowire.ConsumeFixed64(raw)
		case protowire.BytesType:
			v.bytes, n = protowire.ConsumeBytes(raw)
		default:
			n = protowire.ConsumeFieldValue(num, typ, raw)
		}
		if n < 0 {
			return fmt.Errorf("%w: malformed annotation payload", descpool.ErrInvalidDescriptor)
		}
		raw = raw[n:]
		if err := f(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}
