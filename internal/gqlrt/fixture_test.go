package gqlrt

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/protogate/protogate/internal/descpool"
	"github.com/protogate/protogate/internal/gqlopt"
)

func protoString(s string) *string { return &s }
func protoInt32(n int32) *int32    { return &n }
func protoBool(b bool) *bool       { return &b }

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, []byte(s))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	n := uint64(0)
	if v {
		n = 1
	}
	return protowire.AppendVarint(b, n)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessageField(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

func extBytes(payload []byte) []byte {
	out := protowire.AppendTag(nil, gqlopt.ExtensionNumber, protowire.BytesType)
	return protowire.AppendBytes(out, payload)
}

type methodAnn struct {
	kind         gqlopt.Kind
	name         string
	requestName  string
	respRequired bool
	pluck        string
}

func methodOptions(a methodAnn) *descriptorpb.MethodOptions {
	var payload []byte
	payload = appendVarintField(payload, 1, uint64(a.kind))
	if a.name != "" {
		payload = appendStringField(payload, 2, a.name)
	}
	if a.requestName != "" {
		payload = appendMessageField(payload, 3, appendStringField(nil, 1, a.requestName))
	}
	if a.respRequired || a.pluck != "" {
		var resp []byte
		if a.respRequired {
			resp = appendBoolField(resp, 1, true)
		}
		if a.pluck != "" {
			resp = appendStringField(resp, 2, a.pluck)
		}
		payload = appendMessageField(payload, 4, resp)
	}
	opts := &descriptorpb.MethodOptions{}
	opts.ProtoReflect().SetUnknown(extBytes(payload))
	return opts
}

func serviceOptions(host string, insecure bool) *descriptorpb.ServiceOptions {
	payload := appendStringField(nil, 1, host)
	if insecure {
		payload = appendBoolField(payload, 2, true)
	}
	opts := &descriptorpb.ServiceOptions{}
	opts.ProtoReflect().SetUnknown(extBytes(payload))
	return opts
}

type fieldAnn struct {
	required bool
	name     string
	omit     bool
}

func fieldOptions(a fieldAnn) *descriptorpb.FieldOptions {
	var payload []byte
	if a.required {
		payload = appendBoolField(payload, 1, true)
	}
	if a.name != "" {
		payload = appendStringField(payload, 2, a.name)
	}
	if a.omit {
		payload = appendBoolField(payload, 3, true)
	}
	opts := &descriptorpb.FieldOptions{}
	opts.ProtoReflect().SetUnknown(extBytes(payload))
	return opts
}

func entityOptions(keys []string, extend, resolvable bool) *descriptorpb.MessageOptions {
	var payload []byte
	for _, k := range keys {
		payload = appendStringField(payload, 1, k)
	}
	if extend {
		payload = appendBoolField(payload, 2, true)
	}
	if resolvable {
		payload = appendBoolField(payload, 3, true)
	}
	opts := &descriptorpb.MessageOptions{}
	opts.ProtoReflect().SetUnknown(extBytes(payload))
	return opts
}

func scalarField(name string, num int32, t descriptorpb.FieldDescriptorProto_Type, opts *descriptorpb.FieldOptions) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     protoString(name),
		JsonName: protoString(gqlopt.LowerCamel(name)),
		Number:   protoInt32(num),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     t.Enum(),
		Options:  opts,
	}
}

func repeatedField(name string, num int32, t descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:     protoString(name),
		JsonName: protoString(gqlopt.LowerCamel(name)),
		Number:   protoInt32(num),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
		Type:     t.Enum(),
	}
	if typeName != "" {
		f.TypeName = protoString(typeName)
	}
	return f
}

func messageField(name string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     protoString(name),
		JsonName: protoString(gqlopt.LowerCamel(name)),
		Number:   protoInt32(num),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: protoString(typeName),
	}
}

// greeterFixture is the descriptor set most bridge and runtime tests run
// against: two annotated services over a small user domain, including an
// entity, a map field, 64-bit and bytes fields, and a streaming method.
func greeterFixture() *descriptorpb.FileDescriptorSet {
	labelsEntry := &descriptorpb.DescriptorProto{
		Name:    protoString("LabelsEntry"),
		Options: &descriptorpb.MessageOptions{MapEntry: protoBool(true)},
		Field: []*descriptorpb.FieldDescriptorProto{
			scalarField("key", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil),
			scalarField("value", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil),
		},
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("hello.proto"),
		Package: protoString("hello"),
		Syntax:  protoString("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: protoString("Mood"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: protoString("MOOD_UNSPECIFIED"), Number: protoInt32(0)},
				{Name: protoString("HAPPY"), Number: protoInt32(1)},
				{Name: protoString("GRUMPY"), Number: protoInt32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name:  protoString("HelloRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{scalarField("name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil)},
			},
			{
				Name:  protoString("HelloReply"),
				Field: []*descriptorpb.FieldDescriptorProto{scalarField("message", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil)},
			},
			{
				Name:  protoString("Badge"),
				Field: []*descriptorpb.FieldDescriptorProto{scalarField("label", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil)},
			},
			{
				Name: protoString("UpdateGreetingRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil),
					scalarField("salutation", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil),
				},
			},
			{
				Name:       protoString("User"),
				Options:    entityOptions([]string{"id"}, false, true),
				NestedType: []*descriptorpb.DescriptorProto{labelsEntry},
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, fieldOptions(fieldAnn{required: true})),
					scalarField("name", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil),
					scalarField("score", 3, descriptorpb.FieldDescriptorProto_TYPE_INT64, nil),
					scalarField("mood", 4, descriptorpb.FieldDescriptorProto_TYPE_ENUM, nil),
					scalarField("avatar", 5, descriptorpb.FieldDescriptorProto_TYPE_BYTES, nil),
					repeatedField("labels", 6, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, ".hello.User.LabelsEntry"),
					repeatedField("tags", 7, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					scalarField("secret", 8, descriptorpb.FieldDescriptorProto_TYPE_STRING, fieldOptions(fieldAnn{omit: true})),
				},
			},
			{
				Name:  protoString("ListUsersRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{scalarField("limit", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32, nil)},
			},
			{
				Name: protoString("ListUsersResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					repeatedField("users", 1, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, ".hello.User"),
					scalarField("total", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32, nil),
				},
			},
			{
				Name: protoString("SetAvatarRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, nil),
					scalarField("avatar", 2, descriptorpb.FieldDescriptorProto_TYPE_BYTES, nil),
				},
			},
			{
				Name:  protoString("GetUsersRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{repeatedField("ids", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, "")},
			},
			{
				Name: protoString("GetUsersResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					repeatedField("users", 1, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, ".hello.User"),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name:    protoString("Greeter"),
				Options: serviceOptions("localhost:50051", true),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       protoString("SayHello"),
						InputType:  protoString(".hello.HelloRequest"),
						OutputType: protoString(".hello.HelloReply"),
						Options:    methodOptions(methodAnn{kind: gqlopt.KindQuery, name: "hello"}),
					},
					{
						Name:       protoString("UpdateGreeting"),
						InputType:  protoString(".hello.UpdateGreetingRequest"),
						OutputType: protoString(".hello.HelloReply"),
						Options:    methodOptions(methodAnn{kind: gqlopt.KindMutation, requestName: "input"}),
					},
					{
						Name:            protoString("WatchGreetings"),
						InputType:       protoString(".hello.HelloRequest"),
						OutputType:      protoString(".hello.HelloReply"),
						ServerStreaming: protoBool(true),
						Options:         methodOptions(methodAnn{kind: gqlopt.KindSubscription, name: "greetings"}),
					},
				},
			},
			{
				Name: protoString("UserService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       protoString("ListUsers"),
						InputType:  protoString(".hello.ListUsersRequest"),
						OutputType: protoString(".hello.ListUsersResponse"),
						Options:    methodOptions(methodAnn{kind: gqlopt.KindQuery, name: "users", pluck: "users"}),
					},
					{
						Name:       protoString("SetAvatar"),
						InputType:  protoString(".hello.SetAvatarRequest"),
						OutputType: protoString(".hello.User"),
						Options:    methodOptions(methodAnn{kind: gqlopt.KindMutation, name: "setAvatar"}),
					},
					{
						Name:       protoString("GetUserBadge"),
						InputType:  protoString(".hello.User"),
						OutputType: protoString(".hello.Badge"),
						Options:    methodOptions(methodAnn{kind: gqlopt.KindResolver, name: "badge"}),
					},
					{
						Name:       protoString("GetUsers"),
						InputType:  protoString(".hello.GetUsersRequest"),
						OutputType: protoString(".hello.GetUsersResponse"),
					},
				},
			},
		},
	}

	// enum field needs its type name once the enum is declared
	for _, m := range file.MessageType {
		if m.GetName() == "User" {
			for _, f := range m.Field {
				if f.GetName() == "mood" {
					f.TypeName = protoString(".hello.Mood")
				}
			}
		}
	}

	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}}
}

func loadFixture(t *testing.T) *descpool.Pool {
	t.Helper()
	pool, err := descpool.FromSet(greeterFixture())
	require.NoError(t, err)
	return pool
}
