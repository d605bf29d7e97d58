package gqlopt

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
)

func protoString(s string) *string { return &s }
func protoInt32(n int32) *int32    { return &n }

// ext wraps an annotation payload as extension 1079 wire bytes.
func ext(payload []byte) []byte {
	out := protowire.AppendTag(nil, ExtensionNumber, protowire.BytesType)
	return protowire.AppendBytes(out, payload)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, []byte(s))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	if v {
		return protowire.AppendVarint(b, 1)
	}
	return protowire.AppendVarint(b, 0)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func TestLowerCamel(t *testing.T) {
	require.Equal(t, "sayHello", LowerCamel("SayHello"))
	require.Equal(t, "userId", LowerCamel("user_id"))
	require.Equal(t, "id", LowerCamel("id"))
	require.Equal(t, "x", LowerCamel("X"))
	require.Equal(t, "", LowerCamel(""))
}

func TestMethodAnnotation(t *testing.T) {
	// (graphql.schema) = {type: QUERY, name: "hello",
	//                     request: {name: "input"},
	//                     response: {required: true, pluck: "users"}}
	var payload []byte
	payload = appendVarintField(payload, 1, uint64(KindQuery))
	payload = appendStringField(payload, 2, "hello")
	var reqMsg []byte
	reqMsg = appendStringField(reqMsg, 1, "input")
	payload = protowire.AppendTag(payload, 3, protowire.BytesType)
	payload = protowire.AppendBytes(payload, reqMsg)
	var respMsg []byte
	respMsg = appendBoolField(respMsg, 1, true)
	respMsg = appendStringField(respMsg, 2, "users")
	payload = protowire.AppendTag(payload, 4, protowire.BytesType)
	payload = protowire.AppendBytes(payload, respMsg)

	opts := &descriptorpb.MethodOptions{}
	opts.ProtoReflect().SetUnknown(ext(payload))

	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("ann.proto"),
		Package: protoString("ann"),
		Syntax:  protoString("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{Name: protoString("Empty")}},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: protoString("Svc"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       protoString("SayHello"),
				InputType:  protoString(".ann.Empty"),
				OutputType: protoString(".ann.Empty"),
				Options:    opts,
			}},
		}},
	}
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}}
	files, err := protodesc.NewFiles(set)
	require.NoError(t, err)
	fd, err := files.FindFileByPath("ann.proto")
	require.NoError(t, err)
	md := fd.Services().Get(0).Methods().Get(0)

	reader := NewReader(nil)
	ann, err := reader.Method(md)
	require.NoError(t, err)
	require.Equal(t, KindQuery, ann.Kind)
	require.Equal(t, "hello", ann.Name)
	require.Equal(t, "input", ann.RequestName)
	require.True(t, ann.ResponseRequired)
	require.Equal(t, "users", ann.Pluck)
}

func TestMethodAnnotationDefaultsName(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("ann2.proto"),
		Package: protoString("ann2"),
		Syntax:  protoString("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{Name: protoString("Empty")}},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: protoString("Svc"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       protoString("ListUserPosts"),
				InputType:  protoString(".ann2.Empty"),
				OutputType: protoString(".ann2.Empty"),
			}},
		}},
	}
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}}
	files, err := protodesc.NewFiles(set)
	require.NoError(t, err)
	fd, err := files.FindFileByPath("ann2.proto")
	require.NoError(t, err)
	md := fd.Services().Get(0).Methods().Get(0)

	ann, err := NewReader(nil).Method(md)
	require.NoError(t, err)
	require.Equal(t, KindNone, ann.Kind)
	require.Equal(t, "listUserPosts", ann.Name)
}

func TestServiceFieldEntityAnnotations(t *testing.T) {
	var svcPayload []byte
	svcPayload = appendStringField(svcPayload, 1, "localhost:50051")
	svcPayload = appendBoolField(svcPayload, 2, true)
	svcOpts := &descriptorpb.ServiceOptions{}
	svcOpts.ProtoReflect().SetUnknown(ext(svcPayload))

	var fieldPayload []byte
	fieldPayload = appendBoolField(fieldPayload, 1, true)        // required
	fieldPayload = appendStringField(fieldPayload, 2, "userId")  // name
	fieldPayload = appendBoolField(fieldPayload, 4, true)        // external
	fieldPayload = appendStringField(fieldPayload, 5, "id")      // requires
	fieldPayload = appendBoolField(fieldPayload, 7, true)        // shareable
	fieldOpts := &descriptorpb.FieldOptions{}
	fieldOpts.ProtoReflect().SetUnknown(ext(fieldPayload))

	var entityPayload []byte
	entityPayload = appendStringField(entityPayload, 1, "id")
	entityPayload = appendStringField(entityPayload, 1, "org_id user_id")
	entityPayload = appendBoolField(entityPayload, 2, true) // extend
	entityPayload = appendBoolField(entityPayload, 3, true) // resolvable
	msgOpts := &descriptorpb.MessageOptions{}
	msgOpts.ProtoReflect().SetUnknown(ext(entityPayload))

	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("ann3.proto"),
		Package: protoString("ann3"),
		Syntax:  protoString("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name:    protoString("User"),
			Options: msgOpts,
			Field: []*descriptorpb.FieldDescriptorProto{{
				Name:     protoString("id"),
				JsonName: protoString("id"),
				Number:   protoInt32(1),
				Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
				Options:  fieldOpts,
			}},
		}},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:    protoString("Svc"),
			Options: svcOpts,
		}},
	}
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}}
	files, err := protodesc.NewFiles(set)
	require.NoError(t, err)
	fd, err := files.FindFileByPath("ann3.proto")
	require.NoError(t, err)

	reader := NewReader(nil)

	svcAnn, err := reader.Service(fd.Services().Get(0))
	require.NoError(t, err)
	require.Equal(t, "localhost:50051", svcAnn.Host)
	require.True(t, svcAnn.Insecure)

	user := fd.Messages().Get(0)
	fieldAnn, err := reader.Field(user.Fields().Get(0))
	require.NoError(t, err)
	require.True(t, fieldAnn.Required)
	require.Equal(t, "userId", fieldAnn.Name)
	require.False(t, fieldAnn.Omit)
	require.True(t, fieldAnn.External)
	require.Equal(t, "id", fieldAnn.Requires)
	require.True(t, fieldAnn.Shareable)

	entity, err := reader.Entity(user)
	require.NoError(t, err)
	require.NotNil(t, entity)
	require.Equal(t, []string{"id", "org_id user_id"}, entity.Keys)
	require.True(t, entity.Extend)
	require.True(t, entity.Resolvable)
}

func TestUnknownExtensionNumbersIgnored(t *testing.T) {
	// unrelated extension number: must not disturb decoding
	raw := protowire.AppendTag(nil, 5000, protowire.BytesType)
	raw = protowire.AppendBytes(raw, []byte("junk"))
	opts := &descriptorpb.MessageOptions{}
	opts.ProtoReflect().SetUnknown(raw)

	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("ann4.proto"),
		Package: protoString("ann4"),
		Syntax:  protoString("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name:    protoString("Plain"),
			Options: opts,
		}},
	}
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}}
	files, err := protodesc.NewFiles(set)
	require.NoError(t, err)
	fd, err := files.FindFileByPath("ann4.proto")
	require.NoError(t, err)

	entity, err := NewReader(nil).Entity(fd.Messages().Get(0))
	require.NoError(t, err)
	require.Nil(t, entity)
}
