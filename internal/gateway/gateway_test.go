package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/protogate/protogate/internal/gqlopt"
)

func protoString(s string) *string { return &s }
func protoInt32(n int32) *int32    { return &n }

func queryMethodOptions(name string) *descriptorpb.MethodOptions {
	var payload []byte
	payload = protowire.AppendTag(payload, 1, protowire.VarintType)
	payload = protowire.AppendVarint(payload, uint64(gqlopt.KindQuery))
	payload = protowire.AppendTag(payload, 2, protowire.BytesType)
	payload = protowire.AppendBytes(payload, []byte(name))

	raw := protowire.AppendTag(nil, gqlopt.ExtensionNumber, protowire.BytesType)
	raw = protowire.AppendBytes(raw, payload)
	opts := &descriptorpb.MethodOptions{}
	opts.ProtoReflect().SetUnknown(raw)
	return opts
}

func descriptorBytes(t *testing.T) []byte {
	t.Helper()
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("ping.proto"),
		Package: protoString("ping"),
		Syntax:  protoString("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: protoString("PingRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{{
					Name:     protoString("text"),
					JsonName: protoString("text"),
					Number:   protoInt32(1),
					Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
				}},
			},
			{
				Name: protoString("PingReply"),
				Field: []*descriptorpb.FieldDescriptorProto{{
					Name:     protoString("echo"),
					JsonName: protoString("echo"),
					Number:   protoInt32(1),
					Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
				}},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: protoString("Pinger"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       protoString("Ping"),
				InputType:  protoString(".ping.PingRequest"),
				OutputType: protoString(".ping.PingReply"),
				Options:    queryMethodOptions("ping"),
			}},
		}},
	}
	raw, err := proto.Marshal(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}})
	require.NoError(t, err)
	return raw
}

func TestBuildServesSchema(t *testing.T) {
	gw, err := NewBuilder().
		WithDescriptorSetBytes(descriptorBytes(t)).
		WithBackend(Backend{Service: "ping.Pinger", Endpoint: "localhost:1", Insecure: true}).
		Build(context.Background())
	require.NoError(t, err)
	defer gw.Close()

	require.Contains(t, gw.SDL(), "type Query")
	require.Contains(t, gw.SDL(), "ping(text: String): PingReply")
	require.NotNil(t, gw.Schema().GetQueryType().Field("ping"))
}

func TestBuildRequiresDescriptor(t *testing.T) {
	_, err := NewBuilder().Build(context.Background())
	require.Error(t, err)
}

func TestBuildRejectsBadDescriptor(t *testing.T) {
	_, err := NewBuilder().
		WithDescriptorSetBytes([]byte("not a descriptor set")).
		Build(context.Background())
	require.Error(t, err)
}

func TestBuildRejectsUnknownEntityMethod(t *testing.T) {
	_, err := NewBuilder().
		WithDescriptorSetBytes(descriptorBytes(t)).
		WithEntityMapping(EntityMapping{TypeName: "User", Service: "ping.Pinger", Method: "Nope", KeyField: "ids"}).
		Build(context.Background())
	require.Error(t, err)
}

func TestHandlerRoutesIntrospection(t *testing.T) {
	gw, err := NewBuilder().
		WithDescriptorSetBytes(descriptorBytes(t)).
		Build(context.Background())
	require.NoError(t, err)
	defer gw.Close()

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	body := `{"query":"{ __schema { queryType { name } } }"}`
	resp, err := http.Post(srv.URL+"/graphql", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Data struct {
			Schema struct {
				QueryType struct {
					Name string `json:"name"`
				} `json:"queryType"`
			} `json:"__schema"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "Query", out.Data.Schema.QueryType.Name)
}

func TestMiddlewareOrdering(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	gw, err := NewBuilder().
		WithDescriptorSetBytes(descriptorBytes(t)).
		WithMiddleware(mk("outer")).
		WithMiddleware(mk("inner")).
		Build(context.Background())
	require.NoError(t, err)
	defer gw.Close()

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ __typename }"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	gw.Handler().ServeHTTP(w, req)

	require.Equal(t, []string{"outer", "inner"}, order)
}
