package grpcpool

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ConnectError reports a transport that could not be established. Eager
// registration surfaces it at startup; lazy dials surface it per call with
// the UPSTREAM_UNAVAILABLE extensions code.
type ConnectError struct {
	Service  string
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("grpcpool: connect %s: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("grpcpool: connect %s (%s): %v", e.Service, e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// GraphQLExtensions implements the executor's extensions hook.
func (e *ConnectError) GraphQLExtensions() map[string]any {
	return map[string]any{"code": "UPSTREAM_UNAVAILABLE"}
}

// isTransportFailure reports whether a call error indicates the channel
// itself is broken, as opposed to an application-level status.
func isTransportFailure(err error) bool {
	return status.Code(err) == codes.Unavailable
}
