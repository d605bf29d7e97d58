package gqlrt

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InputError rejects client-provided GraphQL input during translation. It
// aborts only the failing field; siblings proceed.
type InputError struct {
	Detail string
}

func (e *InputError) Error() string { return "invalid argument: " + e.Detail }

func (e *InputError) GraphQLExtensions() map[string]any {
	return map[string]any{"code": "BAD_USER_INPUT"}
}

func inputErrorf(format string, args ...any) *InputError {
	return &InputError{Detail: fmt.Sprintf(format, args...)}
}

// InternalError reports an invariant violation in the bridge itself. The
// client sees an opaque code.
type InternalError struct {
	Detail string
}

func (e *InternalError) Error() string { return "internal error: " + e.Detail }

func (e *InternalError) GraphQLExtensions() map[string]any {
	return map[string]any{"code": "INTERNAL_ERROR"}
}

// UpstreamError carries a backend gRPC status into the GraphQL errors
// array, preserving the numeric status code in extensions. INTERNAL and
// UNKNOWN statuses are redacted: the detail stays in logs (the client pool
// publishes the raw error), the client sees an opaque message.
type UpstreamError struct {
	Code     codes.Code
	Message  string
	redacted bool
}

func (e *UpstreamError) Error() string {
	if e.redacted {
		return "upstream call failed"
	}
	return e.Message
}

func (e *UpstreamError) GraphQLExtensions() map[string]any {
	code := "UPSTREAM_ERROR"
	if e.redacted {
		code = "INTERNAL_ERROR"
	}
	return map[string]any{"code": code, "GRPC_STATUS": int(e.Code)}
}

// translateTransport folds a transport error into the gateway's error
// kinds, passing through errors that already carry extensions (connect
// failures from the pool, input errors).
func translateTransport(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(interface{ GraphQLExtensions() map[string]any }); ok {
		return err
	}
	return translateUpstream(err)
}

// translateUpstream folds a gRPC call error into the gateway's error kinds.
// No automatic retries happen here: UNAVAILABLE and DEADLINE_EXCEEDED
// surface as-is and retrying is left to middleware.
func translateUpstream(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &UpstreamError{Code: codes.Unknown, redacted: true}
	}
	switch st.Code() {
	case codes.Internal, codes.Unknown:
		return &UpstreamError{Code: st.Code(), redacted: true}
	default:
		return &UpstreamError{Code: st.Code(), Message: st.Message()}
	}
}
