package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// GRPCClientStart is emitted before a gRPC client call.
type GRPCClientStart struct {
	Service   string
	Method    string
	Target    string
	Streaming bool
}

// GRPCClientFinish is emitted after a gRPC client call (or stream) ends.
type GRPCClientFinish struct {
	Service   string
	Method    string
	Target    string
	Streaming bool
	Code      codes.Code
	Err       error
	Duration  time.Duration
}
