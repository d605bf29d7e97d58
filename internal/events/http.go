// Package events defines the typed events the gateway publishes through the
// eventbus. Subscribers (otel tracing, zap logging) live at the edges.
package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when an HTTP request is received.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the handler completes.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}

// WSConnect is emitted when a WebSocket session is accepted.
type WSConnect struct {
	ConnectionID string
	RemoteAddr   string
}

// WSDisconnect is emitted when a WebSocket session ends.
type WSDisconnect struct {
	ConnectionID string
	Duration     time.Duration
}
