// Package logging subscribes a zap logger to the gateway's events.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	eventbus "github.com/protogate/protogate/internal/eventbus"
	events "github.com/protogate/protogate/internal/events"
	reqid "github.com/protogate/protogate/internal/reqid"
)

// New builds a production zap logger at the given level ("debug", "info",
// "warn", "error").
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Attach subscribes log emitters for every gateway event. The returned
// function unsubscribes them.
func Attach(log *zap.Logger) (detach func()) {
	var unsubs []func()
	sub := func(u func()) { unsubs = append(unsubs, u) }

	sub(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		log.Info("http request",
			zap.Int64("request_id", rid),
			zap.String("method", e.Request.Method),
			zap.String("path", e.Request.URL.Path),
			zap.Int("status", e.Status),
			zap.Duration("duration", e.Duration),
		)
	}))
	sub(eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
		rid, _ := reqid.FromContext(ctx)
		fields := []zap.Field{
			zap.Int64("request_id", rid),
			zap.String("operation_name", e.OperationName),
			zap.String("operation_type", e.OperationType),
			zap.Duration("duration", e.Duration),
			zap.Int("errors", len(e.Errors)),
		}
		if len(e.Errors) > 0 {
			fields = append(fields, zap.Errors("error_details", e.Errors))
			log.Warn("graphql operation", fields...)
			return
		}
		log.Info("graphql operation", fields...)
	}))
	sub(eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientFinish) {
		rid, _ := reqid.FromContext(ctx)
		fields := []zap.Field{
			zap.Int64("request_id", rid),
			zap.String("service", e.Service),
			zap.String("method", e.Method),
			zap.String("target", e.Target),
			zap.Bool("streaming", e.Streaming),
			zap.Stringer("code", e.Code),
			zap.Duration("duration", e.Duration),
		}
		if e.Err != nil {
			// redacted statuses stay fully visible here
			fields = append(fields, zap.Error(e.Err))
			log.Warn("grpc call", fields...)
			return
		}
		log.Debug("grpc call", fields...)
	}))
	sub(eventbus.Subscribe(func(ctx context.Context, e events.WSConnect) {
		log.Info("ws connect", zap.String("connection_id", e.ConnectionID), zap.String("remote", e.RemoteAddr))
	}))
	sub(eventbus.Subscribe(func(ctx context.Context, e events.WSDisconnect) {
		log.Info("ws disconnect", zap.String("connection_id", e.ConnectionID), zap.Duration("duration", e.Duration))
	}))
	sub(eventbus.Subscribe(func(ctx context.Context, e events.SubscriptionStart) {
		log.Info("subscription start",
			zap.String("connection_id", e.ConnectionID),
			zap.String("subscription_id", e.SubscriptionID),
		)
	}))
	sub(eventbus.Subscribe(func(ctx context.Context, e events.SubscriptionFinish) {
		fields := []zap.Field{
			zap.String("connection_id", e.ConnectionID),
			zap.String("subscription_id", e.SubscriptionID),
			zap.Duration("duration", e.Duration),
		}
		if e.Err != nil {
			fields = append(fields, zap.Error(e.Err))
		}
		log.Info("subscription finish", fields...)
	}))

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
