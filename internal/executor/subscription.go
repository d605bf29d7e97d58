package executor

import (
	"context"
	"errors"
	"fmt"
	"io"

	language "github.com/protogate/protogate/internal/language"
	schema "github.com/protogate/protogate/internal/schema"
)

// Subscription is a live subscription operation. Results arrives on C in
// upstream order; C closes after the source stream ends, errors, or the
// subscription is cancelled. Cancel is idempotent.
type Subscription struct {
	// C delivers one ExecutionResult per upstream message. A terminal error
	// payload, if any, is the last element before close.
	C <-chan *ExecutionResult

	cancel context.CancelFunc
}

// Cancel half-closes the upstream stream and stops delivery.
func (s *Subscription) Cancel() { s.cancel() }

// ExecuteSubscription validates a subscription operation, opens the backing
// stream via Runtime.ResolveStream, and completes every received value
// against the subscription field's type. Delivery order equals upstream
// send order.
func (e *Executor) ExecuteSubscription(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
) (*Subscription, error) {
	operation := getOperation(document, operationName)
	if operation == nil {
		return nil, fmt.Errorf("operation not found")
	}
	if operation.Operation != language.Subscription {
		return nil, fmt.Errorf("operation is not a subscription")
	}
	rootType := e.schema.GetSubscriptionType()
	if rootType == nil {
		return nil, fmt.Errorf("schema does not define a Subscription root")
	}

	coercedVariableValues, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return nil, err
	}

	// The source-stream step requires exactly one root field.
	probe := newExecutionState(e, ctx, document, coercedVariableValues)
	grouped := collectFields(probe, rootType, operation.SelectionSet)
	ordered := grouped.orderedFields()
	if len(ordered) != 1 {
		return nil, fmt.Errorf("subscription operations must select exactly one root field, got %d", len(ordered))
	}
	responseName := ordered[0].ResponseName
	fields := ordered[0].Fields
	fieldDef := rootType.Field(fields[0].Name)
	if fieldDef == nil {
		return nil, fmt.Errorf("Cannot query field '%s' on type '%s'", fields[0].Name, rootType.Name)
	}

	argState := newExecutionState(e, ctx, document, coercedVariableValues)
	args := coerceArgumentValues(fieldDef, fields[0].Arguments, coercedVariableValues, argState, Path{responseName})
	if len(argState.errors) > 0 {
		return nil, argState.errors[0]
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := e.runtime.ResolveStream(ctx, fields[0].Name, args)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan *ExecutionResult)
	sub := &Subscription{C: out, cancel: cancel}

	// Half-close the stream as soon as the subscription is cancelled so a
	// blocked Recv unwinds; the transport ties Recv to the stream's
	// lifetime, not the passed context.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-stop:
		}
	}()

	go func() {
		defer close(out)
		defer close(stop)
		defer stream.Close()
		for {
			value, err := stream.Recv(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return
				}
				res := &ExecutionResult{Errors: []GraphQLError{errorAt(err, Path{responseName})}}
				select {
				case out <- res:
				case <-ctx.Done():
				}
				return
			}
			res := e.completeSubscriptionEvent(ctx, document, coercedVariableValues, responseName, fields, fieldDef, value)
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// completeSubscriptionEvent runs normal value completion (including the
// depth-wise batch loop for nested resolver fields) for one stream event.
func (e *Executor) completeSubscriptionEvent(
	ctx context.Context,
	document *language.QueryDocument,
	variables map[string]any,
	responseName string,
	fields []*language.Field,
	fieldDef *schema.Field,
	value any,
) *ExecutionResult {
	state := newExecutionState(e, ctx, document, variables)
	responseRoot := make(map[string]any)

	completed := completeValue(state, fieldDef.Type, fields, value, Path{responseName})
	if isNullish(completed) {
		responseRoot[responseName] = nil
	} else {
		responseRoot[responseName] = completed
	}
	state.drain(responseRoot)

	return &ExecutionResult{Data: responseRoot, Errors: state.errors}
}
