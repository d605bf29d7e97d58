package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	eventbus "github.com/protogate/protogate/internal/eventbus"
	events "github.com/protogate/protogate/internal/events"
	executor "github.com/protogate/protogate/internal/executor"
	language "github.com/protogate/protogate/internal/language"
	reqid "github.com/protogate/protogate/internal/reqid"
)

// graphql-ws frame types.
const (
	wsConnectionInit      = "connection_init"
	wsConnectionAck       = "connection_ack"
	wsConnectionTerminate = "connection_terminate"
	wsSubscribe           = "subscribe"
	wsStart               = "start" // legacy alias of subscribe
	wsData                = "data"
	wsError               = "error"
	wsComplete            = "complete"
	wsStop                = "stop" // legacy alias of complete (client side)
)

// outboundQueueSize bounds the per-connection outbound frame queue. A full
// queue blocks the producing subscription's delivery goroutine, which in
// turn pauses its gRPC stream.
const outboundQueueSize = 16

type wsFrame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// WSHandler serves GraphQL subscriptions over the graphql-ws sub-protocol.
type WSHandler struct {
	exec *executor.Executor
	opt  Options

	upgrader websocket.Upgrader
}

// NewWS creates the WebSocket handler.
func NewWS(exec *executor.Executor, opts ...Option) *WSHandler {
	op := Options{}
	for _, f := range opts {
		f(&op)
	}
	h := &WSHandler{exec: exec, opt: op}
	h.upgrader = websocket.Upgrader{
		Subprotocols: []string{"graphql-ws"},
		CheckOrigin: func(r *http.Request) bool {
			if len(op.CORS.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range op.CORS.AllowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx, _ = reqid.NewContext(ctx)
	s := &wsSession{
		handler: h,
		id:      uuid.NewString(),
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		out:     make(chan wsFrame, outboundQueueSize),
		subs:    map[string]*wsSubscription{},
	}
	eventbus.Publish(ctx, events.WSConnect{ConnectionID: s.id, RemoteAddr: r.RemoteAddr})
	start := time.Now()
	s.run()
	eventbus.Publish(ctx, events.WSDisconnect{ConnectionID: s.id, Duration: time.Since(start)})
}

// subscription lifecycle states; transitions are published as events.
type wsSubState int

const (
	subActive wsSubState = iota
	subCompleting
	subClosed
)

type wsSubscription struct {
	id      string
	field   string
	sub     *executor.Subscription
	state   wsSubState
	started time.Time
	done    chan struct{}
}

// wsSession owns one WebSocket connection: a single writer goroutine
// drains the bounded outbound queue, the read loop dispatches frames, and
// each live subscription forwards results through the queue.
type wsSession struct {
	handler *WSHandler
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	out     chan wsFrame

	mu   sync.Mutex
	subs map[string]*wsSubscription
}

func (s *wsSession) run() {
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for {
			select {
			case frame := <-s.out:
				if err := s.conn.WriteJSON(frame); err != nil {
					s.cancel()
					return
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()

	for {
		var frame wsFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			break
		}
		switch frame.Type {
		case wsConnectionInit:
			s.send(wsFrame{Type: wsConnectionAck})
		case wsSubscribe, wsStart:
			s.handleSubscribe(frame)
		case wsComplete, wsStop:
			s.completeSubscription(frame.ID)
		case wsConnectionTerminate:
			s.shutdown()
			writer.Wait()
			s.conn.Close()
			return
		default:
			s.sendError(frame.ID, "unsupported message type "+frame.Type)
		}
	}

	// Socket closed: cancel every downstream stream before returning.
	s.shutdown()
	writer.Wait()
	s.conn.Close()
}

// shutdown cancels all subscriptions and waits for their delivery
// goroutines to release upstream resources.
func (s *wsSession) shutdown() {
	s.cancel()
	s.mu.Lock()
	subs := make([]*wsSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.sub.Cancel()
		<-sub.done
	}
}

func (s *wsSession) handleSubscribe(frame wsFrame) {
	if frame.ID == "" {
		s.sendError("", "subscribe requires an id")
		return
	}
	s.mu.Lock()
	if _, active := s.subs[frame.ID]; active {
		s.mu.Unlock()
		s.sendError(frame.ID, "subscription id already active")
		return
	}
	s.mu.Unlock()

	var payload wsSubscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		s.sendError(frame.ID, "invalid subscribe payload")
		return
	}
	doc, err := language.ParseQuery(payload.Query)
	if err != nil {
		s.sendError(frame.ID, err.Error())
		return
	}

	sub, err := s.handler.exec.ExecuteSubscription(s.ctx, doc, payload.OperationName, payload.Variables)
	if err != nil {
		s.sendError(frame.ID, err.Error())
		return
	}

	ws := &wsSubscription{
		id:      frame.ID,
		sub:     sub,
		state:   subActive,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.subs[frame.ID] = ws
	s.mu.Unlock()
	eventbus.Publish(s.ctx, events.SubscriptionStart{ConnectionID: s.id, SubscriptionID: frame.ID})

	go s.deliver(ws)
}

// deliver forwards subscription results as data frames in upstream order,
// then acknowledges termination with a complete frame.
func (s *wsSession) deliver(ws *wsSubscription) {
	defer close(ws.done)
	var lastErr error
	for res := range ws.sub.C {
		if len(res.Errors) > 0 && res.Data == nil {
			lastErr = res.Errors[0]
			s.sendErrorResult(ws.id, res)
			continue
		}
		payload, err := json.Marshal(s.specPayload(res))
		if err != nil {
			continue
		}
		s.send(wsFrame{ID: ws.id, Type: wsData, Payload: payload})
		eventbus.Publish(s.ctx, events.SubscriptionData{ConnectionID: s.id, SubscriptionID: ws.id})
	}

	s.mu.Lock()
	ws.state = subClosed
	delete(s.subs, ws.id)
	s.mu.Unlock()

	s.send(wsFrame{ID: ws.id, Type: wsComplete})
	eventbus.Publish(s.ctx, events.SubscriptionFinish{
		ConnectionID:   s.id,
		SubscriptionID: ws.id,
		Err:            lastErr,
		Duration:       time.Since(ws.started),
	})
}

// completeSubscription handles a client complete frame: half-close the
// upstream stream and drain before the complete acknowledgment goes out.
func (s *wsSession) completeSubscription(id string) {
	s.mu.Lock()
	ws, ok := s.subs[id]
	if ok && ws.state == subActive {
		ws.state = subCompleting
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	ws.sub.Cancel()
}

func (s *wsSession) specPayload(res *executor.ExecutionResult) specResult {
	return toSpecResult(res, s.handler.opt.ErrorHook)
}

func (s *wsSession) sendErrorResult(id string, res *executor.ExecutionResult) {
	spec := s.specPayload(res)
	payload, err := json.Marshal(spec.Errors)
	if err != nil {
		return
	}
	s.send(wsFrame{ID: id, Type: wsError, Payload: payload})
}

func (s *wsSession) sendError(id, message string) {
	payload, _ := json.Marshal([]specError{{Message: message}})
	s.send(wsFrame{ID: id, Type: wsError, Payload: payload})
}

// send enqueues a frame; a full queue blocks the caller, which is the
// backpressure path for streaming producers.
func (s *wsSession) send(frame wsFrame) {
	select {
	case s.out <- frame:
	case <-s.ctx.Done():
	}
}
