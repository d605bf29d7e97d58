// Package grpcpool maintains the gateway's named gRPC clients, keyed by
// fully-qualified service name. Entries dial lazily by default; eager
// entries handshake at registration and fail fast. Channels are multiplexed
// and shared across concurrent calls, and broken channels reconnect in the
// background with exponential backoff.
package grpcpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	grpcbackoff "google.golang.org/grpc/backoff"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	eventbus "github.com/protogate/protogate/internal/eventbus"
	events "github.com/protogate/protogate/internal/events"
)

// Mode selects when an entry establishes its channel.
type Mode int

const (
	// Lazy defers the handshake to the first call.
	Lazy Mode = iota
	// Eager performs the handshake at registration and fails fast.
	Eager
)

// Defaults apply to every entry that does not override them.
type Defaults struct {
	// Deadline is applied to unary calls whose context carries none.
	// Streams are bounded by their subscription lifetime instead.
	Deadline time.Duration
	// TLS is the client TLS configuration for non-insecure entries.
	TLS *tls.Config
}

// Option mutates pool construction.
type Option func(*Pool)

func WithDefaults(d Defaults) Option { return func(p *Pool) { p.defaults = d } }

// WithDialOptions appends extra grpc dial options to every entry.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(p *Pool) { p.dialOpts = append(p.dialOpts, opts...) }
}

// Pool is the shared client registry. All methods are safe for concurrent
// use; entries mutate only through Register.
type Pool struct {
	defaults Defaults
	dialOpts []grpc.DialOption

	mu      sync.RWMutex
	entries map[string]*entry
	sf      singleflight.Group
	closed  atomic.Bool
}

type entry struct {
	service  string
	endpoint string
	insecure bool
	tlsConf  *tls.Config
	mode     Mode

	mu           sync.Mutex
	conn         *grpc.ClientConn
	reconnecting atomic.Bool
}

func New(opts ...Option) *Pool {
	p := &Pool{entries: map[string]*entry{}}
	for _, f := range opts {
		f(p)
	}
	return p
}

// RegisterOption configures one entry.
type RegisterOption func(*entry)

// WithInsecure selects plaintext instead of TLS.
func WithInsecure() RegisterOption { return func(e *entry) { e.insecure = true } }

// WithTLS overrides the pool default TLS configuration.
func WithTLS(cfg *tls.Config) RegisterOption { return func(e *entry) { e.tlsConf = cfg } }

// WithMode selects lazy or eager connection establishment.
func WithMode(m Mode) RegisterOption { return func(e *entry) { e.mode = m } }

// Register adds a client for the service. Eager mode dials and waits for
// the channel to become ready, returning a *ConnectError on failure; lazy
// registration always succeeds.
func (p *Pool) Register(ctx context.Context, serviceFQN, endpoint string, opts ...RegisterOption) error {
	if p.closed.Load() {
		return fmt.Errorf("grpcpool: closed")
	}
	e := &entry{service: serviceFQN, endpoint: endpoint, tlsConf: p.defaults.TLS}
	for _, f := range opts {
		f(e)
	}

	p.mu.Lock()
	if _, exists := p.entries[serviceFQN]; exists {
		p.mu.Unlock()
		return fmt.Errorf("grpcpool: service %s already registered", serviceFQN)
	}
	p.entries[serviceFQN] = e
	p.mu.Unlock()

	if e.mode == Eager {
		if _, err := p.connect(ctx, e, true); err != nil {
			p.mu.Lock()
			delete(p.entries, serviceFQN)
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

// Get returns the client handle for a service, performing the lazy
// handshake on first use. Concurrent first calls share one dial.
func (p *Pool) Get(ctx context.Context, serviceFQN string) (*Client, error) {
	e := p.lookup(serviceFQN)
	if e == nil {
		return nil, &ConnectError{Service: serviceFQN, Err: fmt.Errorf("no client registered")}
	}
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		_, err, _ := p.sf.Do(serviceFQN, func() (any, error) {
			return p.connect(ctx, e, false)
		})
		if err != nil {
			return nil, err
		}
	}
	return &Client{pool: p, entry: e}, nil
}

func (p *Pool) lookup(serviceFQN string) *entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries[serviceFQN]
}

// connect creates the channel; when wait is true it blocks until the
// channel is ready (eager registration).
func (p *Pool) connect(ctx context.Context, e *entry, wait bool) (*grpc.ClientConn, error) {
	e.mu.Lock()
	if e.conn != nil {
		conn := e.conn
		e.mu.Unlock()
		return conn, nil
	}
	opts := make([]grpc.DialOption, 0, len(p.dialOpts)+2)
	if e.insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		cfg := e.tlsConf
		if cfg == nil {
			cfg = &tls.Config{}
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(cfg)))
	}
	opts = append(opts, grpc.WithConnectParams(grpc.ConnectParams{Backoff: reconnectBackoff}))
	opts = append(opts, p.dialOpts...)

	conn, err := grpc.NewClient(e.endpoint, opts...)
	if err != nil {
		e.mu.Unlock()
		return nil, &ConnectError{Service: e.service, Endpoint: e.endpoint, Err: err}
	}
	e.conn = conn
	e.mu.Unlock()

	if wait {
		if err := awaitReady(ctx, conn); err != nil {
			conn.Close()
			e.mu.Lock()
			e.conn = nil
			e.mu.Unlock()
			return nil, &ConnectError{Service: e.service, Endpoint: e.endpoint, Err: err}
		}
	}
	return conn, nil
}

// reconnectBackoff mirrors the documented schedule: base 100ms, cap 5s,
// with jitter.
var reconnectBackoff = grpcbackoff.Config{
	BaseDelay:  100 * time.Millisecond,
	Multiplier: 1.6,
	Jitter:     0.2,
	MaxDelay:   5 * time.Second,
}

// awaitReady drives the channel to Ready, polling state transitions under
// an exponential schedule.
func awaitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	for {
		s := conn.GetState()
		if s == connectivity.Ready {
			return nil
		}
		if s == connectivity.Shutdown {
			return fmt.Errorf("channel shut down")
		}
		if s == connectivity.TransientFailure {
			conn.Connect()
		}
		waitCtx, cancel := context.WithTimeout(ctx, bo.NextBackOff())
		changed := conn.WaitForStateChange(waitCtx, s)
		cancel()
		if !changed && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close tears down every channel. In-flight calls fail with Unavailable.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		e.mu.Lock()
		if e.conn != nil {
			_ = e.conn.Close()
			e.conn = nil
		}
		e.mu.Unlock()
	}
	p.entries = map[string]*entry{}
	return nil
}

// Client is a handle on one pool entry.
type Client struct {
	pool  *Pool
	entry *entry
}

// Endpoint reports the entry's target, for diagnostics.
func (c *Client) Endpoint() string { return c.entry.endpoint }

// Invoke issues a unary call with a dynamic request/response pair. When the
// context has no deadline the pool default applies.
func (c *Client) Invoke(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error) {
	conn, err := c.ready()
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && c.pool.defaults.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.pool.defaults.Deadline)
		defer cancel()
	}

	fullMethod := fullMethodName(method)
	resp := dynamicpb.NewMessage(method.Output())

	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{Service: c.entry.service, Method: string(method.Name()), Target: c.entry.endpoint})
	err = conn.Invoke(ctx, fullMethod, request.Interface(), resp)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		Service:  c.entry.service,
		Method:   string(method.Name()),
		Target:   c.entry.endpoint,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		c.entry.kickReconnect(err)
		return nil, err
	}
	return resp, nil
}

// InvokeStream opens a server-streaming call. The returned stream is
// cancellable through its Close method or the context.
func (c *Client) InvokeStream(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (*ServerStream, error) {
	conn, err := c.ready()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)

	desc := &grpc.StreamDesc{StreamName: string(method.Name()), ServerStreams: true}
	cs, err := conn.NewStream(ctx, desc, fullMethodName(method))
	if err != nil {
		cancel()
		c.entry.kickReconnect(err)
		return nil, err
	}
	if err := cs.SendMsg(request.Interface()); err != nil {
		cancel()
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		cancel()
		return nil, err
	}
	eventbus.Publish(ctx, events.GRPCClientStart{Service: c.entry.service, Method: string(method.Name()), Target: c.entry.endpoint, Streaming: true})
	return &ServerStream{
		entry:  c.entry,
		pool:   c.pool,
		method: method,
		cs:     cs,
		cancel: cancel,
		start:  time.Now(),
		ctx:    ctx,
	}, nil
}

func (c *Client) ready() (*grpc.ClientConn, error) {
	if c.pool.closed.Load() {
		return nil, fmt.Errorf("grpcpool: closed")
	}
	c.entry.mu.Lock()
	conn := c.entry.conn
	c.entry.mu.Unlock()
	if conn == nil {
		return nil, &ConnectError{Service: c.entry.service, Endpoint: c.entry.endpoint, Err: fmt.Errorf("channel not established")}
	}
	return conn, nil
}

// kickReconnect nudges a failed channel back toward Ready in the
// background. gRPC performs its own backoff dialing; this just makes sure a
// transient-failure channel does not idle forever, and bounds the nudge
// loop with the documented schedule.
func (e *entry) kickReconnect(callErr error) {
	if !isTransportFailure(callErr) {
		return
	}
	if e.reconnecting.Swap(true) {
		return
	}
	go func() {
		defer e.reconnecting.Store(false)
		e.mu.Lock()
		conn := e.conn
		e.mu.Unlock()
		if conn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = awaitReady(ctx, conn)
	}()
}

func fullMethodName(method protoreflect.MethodDescriptor) string {
	return fmt.Sprintf("/%s/%s", method.Parent().FullName(), method.Name())
}

// ServerStream wraps a server-streaming call over dynamic messages.
type ServerStream struct {
	entry  *entry
	pool   *Pool
	method protoreflect.MethodDescriptor
	cs     grpc.ClientStream
	cancel context.CancelFunc
	start  time.Time
	ctx    context.Context

	closeOnce sync.Once
}

// Recv returns the next message, or io.EOF when the server completes.
func (s *ServerStream) Recv() (protoreflect.Message, error) {
	msg := dynamicpb.NewMessage(s.method.Output())
	if err := s.cs.RecvMsg(msg); err != nil {
		s.finish(err)
		return nil, err
	}
	return msg, nil
}

// Close half-closes the stream from the client side and releases the call.
func (s *ServerStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		eventbus.Publish(s.ctx, events.GRPCClientFinish{
			Service:   s.entry.service,
			Method:    string(s.method.Name()),
			Target:    s.entry.endpoint,
			Streaming: true,
			Duration:  time.Since(s.start),
		})
	})
	return nil
}

func (s *ServerStream) finish(err error) {
	if err == io.EOF {
		// normal stream completion
		err = nil
	}
	s.closeOnce.Do(func() {
		eventbus.Publish(s.ctx, events.GRPCClientFinish{
			Service:   s.entry.service,
			Method:    string(s.method.Name()),
			Target:    s.entry.endpoint,
			Streaming: true,
			Code:      status.Code(err),
			Err:       err,
			Duration:  time.Since(s.start),
		})
		s.cancel()
	})
}
