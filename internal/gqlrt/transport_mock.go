package gqlrt

import (
	"context"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// CallRecord captures one Invoke for assertions.
type CallRecord struct {
	Service string
	Method  protoreflect.MethodDescriptor
	// Request is a deep-cloned snapshot of the outgoing message.
	Request proto.Message
}

// MockTransport implements Transport with pre-seeded unary replies and
// scripted streams, recording every call. Safe for concurrent use.
type MockTransport struct {
	mu        sync.Mutex
	responses []protoreflect.Message
	errs      []error
	idx       int
	calls     []CallRecord
	streams   map[string]MessageStream
}

// NewMockTransport seeds unary responses returned in order.
func NewMockTransport(responses ...protoreflect.Message) *MockTransport {
	cp := make([]protoreflect.Message, len(responses))
	copy(cp, responses)
	return &MockTransport{responses: cp, streams: map[string]MessageStream{}}
}

// FailWith seeds a per-call error: call i fails with errs[i] when non-nil.
func (m *MockTransport) FailWith(errs ...error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append([]error(nil), errs...)
	return m
}

// StreamFor scripts the stream returned when the named method is opened.
func (m *MockTransport) StreamFor(methodFullName string, s MessageStream) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[methodFullName] = s
	return m
}

// Calls returns a snapshot of recorded invocations.
func (m *MockTransport) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallRecord(nil), m.calls...)
}

func (m *MockTransport) Invoke(ctx context.Context, service string, method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var reqClone proto.Message
	if request != nil {
		reqClone = proto.Clone(request.Interface())
	}
	m.calls = append(m.calls, CallRecord{Service: service, Method: method, Request: reqClone})

	i := m.idx
	m.idx++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.responses) {
		return nil, fmt.Errorf("mock transport: no response seeded for call %d", i)
	}
	return m.responses[i], nil
}

func (m *MockTransport) OpenStream(ctx context.Context, service string, method protoreflect.MethodDescriptor, request protoreflect.Message) (MessageStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reqClone proto.Message
	if request != nil {
		reqClone = proto.Clone(request.Interface())
	}
	m.calls = append(m.calls, CallRecord{Service: service, Method: method, Request: reqClone})
	s, ok := m.streams[string(method.FullName())]
	if !ok {
		return nil, fmt.Errorf("mock transport: no stream scripted for %s", method.FullName())
	}
	return s, nil
}

// MockStream replays scripted messages, then a terminal error (io.EOF by
// default).
type MockStream struct {
	mu       sync.Mutex
	messages []protoreflect.Message
	terminal error
	closed   bool
}

func NewMockStream(messages ...protoreflect.Message) *MockStream {
	return &MockStream{messages: append([]protoreflect.Message(nil), messages...), terminal: io.EOF}
}

// EndWith overrides the terminal error delivered after the messages drain.
func (s *MockStream) EndWith(err error) *MockStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal = err
	return s
}

// Closed reports whether the consumer released the stream.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockStream) Recv() (protoreflect.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if len(s.messages) == 0 {
		return nil, s.terminal
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
