package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentflow/core"
)

// ErrConnectionClosed is returned when sending on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Turn is one scripted Generate call. Err, when set, is sent after the
// responses.
type Turn struct {
	Responses []Response
	Err       error
}

// MockModel is an in-memory Model useful for tests and examples. Scripted
// turns are consumed in order; once exhausted it answers with
// "Mock response to: <last user text>".
type MockModel struct {
	info Info

	mu       sync.Mutex
	turns    []Turn
	requests []Request

	// OnLiveSend, when set, produces the responses a live connection emits
	// after receiving content or a blob.
	OnLiveSend func(content *core.Content, blob *core.Blob) []Response

	conns []*MockConnection
}

// NewMockModel constructs a MockModel with tool and live support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true, SupportsLive: true},
	}
}

// Enqueue adds a scripted turn.
func (m *MockModel) Enqueue(responses ...Response) *MockModel {
	return m.EnqueueTurn(Turn{Responses: responses})
}

// EnqueueTurn adds a scripted turn with an optional trailing error.
func (m *MockModel) EnqueueTurn(t Turn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, t)

	return m
}

// Requests returns copies of the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.Clone()
	}

	return out
}

// Connections returns the live connections opened so far.
func (m *MockModel) Connections() []*MockConnection {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*MockConnection(nil), m.conns...)
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req.Clone())

	var turn Turn
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	} else {
		turn = Turn{Responses: m.fallback(req)}
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		for _, r := range turn.Responses {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- r:
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
		}
	}()

	return respCh, errCh
}

func (m *MockModel) fallback(req Request) []Response {
	var input string
	if n := len(req.Contents); n > 0 {
		input = req.Contents[n-1].Text()
	}

	full := fmt.Sprintf("Mock response to: %s", input)

	var out []Response

	if req.Stream {
		for _, r := range full {
			out = append(out, Response{Partial: true, Content: core.NewTextContent(core.RoleModel, string(r))})
		}
	}

	return append(out, Response{Content: core.NewTextContent(core.RoleModel, full), FinishReason: "stop"})
}

// Connect implements LiveModel.
func (m *MockModel) Connect(_ context.Context, req Request) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req.Clone())

	c := &MockConnection{
		out:    make(chan Response, 64),
		closed: make(chan struct{}),
		onSend: m.OnLiveSend,
	}
	m.conns = append(m.conns, c)

	return c, nil
}

// MockConnection is the live connection opened by MockModel.
type MockConnection struct {
	out    chan Response
	closed chan struct{}
	onSend func(*core.Content, *core.Blob) []Response

	mu       sync.Mutex
	history  []*core.Content
	contents []*core.Content
	blobs    []core.Blob
	once     sync.Once
}

// SendHistory implements Connection. A history ending with a user turn is
// answered like sent content.
func (c *MockConnection) SendHistory(ctx context.Context, history []*core.Content) error {
	c.mu.Lock()
	for _, h := range history {
		c.history = append(c.history, h.Clone())
	}
	c.mu.Unlock()

	if n := len(history); n > 0 && history[n-1].Role == core.RoleUser {
		return c.respond(ctx, history[n-1], nil)
	}

	return nil
}

// SendContent implements Connection.
func (c *MockConnection) SendContent(ctx context.Context, content *core.Content) error {
	c.mu.Lock()
	c.contents = append(c.contents, content.Clone())
	c.mu.Unlock()

	return c.respond(ctx, content, nil)
}

// SendRealtime implements Connection.
func (c *MockConnection) SendRealtime(ctx context.Context, blob core.Blob) error {
	c.mu.Lock()
	c.blobs = append(c.blobs, blob)
	c.mu.Unlock()

	return c.respond(ctx, nil, &blob)
}

func (c *MockConnection) respond(ctx context.Context, content *core.Content, blob *core.Blob) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	if c.onSend == nil {
		return nil
	}

	for _, r := range c.onSend(content, blob) {
		if err := c.Emit(ctx, r); err != nil {
			return err
		}
	}

	return nil
}

// Emit pushes a response to the receiver.
func (c *MockConnection) Emit(ctx context.Context, r Response) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.out <- r:
		return nil
	}
}

// Receive implements Connection.
func (c *MockConnection) Receive(ctx context.Context) (<-chan Response, <-chan error) {
	respCh := make(chan Response)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			case r := <-c.out:
				select {
				case respCh <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return respCh, errCh
}

// Close implements Connection.
func (c *MockConnection) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (c *MockConnection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// History returns the history sent on connect.
func (c *MockConnection) History() []*core.Content {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*core.Content(nil), c.history...)
}

// Contents returns the contents sent so far.
func (c *MockConnection) Contents() []*core.Content {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*core.Content(nil), c.contents...)
}

// Blobs returns the realtime blobs sent so far.
func (c *MockConnection) Blobs() []core.Blob {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]core.Blob(nil), c.blobs...)
}
