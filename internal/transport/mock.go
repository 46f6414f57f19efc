package transport

import (
	"io"
	"sync"
)

var _ Channel = (*MockChannel)(nil)

// MockChannel is an in-memory Channel for tests: it records every outbound
// frame in send order, reports a controllable buffered amount, and lets the
// test inject inbound events.
type MockChannel struct {
	mu       sync.Mutex
	sent     []Message
	buffered int
	closed   bool

	// SendHook, when set, observes every outbound frame after it is
	// recorded; tests use it to grow the buffered amount as frames queue.
	SendHook func(Message)

	onMessage func(Message)
	onOpen    func()
	onClose   func()
	onError   func(error)
}

// NewMockChannel creates an open mock channel with zero buffered bytes.
func NewMockChannel() *MockChannel {
	return &MockChannel{}
}

func (c *MockChannel) SendText(s string) error {
	return c.record(Message{Data: []byte(s)})
}

func (c *MockChannel) Send(p []byte) error {
	buf := make([]byte, len(p))
	copy(buf, p)
	return c.record(Message{Binary: true, Data: buf})
}

func (c *MockChannel) record(msg Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return io.ErrClosedPipe
	}
	c.sent = append(c.sent, msg)
	hook := c.SendHook
	c.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (c *MockChannel) BufferedAmount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// SetBufferedAmount sets the value BufferedAmount reports.
func (c *MockChannel) SetBufferedAmount(n int) {
	c.mu.Lock()
	c.buffered = n
	c.mu.Unlock()
}

func (c *MockChannel) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *MockChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *MockChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *MockChannel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *MockChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Sent returns a copy of all frames sent so far, in order.
func (c *MockChannel) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// EmitMessage delivers an inbound frame to the registered handler.
func (c *MockChannel) EmitMessage(msg Message) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// EmitOpen fires the open handler.
func (c *MockChannel) EmitOpen() {
	c.mu.Lock()
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EmitClose fires the close handler.
func (c *MockChannel) EmitClose() {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EmitError fires the error handler.
func (c *MockChannel) EmitError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
