// Package transport defines the duplex channel the transfer engine runs
// over: reliable, ordered, binary-capable, with a buffered-amount query
// for backpressure. The production implementation wraps a WebRTC data
// channel; tests use the mock in mock.go.
package transport

// Message is one inbound frame. Text frames carry control messages,
// binary frames carry raw chunk bytes.
type Message struct {
	Binary bool
	Data   []byte
}

// Channel is the negotiated duplex pipe between the two endpoints.
// Callbacks must be registered before traffic starts; implementations
// invoke them from their own event goroutines.
type Channel interface {
	// SendText queues a text frame.
	SendText(s string) error
	// Send queues a binary frame. Implementations must not retain p;
	// the caller may reuse it once Send returns.
	Send(p []byte) error
	// BufferedAmount reports bytes queued locally but not yet handed to
	// the transport. The chunk loop defers while this exceeds the
	// configured threshold.
	BufferedAmount() int
	// OnMessage registers the inbound frame handler.
	OnMessage(fn func(Message))
	// OnOpen fires once the channel is ready to carry data.
	OnOpen(fn func())
	// OnClose fires when the channel shuts down cleanly.
	OnClose(fn func())
	// OnError fires on channel-level failure.
	OnError(fn func(error))
	// Close tears the channel down.
	Close() error
}
