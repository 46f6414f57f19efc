package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

var _ Channel = (*DataChannel)(nil)

// DataChannel adapts a pion data channel to the Channel interface.
type DataChannel struct {
	dc *webrtc.DataChannel
}

// NewDataChannel wraps an already-created (not necessarily open) data channel.
func NewDataChannel(dc *webrtc.DataChannel) *DataChannel {
	return &DataChannel{dc: dc}
}

func (c *DataChannel) SendText(s string) error {
	if err := c.dc.SendText(s); err != nil {
		return fmt.Errorf("send text frame: %w", err)
	}
	return nil
}

func (c *DataChannel) Send(p []byte) error {
	// The SCTP layer keeps a reference to the payload until it is
	// transmitted, so copy to honor the Channel contract.
	buf := make([]byte, len(p))
	copy(buf, p)
	if err := c.dc.Send(buf); err != nil {
		return fmt.Errorf("send binary frame: %w", err)
	}
	return nil
}

func (c *DataChannel) BufferedAmount() int {
	return int(c.dc.BufferedAmount())
}

func (c *DataChannel) OnMessage(fn func(Message)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(Message{Binary: !msg.IsString, Data: msg.Data})
	})
}

func (c *DataChannel) OnOpen(fn func()) {
	c.dc.OnOpen(fn)
}

func (c *DataChannel) OnClose(fn func()) {
	c.dc.OnClose(fn)
}

func (c *DataChannel) OnError(fn func(error)) {
	c.dc.OnError(fn)
}

func (c *DataChannel) Close() error {
	return c.dc.Close()
}

// Label returns the channel's negotiated label.
func (c *DataChannel) Label() string {
	return c.dc.Label()
}
