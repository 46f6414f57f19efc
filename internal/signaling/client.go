// Package signaling provides the client side of the rendezvous relay: a
// WebSocket connection that carries JSON signaling messages to and from
// the server.
package signaling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duodrop/duodrop/pkg/protocol"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Client is a WebSocket connection to the signaling server. Writes are
// serialized through a buffered channel so callers may send from any
// goroutine.
type Client struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	sendChan chan protocol.Message
	done     chan struct{}
	writeMu  sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Dial connects to the signaling server at wsURL (ws:// or wss://, with
// the /ws path).
func Dial(ctx context.Context, wsURL string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}

	c := &Client{
		conn:     conn,
		logger:   logger,
		sendChan: make(chan protocol.Message, 256),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

// ReadLoop reads signaling messages and calls onMsg for each one. It
// returns when the connection closes or the context is cancelled.
func (c *Client) ReadLoop(ctx context.Context, onMsg func(protocol.Message)) error {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.pingLoop(ctx)
	go func() {
		<-ctx.Done()
		// Forces ReadMessage to unblock.
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			c.logger.Warn("invalid signaling message", "error", err)
			continue
		}
		onMsg(msg)
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send queues a signaling message for delivery.
func (c *Client) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("send queue full")
	}
}

func (c *Client) writeLoop() {
	defer close(c.done)
	for msg := range c.sendChan {
		raw, err := msg.Encode()
		if err != nil {
			c.logger.Error("encode signaling message", "error", err)
			continue
		}
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = c.conn.WriteMessage(websocket.TextMessage, raw)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Error("websocket write error", "error", err)
			return
		}
	}
}

// Close shuts the connection down, waiting for queued sends to drain.
// Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.sendChan)
	c.mu.Unlock()

	<-c.done
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Close()
}
