package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duodrop/duodrop/internal/relay"
	"github.com/duodrop/duodrop/internal/rooms"
	"github.com/duodrop/duodrop/pkg/protocol"
)

func newTestWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := relay.NewService(rooms.NewRegistry(), logger)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, service, logger)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialTestWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBinaryFrameRejectedWithError(t *testing.T) {
	srv := newTestWSServer(t)
	conn := dialTestWS(t, srv)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0x01}); err != nil {
		t.Fatalf("write binary frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode reply %q: %v", raw, err)
	}
	if msg.Type != protocol.TypeError {
		t.Errorf("reply type = %q, want %q", msg.Type, protocol.TypeError)
	}
	if msg.Text != "Invalid message format" {
		t.Errorf("reply text = %q, want %q", msg.Text, "Invalid message format")
	}
}

func TestBinaryFrameDoesNotCloseConnection(t *testing.T) {
	srv := newTestWSServer(t)
	conn := dialTestWS(t, srv)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xff}); err != nil {
		t.Fatalf("write binary frame: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read error reply: %v", err)
	}

	// The connection survives and still serves the protocol.
	raw, err := protocol.Join("room-1").Encode()
	if err != nil {
		t.Fatalf("encode join: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write join after binary frame: %v", err)
	}

	peer := dialTestWS(t, srv)
	peerJoin, err := protocol.Join("room-1").Encode()
	if err != nil {
		t.Fatalf("encode join: %v", err)
	}
	if err := peer.WriteMessage(websocket.TextMessage, peerJoin); err != nil {
		t.Fatalf("write peer join: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read peer-joined: %v", err)
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	if msg.Type != protocol.TypePeerJoined {
		t.Errorf("message type = %q, want %q", msg.Type, protocol.TypePeerJoined)
	}
}
