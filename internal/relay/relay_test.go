package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/duodrop/duodrop/internal/rooms"
	"github.com/duodrop/duodrop/pkg/protocol"
)

type testEndpoint struct {
	*Endpoint
	mu   sync.Mutex
	msgs []protocol.Message
}

func connect(s *Service) *testEndpoint {
	te := &testEndpoint{}
	te.Endpoint = s.Connect(func(msg protocol.Message) error {
		te.mu.Lock()
		defer te.mu.Unlock()
		te.msgs = append(te.msgs, msg)
		return nil
	})
	return te
}

func (te *testEndpoint) received() []protocol.Message {
	te.mu.Lock()
	defer te.mu.Unlock()
	out := make([]protocol.Message, len(te.msgs))
	copy(out, te.msgs)
	return out
}

func (te *testEndpoint) lastType(t *testing.T) protocol.Type {
	t.Helper()
	msgs := te.received()
	if len(msgs) == 0 {
		t.Fatal("no messages received")
	}
	return msgs[len(msgs)-1].Type
}

func newTestService() (*Service, *rooms.Registry) {
	reg := rooms.NewRegistry()
	return NewService(reg, slog.Default()), reg
}

func send(t *testing.T, s *Service, ep *testEndpoint, msg protocol.Message) {
	t.Helper()
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s.HandleMessage(ep.Endpoint, raw)
}

func TestService_JoinPair(t *testing.T) {
	// Scenario: A joins an empty room, B joins second and A is notified,
	// C is rejected without the room changing.
	s, reg := newTestService()

	a := connect(s)
	send(t, s, a, protocol.Join("room1"))
	if got := reg.Size("room1"); got != 1 {
		t.Fatalf("room size after A = %d, want 1", got)
	}
	if len(a.received()) != 0 {
		t.Errorf("A received %d messages, want 0", len(a.received()))
	}

	b := connect(s)
	send(t, s, b, protocol.Join("room1"))
	if got := reg.Size("room1"); got != 2 {
		t.Fatalf("room size after B = %d, want 2", got)
	}
	if got := a.lastType(t); got != protocol.TypePeerJoined {
		t.Errorf("A last message = %s, want peer-joined", got)
	}
	if len(b.received()) != 0 {
		t.Errorf("B received %d messages, want 0", len(b.received()))
	}

	c := connect(s)
	send(t, s, c, protocol.Join("room1"))
	msgs := c.received()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeError || msgs[0].Text != "Room is full or unavailable" {
		t.Errorf("C reply = %+v, want room-full error", msgs)
	}
	if got := reg.Size("room1"); got != 2 {
		t.Errorf("room size after rejected C = %d, want 2", got)
	}
	// A and B saw nothing from the rejected join.
	if len(a.received()) != 1 {
		t.Errorf("A received %d messages, want 1", len(a.received()))
	}
	if len(b.received()) != 0 {
		t.Errorf("B received %d messages, want 0", len(b.received()))
	}
}

func TestService_RelayVerbatim(t *testing.T) {
	s, _ := newTestService()

	a := connect(s)
	b := connect(s)
	send(t, s, a, protocol.Join("room1"))
	send(t, s, b, protocol.Join("room1"))

	mid := "data"
	var line uint16 = 3
	frag := "uf"
	original := protocol.ICECandidate(protocol.Candidate{
		Candidate:        "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host",
		SDPMid:           &mid,
		SDPMLineIndex:    &line,
		UsernameFragment: &frag,
	})
	send(t, s, a, original)

	msgs := b.received()
	if len(msgs) != 1 {
		t.Fatalf("B received %d messages, want 1", len(msgs))
	}
	got, err := msgs[0].Encode()
	if err != nil {
		t.Fatalf("encode forwarded: %v", err)
	}
	want, err := original.Encode()
	if err != nil {
		t.Fatalf("encode original: %v", err)
	}
	var gm, wm map[string]any
	if err := json.Unmarshal(got, &gm); err != nil {
		t.Fatalf("unmarshal forwarded: %v", err)
	}
	if err := json.Unmarshal(want, &wm); err != nil {
		t.Fatalf("unmarshal original: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("relay modified message:\n got %s\nwant %s", got, want)
	}
}

func TestService_RelayOfferAndAnswer(t *testing.T) {
	s, _ := newTestService()

	a := connect(s)
	b := connect(s)
	send(t, s, a, protocol.Join("room1"))
	send(t, s, b, protocol.Join("room1"))

	send(t, s, b, protocol.Offer(protocol.SessionDescription{Kind: protocol.KindOffer, SDP: "v=0 offer"}))
	if got := a.received(); len(got) != 2 || got[1].Type != protocol.TypeOffer || got[1].SDP.SDP != "v=0 offer" {
		t.Fatalf("A messages = %+v, want peer-joined then offer", got)
	}

	send(t, s, a, protocol.Answer(protocol.SessionDescription{Kind: protocol.KindAnswer, SDP: "v=0 answer"}))
	if got := b.received(); len(got) != 1 || got[0].Type != protocol.TypeAnswer || got[0].SDP.SDP != "v=0 answer" {
		t.Fatalf("B messages = %+v, want answer", got)
	}
}

func TestService_RelayWithoutRoom(t *testing.T) {
	s, _ := newTestService()

	a := connect(s)
	send(t, s, a, protocol.Offer(protocol.SessionDescription{Kind: protocol.KindOffer, SDP: "v=0"}))

	msgs := a.received()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeError || msgs[0].Text != "Not in a room" {
		t.Errorf("reply = %+v, want not-in-room error", msgs)
	}
}

func TestService_RelayWithoutPeer(t *testing.T) {
	s, reg := newTestService()

	a := connect(s)
	send(t, s, a, protocol.Join("room1"))
	send(t, s, a, protocol.Offer(protocol.SessionDescription{Kind: protocol.KindOffer, SDP: "v=0"}))

	msgs := a.received()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeError || msgs[0].Text != "No peer connected" {
		t.Errorf("reply = %+v, want no-peer error", msgs)
	}
	// The failed relay never alters the sender's membership.
	if got := reg.Size("room1"); got != 1 {
		t.Errorf("room size = %d, want 1", got)
	}
}

func TestService_MalformedInput(t *testing.T) {
	s, reg := newTestService()

	a := connect(s)
	send(t, s, a, protocol.Join("room1"))

	for _, raw := range []string{`not json`, `{"type":"join"}`, `{"type":"peer-joined"}`} {
		s.HandleMessage(a.Endpoint, []byte(raw))
		if got := a.lastType(t); got != protocol.TypeError {
			t.Errorf("reply to %q = %s, want error", raw, got)
		}
		msgs := a.received()
		if msgs[len(msgs)-1].Text != "Invalid message format" {
			t.Errorf("reply text = %q, want invalid-format", msgs[len(msgs)-1].Text)
		}
	}

	// Sender state is unchanged: still joined, still routable.
	if got := reg.Size("room1"); got != 1 {
		t.Errorf("room size = %d, want 1", got)
	}
}

func TestService_DoubleJoinRejected(t *testing.T) {
	s, reg := newTestService()

	a := connect(s)
	send(t, s, a, protocol.Join("room1"))
	send(t, s, a, protocol.Join("room2"))

	msgs := a.received()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeError {
		t.Fatalf("reply = %+v, want error", msgs)
	}
	if reg.Size("room1") != 1 || reg.Size("room2") != 0 {
		t.Errorf("membership changed by rejected second join")
	}
}

func TestService_DisconnectNotifiesPeer(t *testing.T) {
	s, reg := newTestService()

	a := connect(s)
	b := connect(s)
	send(t, s, a, protocol.Join("room1"))
	send(t, s, b, protocol.Join("room1"))

	s.HandleDisconnect(a.Endpoint)

	if got := b.lastType(t); got != protocol.TypePeerLeft {
		t.Errorf("B last message = %s, want peer-left", got)
	}
	if got := reg.Size("room1"); got != 1 {
		t.Errorf("room size after disconnect = %d, want 1", got)
	}

	// Last endpoint leaving removes the room immediately.
	s.HandleDisconnect(b.Endpoint)
	if got := reg.Len(); got != 0 {
		t.Errorf("registry len = %d, want 0", got)
	}
}

func TestService_DisconnectWithoutRoom(t *testing.T) {
	s, _ := newTestService()
	a := connect(s)
	// Must not panic or deliver anything.
	s.HandleDisconnect(a.Endpoint)
	if len(a.received()) != 0 {
		t.Errorf("received %d messages, want 0", len(a.received()))
	}
}
