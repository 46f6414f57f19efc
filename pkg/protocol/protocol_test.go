package protocol

import (
	"encoding/json"
	"testing"
)

func TestMessage_Validate(t *testing.T) {
	mid := "0"
	var line uint16 = 0
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{
			name:    "valid join",
			msg:     Join("room1"),
			wantErr: false,
		},
		{
			name:    "join without room",
			msg:     Message{Type: TypeJoin},
			wantErr: true,
		},
		{
			name:    "valid offer",
			msg:     Offer(SessionDescription{Kind: KindOffer, SDP: "v=0..."}),
			wantErr: false,
		},
		{
			name:    "offer without sdp",
			msg:     Message{Type: TypeOffer},
			wantErr: true,
		},
		{
			name:    "valid answer",
			msg:     Answer(SessionDescription{Kind: KindAnswer, SDP: "v=0..."}),
			wantErr: false,
		},
		{
			name: "valid candidate",
			msg: ICECandidate(Candidate{
				Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host",
				SDPMid:        &mid,
				SDPMLineIndex: &line,
			}),
			wantErr: false,
		},
		{
			name:    "candidate without payload",
			msg:     Message{Type: TypeICECandidate},
			wantErr: true,
		},
		{
			name:    "peer-joined carries nothing",
			msg:     PeerJoined(),
			wantErr: false,
		},
		{
			name:    "peer-left carries nothing",
			msg:     PeerLeft(),
			wantErr: false,
		},
		{
			name:    "valid error",
			msg:     Error("Room is full or unavailable"),
			wantErr: false,
		},
		{
			name:    "error without message",
			msg:     Message{Type: TypeError},
			wantErr: true,
		},
		{
			name:    "unknown type",
			msg:     Message{Type: "bogus"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Type
		wantErr bool
	}{
		{
			name: "join",
			raw:  `{"type":"join","roomId":"room1"}`,
			want: TypeJoin,
		},
		{
			name: "offer with nested description",
			raw:  `{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}`,
			want: TypeOffer,
		},
		{
			name: "candidate with null fields",
			raw:  `{"type":"ice-candidate","candidate":{"candidate":"candidate:1","sdpMid":null,"sdpMLineIndex":null,"usernameFragment":null}}`,
			want: TypeICECandidate,
		},
		{
			name:    "not json",
			raw:     `{{{`,
			wantErr: true,
		},
		{
			name:    "json but unknown tag",
			raw:     `{"type":"shutdown"}`,
			wantErr: true,
		},
		{
			name:    "join missing room",
			raw:     `{"type":"join"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if msg.Type != tt.want {
				t.Errorf("Decode() type = %s, want %s", msg.Type, tt.want)
			}
		})
	}
}

func TestMessage_EncodeIsVerbatim(t *testing.T) {
	// Relay correctness depends on payloads surviving a decode/encode
	// round trip without the relay touching variant fields.
	mid := "data"
	var line uint16 = 1
	frag := "ufrag"
	original := ICECandidate(Candidate{
		Candidate:        "candidate:2 1 udp 1694498815 198.51.100.7 61000 typ srflx",
		SDPMid:           &mid,
		SDPMLineIndex:    &line,
		UsernameFragment: &frag,
	})

	raw, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	reEncoded, err := decoded.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var a, b map[string]any
	if err := json.Unmarshal(raw, &a); err != nil {
		t.Fatalf("unmarshal first encoding: %v", err)
	}
	if err := json.Unmarshal(reEncoded, &b); err != nil {
		t.Fatalf("unmarshal second encoding: %v", err)
	}
	if len(a) != len(b) {
		t.Errorf("round trip changed field count: %d != %d", len(a), len(b))
	}
	if decoded.Candidate.Candidate != original.Candidate.Candidate {
		t.Errorf("candidate changed: %s", decoded.Candidate.Candidate)
	}
	if *decoded.Candidate.SDPMLineIndex != line {
		t.Errorf("sdpMLineIndex changed: %d", *decoded.Candidate.SDPMLineIndex)
	}
}

func TestNewEndpointID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewEndpointID()
		if len(id) != 16 {
			t.Fatalf("NewEndpointID() length = %d, want 16", len(id))
		}
		if seen[id] {
			t.Fatalf("NewEndpointID() produced duplicate %s", id)
		}
		seen[id] = true
	}
}
