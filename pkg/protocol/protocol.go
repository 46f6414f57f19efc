// Package protocol defines the signaling wire format exchanged between a
// peer and the rendezvous server. Every message is a single JSON object
// carrying a type tag and exactly the fields that variant requires; the
// relay forwards offer/answer/candidate payloads without inspecting them.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies a signaling message variant. The set is closed: dispatch
// sites switch over every constant and treat anything else as malformed.
type Type string

const (
	TypeJoin         Type = "join"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypePeerJoined   Type = "peer-joined"
	TypePeerLeft     Type = "peer-left"
	TypeError        Type = "error"
)

// SessionDescription is one side's negotiation blob. Opaque to the relay;
// only the peer connection layer applies it.
type SessionDescription struct {
	Kind string `json:"type"`
	SDP  string `json:"sdp"`
}

// Session description kinds, matching the WebRTC description types.
const (
	KindOffer    = "offer"
	KindAnswer   = "answer"
	KindPranswer = "pranswer"
	KindRollback = "rollback"
)

// Candidate is one discovered network path. Field shapes mirror the
// WebRTC candidate-init JSON so peers can apply them directly.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment"`
}

// Message is the signaling envelope. Exactly one variant is active per
// message, determined by Type; Validate enforces the variant's fields.
type Message struct {
	Type      Type                `json:"type"`
	RoomID    string              `json:"roomId,omitempty"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`
	Text      string              `json:"message,omitempty"`
}

// Join requests membership in a room.
func Join(roomID string) Message {
	return Message{Type: TypeJoin, RoomID: roomID}
}

// Offer wraps a session description of kind offer.
func Offer(sdp SessionDescription) Message {
	return Message{Type: TypeOffer, SDP: &sdp}
}

// Answer wraps a session description of kind answer.
func Answer(sdp SessionDescription) Message {
	return Message{Type: TypeAnswer, SDP: &sdp}
}

// ICECandidate wraps a trickled candidate.
func ICECandidate(c Candidate) Message {
	return Message{Type: TypeICECandidate, Candidate: &c}
}

// PeerJoined notifies an endpoint that the other endpoint arrived.
func PeerJoined() Message { return Message{Type: TypePeerJoined} }

// PeerLeft notifies an endpoint that the other endpoint disconnected.
func PeerLeft() Message { return Message{Type: TypePeerLeft} }

// Error carries a signaling failure back to the originating endpoint only.
func Error(text string) Message {
	return Message{Type: TypeError, Text: text}
}

// Validate checks that the message carries exactly what its variant needs.
func (m Message) Validate() error {
	switch m.Type {
	case TypeJoin:
		if m.RoomID == "" {
			return errors.New("join requires roomId")
		}
	case TypeOffer, TypeAnswer:
		if m.SDP == nil || m.SDP.SDP == "" {
			return fmt.Errorf("%s requires sdp", m.Type)
		}
	case TypeICECandidate:
		if m.Candidate == nil {
			return errors.New("ice-candidate requires candidate")
		}
	case TypePeerJoined, TypePeerLeft:
		// No payload.
	case TypeError:
		if m.Text == "" {
			return errors.New("error requires message")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// Decode parses and validates a raw signaling frame.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Encode marshals a message for the wire.
func (m Message) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return raw, nil
}
