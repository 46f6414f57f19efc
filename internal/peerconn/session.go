package peerconn

import (
	"github.com/duodrop/duodrop/internal/transport"
	"github.com/duodrop/duodrop/pkg/protocol"
)

// SessionState mirrors the underlying transport endpoint's connectivity.
type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionConnected
	SessionFailed
	SessionClosed
)

// Session is the local transport endpoint under negotiation. The
// production implementation wraps a WebRTC peer connection; tests script
// a fake. Descriptor blobs pass through opaquely.
type Session interface {
	// CreateOffer generates an offer and applies it locally.
	CreateOffer() (protocol.SessionDescription, error)
	// Accept applies a remote offer, then generates and applies an answer.
	Accept(offer protocol.SessionDescription) (protocol.SessionDescription, error)
	// ApplyAnswer applies a remote answer (initiator side).
	ApplyAnswer(answer protocol.SessionDescription) error
	// AddCandidate applies a remote candidate. Only valid once a remote
	// description has been applied.
	AddCandidate(c protocol.Candidate) error
	// CreateChannel opens the outbound logical channel (initiator side).
	CreateChannel(label string) (transport.Channel, error)
	// OnCandidate registers the local candidate-discovered handler
	// (trickle: fires per candidate as gathering progresses).
	OnCandidate(fn func(protocol.Candidate))
	// OnChannel registers the inbound channel announcement handler
	// (answerer side).
	OnChannel(fn func(transport.Channel))
	// OnStateChange registers the connectivity handler.
	OnStateChange(fn func(SessionState))
	// Close releases the endpoint.
	Close() error
}

// SessionFactory creates the local transport endpoint when negotiation
// starts.
type SessionFactory func() (Session, error)
