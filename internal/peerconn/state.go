// Package peerconn drives peer connection negotiation: it consumes relayed
// signaling messages, assigns roles, exchanges offer/answer and trickled
// candidates through a session, and produces an established transport
// channel plus a connection-state signal.
package peerconn

// ConnectionState is the single source of truth for UI and engine gating.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateNegotiating  ConnectionState = "negotiating"
	StateConnected    ConnectionState = "connected"
	StatePeerLeft     ConnectionState = "peer-left"
	StateError        ConnectionState = "error"
)

// Terminal reports whether the session is over. A fresh Connect requires a
// new Orchestrator; terminal states never transition again.
func (s ConnectionState) Terminal() bool {
	return s == StateDisconnected || s == StatePeerLeft || s == StateError
}

// Role is fixed by which signal arrives first: the endpoint that observes
// peer-joined initiates, the one that observes an offer answers. The relay
// guarantees only one side of a join pair sees peer-joined, so assignment
// is race-free.
type Role string

const (
	RoleNone      Role = ""
	RoleInitiator Role = "initiator"
	RoleAnswerer  Role = "answerer"
)
