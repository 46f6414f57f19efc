// Package relay implements the rendezvous service: it accepts signaling
// messages from connected endpoints and either mutates the room registry
// (join) or forwards the message verbatim to the other endpoint in the
// room. The package is transport-agnostic; cmd/duodropd supplies the
// WebSocket plumbing and tests drive it with plain functions.
package relay

import (
	"errors"
	"log/slog"

	"github.com/duodrop/duodrop/internal/rooms"
	"github.com/duodrop/duodrop/pkg/protocol"
)

// Error texts sent back to the originating endpoint. These are part of the
// wire contract; clients match on them.
const (
	errInvalidMessage = "Invalid message format"
	errRoomFull       = "Room is full or unavailable"
	errNotInRoom      = "Not in a room"
	errNoPeer         = "No peer connected"
	errAlreadyInRoom  = "Already in a room"
)

// Endpoint is one connected peer for the lifetime of its connection. All
// HandleMessage/HandleDisconnect calls for an endpoint come from its single
// read loop; only Deliver is called from other goroutines.
type Endpoint struct {
	ID      string
	deliver func(protocol.Message) error
	roomID  string
}

// Deliver sends a message to this endpoint. It satisfies rooms.Handle.
func (e *Endpoint) Deliver(msg protocol.Message) error {
	return e.deliver(msg)
}

var _ rooms.Handle = (*Endpoint)(nil)

// Service brokers signaling between exactly two endpoints per room.
type Service struct {
	registry *rooms.Registry
	logger   *slog.Logger
}

// NewService creates a rendezvous service over the given registry.
func NewService(registry *rooms.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		logger:   logger,
	}
}

// Connect registers a new endpoint with a freshly generated id. The deliver
// function must be safe for concurrent use; the relay invokes it from the
// peer endpoint's handler as well as this one's.
func (s *Service) Connect(deliver func(protocol.Message) error) *Endpoint {
	ep := &Endpoint{
		ID:      protocol.NewEndpointID(),
		deliver: deliver,
	}
	s.logger.Debug("endpoint connected", "endpoint_id", ep.ID)
	return ep
}

// HandleMessage processes one inbound frame from an endpoint. Errors are
// reported to the sender only; the other endpoint and the registry are
// never disturbed by a sender's bad input.
func (s *Service) HandleMessage(ep *Endpoint, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		s.logger.Warn("malformed signaling message", "endpoint_id", ep.ID, "error", err)
		s.reply(ep, protocol.Error(errInvalidMessage))
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		s.handleJoin(ep, msg.RoomID)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		s.handleRelay(ep, msg)
	case protocol.TypePeerJoined, protocol.TypePeerLeft, protocol.TypeError:
		// Server-originated tags are not valid inbound.
		s.logger.Warn("endpoint sent server-only message", "endpoint_id", ep.ID, "type", msg.Type)
		s.reply(ep, protocol.Error(errInvalidMessage))
	}
}

// HandleDisconnect notifies the room peer (if any) and releases the
// endpoint's room membership. Call exactly once when the connection drops.
func (s *Service) HandleDisconnect(ep *Endpoint) {
	if ep.roomID == "" {
		return
	}
	if other, ok := s.registry.Other(ep.roomID, ep.ID); ok {
		if err := other.Deliver(protocol.PeerLeft()); err != nil {
			s.logger.Debug("peer-left delivery failed", "room_id", ep.roomID, "error", err)
		}
	}
	s.registry.Leave(ep.roomID, ep.ID)
	s.logger.Info("endpoint left room", "endpoint_id", ep.ID, "room_id", ep.roomID)
	ep.roomID = ""
}

func (s *Service) handleJoin(ep *Endpoint, roomID string) {
	if ep.roomID != "" {
		s.reply(ep, protocol.Error(errAlreadyInRoom))
		return
	}

	s.registry.CreateOrGet(roomID)
	if err := s.registry.Join(roomID, ep.ID, ep); err != nil {
		if !errors.Is(err, rooms.ErrRoomFull) {
			s.logger.Warn("join failed", "endpoint_id", ep.ID, "room_id", roomID, "error", err)
		}
		s.reply(ep, protocol.Error(errRoomFull))
		return
	}
	ep.roomID = roomID
	s.logger.Info("endpoint joined room", "endpoint_id", ep.ID, "room_id", roomID)

	if other, ok := s.registry.Other(roomID, ep.ID); ok {
		if err := other.Deliver(protocol.PeerJoined()); err != nil {
			s.logger.Debug("peer-joined delivery failed", "room_id", roomID, "error", err)
		}
	}
}

// handleRelay forwards an offer/answer/candidate message unmodified to the
// other endpoint in the sender's room.
func (s *Service) handleRelay(ep *Endpoint, msg protocol.Message) {
	if ep.roomID == "" {
		s.reply(ep, protocol.Error(errNotInRoom))
		return
	}
	other, ok := s.registry.Other(ep.roomID, ep.ID)
	if !ok {
		s.reply(ep, protocol.Error(errNoPeer))
		return
	}
	if err := other.Deliver(msg); err != nil {
		s.logger.Debug("relay delivery failed", "room_id", ep.roomID, "type", msg.Type, "error", err)
	}
}

func (s *Service) reply(ep *Endpoint, msg protocol.Message) {
	if err := ep.deliver(msg); err != nil {
		s.logger.Debug("reply delivery failed", "endpoint_id", ep.ID, "error", err)
	}
}
