package peerconn

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/duodrop/duodrop/internal/transport"
	"github.com/duodrop/duodrop/pkg/protocol"
)

var _ Session = (*webrtcSession)(nil)

// NewWebRTCSessionFactory returns a factory that builds sessions over
// fresh pion peer connections with the given ICE servers.
func NewWebRTCSessionFactory(servers []webrtc.ICEServer) SessionFactory {
	return func() (Session, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		return newWebRTCSession(pc), nil
	}
}

// webrtcSession adapts a pion PeerConnection to the Session interface.
type webrtcSession struct {
	pc *webrtc.PeerConnection
}

func newWebRTCSession(pc *webrtc.PeerConnection) *webrtcSession {
	return &webrtcSession{pc: pc}
}

func (s *webrtcSession) CreateOffer() (protocol.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return descToProtocol(offer), nil
}

func (s *webrtcSession) Accept(offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(descFromProtocol(offer)); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return descToProtocol(answer), nil
}

func (s *webrtcSession) ApplyAnswer(answer protocol.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(descFromProtocol(answer)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (s *webrtcSession) AddCandidate(c protocol.Candidate) error {
	return s.pc.AddICECandidate(candidateFromProtocol(c))
}

func (s *webrtcSession) CreateChannel(label string) (transport.Channel, error) {
	ordered := true
	dc, err := s.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return transport.NewDataChannel(dc), nil
}

func (s *webrtcSession) OnCandidate(fn func(protocol.Candidate)) {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(candidateToProtocol(c.ToJSON()))
	})
}

func (s *webrtcSession) OnChannel(fn func(transport.Channel)) {
	s.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(transport.NewDataChannel(dc))
	})
}

func (s *webrtcSession) OnStateChange(fn func(SessionState)) {
	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		switch st {
		case webrtc.PeerConnectionStateConnected:
			fn(SessionConnected)
		case webrtc.PeerConnectionStateFailed:
			fn(SessionFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(SessionClosed)
		}
	})
}

func (s *webrtcSession) Close() error {
	return s.pc.Close()
}

func descToProtocol(d webrtc.SessionDescription) protocol.SessionDescription {
	return protocol.SessionDescription{Kind: d.Type.String(), SDP: d.SDP}
}

func descFromProtocol(d protocol.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Kind), SDP: d.SDP}
}

func candidateToProtocol(c webrtc.ICECandidateInit) protocol.Candidate {
	return protocol.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func candidateFromProtocol(c protocol.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
