package peerconn

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/duodrop/duodrop/internal/transport"
	"github.com/duodrop/duodrop/pkg/protocol"
)

// ChannelLabel is the data channel both sides expect for file transfer.
const ChannelLabel = "fileTransfer"

// Signaler is the slice of the signaling client the orchestrator needs.
type Signaler interface {
	Send(protocol.Message) error
}

type orchEventKind int

const (
	orchSignal orchEventKind = iota
	orchLocalCandidate
	orchSessionState
	orchChannel
	orchChannelOpen
	orchClose
)

type orchEvent struct {
	kind      orchEventKind
	msg       protocol.Message
	candidate protocol.Candidate
	state     SessionState
	channel   transport.Channel
}

// Orchestrator runs the negotiation state machine for one room join. All
// state lives on a single goroutine; signaling messages and session
// callbacks are posted as events. An orchestrator is single-use: once it
// reaches a terminal state a fresh one is needed to connect again.
type Orchestrator struct {
	signaler Signaler
	factory  SessionFactory
	logger   *slog.Logger

	events chan orchEvent
	done   chan struct{}

	// loop-owned
	state     ConnectionState
	role      Role
	roomID    string
	session   Session
	remoteSet bool
	pending   []protocol.Candidate

	mu      sync.Mutex
	current ConnectionState

	// OnStateChange fires on every connection state transition.
	OnStateChange func(ConnectionState)
	// OnChannel fires once with the established transport channel.
	OnChannel func(ch transport.Channel)
	// OnWarning fires for recoverable faults, such as a candidate that
	// fails to apply.
	OnWarning func(err error)
}

// NewOrchestrator creates an orchestrator over the given signaler. The
// factory is invoked once, when negotiation starts.
func NewOrchestrator(signaler Signaler, factory SessionFactory, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		signaler: signaler,
		factory:  factory,
		logger:   logger,
		events:   make(chan orchEvent, 64),
		done:     make(chan struct{}),
		state:    StateDisconnected,
		current:  StateDisconnected,
	}
}

// Connect joins the room and starts the event loop. It returns once the
// join message is on the wire; progress is reported via OnStateChange.
func (o *Orchestrator) Connect(roomID string) error {
	if err := o.signaler.Send(protocol.Join(roomID)); err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	o.roomID = roomID
	o.setState(StateConnecting)
	go o.run()
	return nil
}

// HandleSignal posts a relayed signaling message to the state machine.
func (o *Orchestrator) HandleSignal(msg protocol.Message) {
	o.post(orchEvent{kind: orchSignal, msg: msg})
}

// Close tears the session down. Safe to call more than once.
func (o *Orchestrator) Close() {
	o.post(orchEvent{kind: orchClose})
}

// State returns the latest connection state.
func (o *Orchestrator) State() ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) post(ev orchEvent) {
	select {
	case <-o.done:
	case o.events <- ev:
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)
	for ev := range o.events {
		o.handle(ev)
		if o.state.Terminal() {
			return
		}
	}
}

func (o *Orchestrator) handle(ev orchEvent) {
	switch ev.kind {
	case orchSignal:
		o.handleSignal(ev.msg)
	case orchLocalCandidate:
		o.sendCandidate(ev.candidate)
	case orchSessionState:
		o.handleSessionState(ev.state)
	case orchChannel:
		o.adoptChannel(ev.channel)
	case orchChannelOpen:
		if o.state == StateNegotiating {
			o.setState(StateConnected)
		}
	case orchClose:
		o.teardown(StateDisconnected)
	}
}

func (o *Orchestrator) handleSignal(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePeerJoined:
		o.startInitiator()
	case protocol.TypeOffer:
		o.startAnswerer(msg)
	case protocol.TypeAnswer:
		o.applyAnswer(msg)
	case protocol.TypeICECandidate:
		o.applyCandidate(msg)
	case protocol.TypePeerLeft:
		o.logger.Info("peer left", "room", o.roomID)
		o.teardown(StatePeerLeft)
	case protocol.TypeError:
		// Fatal only while the join itself may have failed; afterwards
		// it is a relay-level complaint about a single message.
		if o.state == StateConnecting {
			o.fail(fmt.Errorf("signaling error: %s", msg.Text))
		} else {
			o.warn(fmt.Errorf("signaling error: %s", msg.Text))
		}
	}
}

// startInitiator runs when the second endpoint arrives: this side opens
// the channel and sends the offer.
func (o *Orchestrator) startInitiator() {
	if o.role != RoleNone {
		return
	}
	o.role = RoleInitiator
	if err := o.openSession(); err != nil {
		o.fail(err)
		return
	}
	ch, err := o.session.CreateChannel(ChannelLabel)
	if err != nil {
		o.fail(fmt.Errorf("create channel: %w", err))
		return
	}
	o.adoptChannel(ch)
	offer, err := o.session.CreateOffer()
	if err != nil {
		o.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := o.signaler.Send(protocol.Offer(offer)); err != nil {
		o.fail(fmt.Errorf("send offer: %w", err))
		return
	}
	o.logger.Info("offer sent", "room", o.roomID)
	o.setState(StateNegotiating)
}

// startAnswerer runs when an offer arrives: the peer was already in the
// room, so this side answers.
func (o *Orchestrator) startAnswerer(msg protocol.Message) {
	if o.role != RoleNone || msg.SDP == nil {
		return
	}
	o.role = RoleAnswerer
	if err := o.openSession(); err != nil {
		o.fail(err)
		return
	}
	// A bad remote descriptor is non-fatal: report it and let the
	// transport's own failure signal decide the session's fate.
	answer, err := o.session.Accept(*msg.SDP)
	if err != nil {
		o.warn(fmt.Errorf("accept offer: %w", err))
		return
	}
	o.remoteSet = true
	if err := o.signaler.Send(protocol.Answer(answer)); err != nil {
		o.fail(fmt.Errorf("send answer: %w", err))
		return
	}
	o.logger.Info("answer sent", "room", o.roomID)
	o.setState(StateNegotiating)
	o.flushPending()
}

func (o *Orchestrator) applyAnswer(msg protocol.Message) {
	if o.role != RoleInitiator || o.session == nil || msg.SDP == nil {
		return
	}
	if err := o.session.ApplyAnswer(*msg.SDP); err != nil {
		o.warn(fmt.Errorf("apply answer: %w", err))
		return
	}
	o.remoteSet = true
	o.flushPending()
}

// applyCandidate queues candidates that race ahead of the remote
// description and flushes them in arrival order once it lands.
func (o *Orchestrator) applyCandidate(msg protocol.Message) {
	if msg.Candidate == nil {
		return
	}
	if o.session == nil || !o.remoteSet {
		o.pending = append(o.pending, *msg.Candidate)
		return
	}
	if err := o.session.AddCandidate(*msg.Candidate); err != nil {
		o.warn(fmt.Errorf("add candidate: %w", err))
	}
}

func (o *Orchestrator) flushPending() {
	for _, c := range o.pending {
		if err := o.session.AddCandidate(c); err != nil {
			o.warn(fmt.Errorf("add candidate: %w", err))
		}
	}
	o.pending = nil
}

func (o *Orchestrator) openSession() error {
	s, err := o.factory()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	o.session = s
	s.OnCandidate(func(c protocol.Candidate) {
		o.post(orchEvent{kind: orchLocalCandidate, candidate: c})
	})
	s.OnChannel(func(ch transport.Channel) {
		o.post(orchEvent{kind: orchChannel, channel: ch})
	})
	s.OnStateChange(func(st SessionState) {
		o.post(orchEvent{kind: orchSessionState, state: st})
	})
	return nil
}

func (o *Orchestrator) sendCandidate(c protocol.Candidate) {
	if err := o.signaler.Send(protocol.ICECandidate(c)); err != nil {
		o.warn(fmt.Errorf("send candidate: %w", err))
	}
}

func (o *Orchestrator) handleSessionState(st SessionState) {
	switch st {
	case SessionConnected:
		if o.state == StateNegotiating {
			o.setState(StateConnected)
		}
	case SessionFailed:
		o.fail(fmt.Errorf("peer connection failed"))
	case SessionClosed:
		o.teardown(StateDisconnected)
	}
}

func (o *Orchestrator) adoptChannel(ch transport.Channel) {
	ch.OnOpen(func() {
		o.post(orchEvent{kind: orchChannelOpen})
	})
	if o.OnChannel != nil {
		o.OnChannel(ch)
	}
}

func (o *Orchestrator) fail(err error) {
	o.logger.Error("negotiation failed", "room", o.roomID, "err", err)
	if o.OnWarning != nil {
		o.OnWarning(err)
	}
	o.teardown(StateError)
}

func (o *Orchestrator) warn(err error) {
	o.logger.Warn("negotiation warning", "room", o.roomID, "err", err)
	if o.OnWarning != nil {
		o.OnWarning(err)
	}
}

func (o *Orchestrator) teardown(final ConnectionState) {
	if o.state.Terminal() {
		return
	}
	if o.session != nil {
		if err := o.session.Close(); err != nil {
			o.logger.Warn("session close", "err", err)
		}
		o.session = nil
	}
	o.setState(final)
}

func (o *Orchestrator) setState(s ConnectionState) {
	o.state = s
	o.mu.Lock()
	o.current = s
	o.mu.Unlock()
	if o.OnStateChange != nil {
		o.OnStateChange(s)
	}
}
