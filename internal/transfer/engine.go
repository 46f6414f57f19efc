package transfer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/duodrop/duodrop/internal/bufpool"
	"github.com/duodrop/duodrop/internal/progress"
	"github.com/duodrop/duodrop/internal/transport"
)

// Defaults for the configuration surface.
const (
	DefaultChunkSize         = 64 * 1024
	DefaultMaxBufferedAmount = 256 * 1024
	defaultBackpressureDelay = 50 * time.Millisecond
)

var errChannelClosed = errors.New("transport channel closed")

// Config holds transfer engine tuning.
type Config struct {
	// ChunkSize is the number of bytes per binary frame (last frame of a
	// file may be shorter). Default 65536.
	ChunkSize int
	// MaxBufferedAmount is the backpressure threshold: no chunk is sent
	// while the channel reports more than this many buffered bytes.
	// Default 262144.
	MaxBufferedAmount int
	// BackpressureDelay is how long the chunk loop defers before
	// re-checking the buffered amount. Default 50ms.
	BackpressureDelay time.Duration
	// Logger for debug output.
	Logger *slog.Logger
	// Now is the time source (for tests).
	Now func() time.Time
}

type eventKind int

const (
	evQueue eventKind = iota
	evPause
	evResume
	evCancel
	evFrame
	evPumpRetry
	evChannelClosed
	evChannelError
	evSnapshot
	evStop
)

type event struct {
	kind  eventKind
	ob    *outbound
	id    string
	frame transport.Message
	err   error
	reply chan []Transfer
}

// outbound is one queued or in-flight sending transfer.
type outbound struct {
	t     Transfer
	r     io.Reader
	meter *progress.Meter
}

// inbound is the currently-assembling receiving transfer. Chunks
// accumulate in an append-only arena released as a whole on completion
// or cancellation.
type inbound struct {
	t      Transfer
	chunks [][]byte
	meter  *progress.Meter
}

// Engine drives file transfers over one transport channel. All state is
// owned by a single event-loop goroutine; public methods post events and
// never touch transfer records directly. Callbacks are invoked from the
// loop goroutine and receive copies.
type Engine struct {
	cfg    Config
	ch     transport.Channel
	logger *slog.Logger
	now    func() time.Time
	pool   *bufpool.Pool

	events  chan event
	done    chan struct{}
	started atomic.Bool

	// Loop-owned state.
	queue   []*outbound
	active  *outbound
	recv    *inbound
	waiting bool // backpressure retry timer pending
	stopped bool

	// OnProgress fires on every transfer state or byte-count change.
	OnProgress func(Transfer)
	// OnComplete fires when a receiving transfer is fully reassembled.
	OnComplete func(Artifact)
	// OnSent fires when a sending transfer completes.
	OnSent func(Transfer)
	// OnError fires once per transfer that enters the error state.
	OnError func(Transfer, error)
}

// NewEngine creates an engine over an open channel. Set callbacks before
// calling Start.
func NewEngine(ch transport.Channel, cfg Config) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxBufferedAmount <= 0 {
		cfg.MaxBufferedAmount = DefaultMaxBufferedAmount
	}
	if cfg.BackpressureDelay <= 0 {
		cfg.BackpressureDelay = defaultBackpressureDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:    cfg,
		ch:     ch,
		logger: cfg.Logger,
		now:    cfg.Now,
		pool:   bufpool.New(cfg.ChunkSize),
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
}

// Start registers channel handlers and launches the event loop.
func (e *Engine) Start() {
	e.started.Store(true)
	e.ch.OnMessage(func(msg transport.Message) {
		e.post(event{kind: evFrame, frame: msg})
	})
	e.ch.OnClose(func() {
		e.post(event{kind: evChannelClosed})
	})
	e.ch.OnError(func(err error) {
		e.post(event{kind: evChannelError, err: err})
	})
	go e.run()
}

// Stop terminates the event loop. Pending transfers are left as-is.
func (e *Engine) Stop() {
	e.post(event{kind: evStop})
}

// QueueFile appends a file to the send queue and returns its transfer id.
// Files are sent strictly one at a time in submission order.
func (e *Engine) QueueFile(name, mimeType string, size int64, r io.Reader) string {
	id := uuid.NewString()
	ob := &outbound{
		t: Transfer{
			ID: id,
			Metadata: FileMetadata{
				ID:          id,
				Name:        name,
				Size:        size,
				MimeType:    mimeType,
				TotalChunks: TotalChunks(size, e.cfg.ChunkSize),
			},
			Status:     StatusPending,
			TotalBytes: size,
		},
		r:     r,
		meter: progress.NewMeterWithNow(e.now),
	}
	e.post(event{kind: evQueue, ob: ob})
	return id
}

// Pause suspends the matching transferring send.
func (e *Engine) Pause(id string) {
	e.post(event{kind: evPause, id: id})
}

// Resume restarts the matching paused send from its retained chunk index.
func (e *Engine) Resume(id string) {
	e.post(event{kind: evResume, id: id})
}

// Cancel aborts the matching transfer from any non-terminal state.
// Cancelling a completed or errored transfer is a no-op.
func (e *Engine) Cancel(id string) {
	e.post(event{kind: evCancel, id: id})
}

// Transfers returns a snapshot of all live transfer records. It returns
// nil before Start and after Stop.
func (e *Engine) Transfers() []Transfer {
	if !e.started.Load() {
		return nil
	}
	reply := make(chan []Transfer, 1)
	e.post(event{kind: evSnapshot, reply: reply})
	select {
	case out := <-reply:
		return out
	case <-e.done:
		return nil
	}
}

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		if e.canPump() {
			// Drain control events first so pause/cancel take effect
			// before the next chunk is issued.
			select {
			case ev := <-e.events:
				if e.handle(ev) {
					return
				}
			default:
				e.pumpOne()
			}
		} else {
			ev := <-e.events
			if e.handle(ev) {
				return
			}
		}
	}
}

func (e *Engine) canPump() bool {
	return !e.stopped && !e.waiting && e.active != nil && e.active.t.Status == StatusTransferring
}

// pumpOne sends a single chunk, or schedules a backpressure retry when
// the channel's buffered amount is over the threshold.
func (e *Engine) pumpOne() {
	if e.ch.BufferedAmount() > e.cfg.MaxBufferedAmount {
		e.waiting = true
		time.AfterFunc(e.cfg.BackpressureDelay, func() {
			e.post(event{kind: evPumpRetry})
		})
		return
	}

	ob := e.active
	remaining := ob.t.TotalBytes - ob.t.BytesTransferred
	if remaining <= 0 {
		e.finishActive()
		return
	}
	n := int64(e.cfg.ChunkSize)
	if remaining < n {
		n = remaining
	}
	buf := e.pool.Get()[:n]
	if _, err := io.ReadFull(ob.r, buf); err != nil {
		e.pool.Put(buf)
		e.failActive(fmt.Errorf("read chunk %d: %w", ob.t.CurrentChunk, err))
		return
	}
	err := e.ch.Send(buf)
	e.pool.Put(buf)
	if err != nil {
		e.failActive(fmt.Errorf("send chunk %d: %w", ob.t.CurrentChunk, err))
		return
	}

	ob.t.CurrentChunk++
	ob.t.BytesTransferred += n
	ob.meter.Add(int(n))
	e.refresh(&ob.t, ob.meter)
	e.emitProgress(ob.t)

	if ob.t.BytesTransferred == ob.t.TotalBytes {
		e.finishActive()
	}
}

// finishActive completes the in-flight send and announces the next queued
// file. Sending transfer-complete before the next file-metadata is a
// protocol invariant: chunks are not tagged with a transfer id, so the
// receiver relies on strict sequencing.
func (e *Engine) finishActive() {
	ob := e.active
	ob.t.Status = StatusCompleted
	e.refresh(&ob.t, ob.meter)
	if err := e.sendControl(Control{Type: ControlComplete, FileID: ob.t.ID}); err != nil {
		e.logger.Warn("transfer-complete send failed", "transfer_id", ob.t.ID, "error", err)
	}
	e.emitProgress(ob.t)
	if e.OnSent != nil {
		e.OnSent(ob.t)
	}
	e.active = nil
	e.startNext()
}

func (e *Engine) failActive(err error) {
	ob := e.active
	ob.t.Status = StatusError
	ob.t.Error = err.Error()
	e.logger.Warn("sending transfer failed", "transfer_id", ob.t.ID, "error", err)
	e.emitError(ob.t, err)
	e.active = nil
	e.startNext()
}

// startNext announces metadata for the head of the queue and makes it the
// active send.
func (e *Engine) startNext() {
	for e.active == nil && len(e.queue) > 0 {
		ob := e.queue[0]
		e.queue = e.queue[1:]
		if ob.t.Status != StatusPending {
			continue
		}
		meta := ob.t.Metadata
		if err := e.sendControl(Control{Type: ControlFileMetadata, Metadata: &meta}); err != nil {
			ob.t.Status = StatusError
			ob.t.Error = err.Error()
			e.emitError(ob.t, err)
			continue
		}
		now := e.now()
		ob.t.Status = StatusTransferring
		ob.t.StartTime = now
		ob.t.LastUpdateTime = now
		ob.meter.Start(ob.t.TotalBytes)
		e.active = ob
		e.emitProgress(ob.t)
	}
}

func (e *Engine) handle(ev event) bool {
	switch ev.kind {
	case evQueue:
		if e.stopped {
			ev.ob.t.Status = StatusError
			ev.ob.t.Error = errChannelClosed.Error()
			e.emitError(ev.ob.t, errChannelClosed)
			return false
		}
		e.queue = append(e.queue, ev.ob)
		e.emitProgress(ev.ob.t)
		if e.active == nil {
			e.startNext()
		}
	case evPause:
		e.handlePause(ev.id, true)
	case evResume:
		e.handleResume(ev.id, true)
	case evCancel:
		e.handleCancel(ev.id, true)
	case evFrame:
		e.handleFrame(ev.frame)
	case evPumpRetry:
		e.waiting = false
	case evChannelClosed:
		e.failAll(errChannelClosed)
	case evChannelError:
		err := ev.err
		if err == nil {
			err = errChannelClosed
		}
		e.failAll(err)
	case evSnapshot:
		ev.reply <- e.snapshot()
	case evStop:
		return true
	}
	return false
}

func (e *Engine) handlePause(id string, local bool) {
	if e.active != nil && e.active.t.ID == id && e.active.t.Status == StatusTransferring {
		e.active.t.Status = StatusPaused
		e.active.t.LastUpdateTime = e.now()
		if local {
			if err := e.sendControl(Control{Type: ControlPause, FileID: id}); err != nil {
				e.logger.Warn("transfer-pause send failed", "transfer_id", id, "error", err)
			}
		}
		e.emitProgress(e.active.t)
		return
	}
	if !local && e.recv != nil && e.recv.t.ID == id && e.recv.t.Status == StatusTransferring {
		e.recv.t.Status = StatusPaused
		e.recv.t.LastUpdateTime = e.now()
		e.emitProgress(e.recv.t)
	}
}

func (e *Engine) handleResume(id string, local bool) {
	if e.active != nil && e.active.t.ID == id && e.active.t.Status == StatusPaused {
		e.active.t.Status = StatusTransferring
		e.active.t.LastUpdateTime = e.now()
		if local {
			if err := e.sendControl(Control{Type: ControlResume, FileID: id}); err != nil {
				e.logger.Warn("transfer-resume send failed", "transfer_id", id, "error", err)
			}
		}
		e.emitProgress(e.active.t)
		return
	}
	if !local && e.recv != nil && e.recv.t.ID == id && e.recv.t.Status == StatusPaused {
		e.recv.t.Status = StatusTransferring
		e.recv.t.LastUpdateTime = e.now()
		e.emitProgress(e.recv.t)
	}
}

// handleCancel aborts the matching transfer wherever it lives: the active
// send, the queue, or the receiving side. Terminal transfers are left
// alone.
func (e *Engine) handleCancel(id string, local bool) {
	if e.active != nil && e.active.t.ID == id {
		if e.active.t.Status.Terminal() {
			return
		}
		e.active.t.Status = StatusCancelled
		e.active.t.LastUpdateTime = e.now()
		if local {
			e.sendCancel(id)
		}
		e.emitProgress(e.active.t)
		e.active = nil
		e.startNext()
		return
	}
	for i, ob := range e.queue {
		if ob.t.ID != id {
			continue
		}
		e.queue = append(e.queue[:i], e.queue[i+1:]...)
		ob.t.Status = StatusCancelled
		ob.t.LastUpdateTime = e.now()
		if local {
			e.sendCancel(id)
		}
		e.emitProgress(ob.t)
		return
	}
	if e.recv != nil && e.recv.t.ID == id {
		if e.recv.t.Status.Terminal() {
			return
		}
		e.recv.t.Status = StatusCancelled
		e.recv.t.LastUpdateTime = e.now()
		if local {
			e.sendCancel(id)
		}
		e.emitProgress(e.recv.t)
		e.recv = nil
	}
}

func (e *Engine) sendCancel(id string) {
	if err := e.sendControl(Control{Type: ControlCancel, FileID: id}); err != nil {
		e.logger.Warn("transfer-cancel send failed", "transfer_id", id, "error", err)
	}
}

func (e *Engine) handleFrame(msg transport.Message) {
	if msg.Binary {
		e.handleChunk(msg.Data)
		return
	}
	ctl, err := DecodeControl(msg.Data)
	if err != nil {
		e.logger.Warn("malformed control frame", "error", err)
		return
	}
	switch ctl.Type {
	case ControlFileMetadata:
		e.handleMetadata(*ctl.Metadata)
	case ControlComplete:
		e.handleComplete(ctl.FileID)
	case ControlCancel:
		e.handleCancel(ctl.FileID, false)
	case ControlPause:
		e.handlePause(ctl.FileID, false)
	case ControlResume:
		e.handleResume(ctl.FileID, false)
	case ControlChunkAck:
		// Reserved; nothing consumes acks yet.
	}
}

func (e *Engine) handleMetadata(meta FileMetadata) {
	if e.recv != nil && !e.recv.t.Status.Terminal() {
		err := fmt.Errorf("metadata for %s while transfer %s is active", meta.ID, e.recv.t.ID)
		e.logger.Warn("overlapping receiving transfers", "error", err)
		e.recv.t.Status = StatusError
		e.recv.t.Error = err.Error()
		e.emitError(e.recv.t, err)
	}
	now := e.now()
	e.recv = &inbound{
		t: Transfer{
			ID:             meta.ID,
			Metadata:       meta,
			Status:         StatusTransferring,
			TotalBytes:     meta.Size,
			StartTime:      now,
			LastUpdateTime: now,
		},
		meter: progress.NewMeterWithNow(e.now),
	}
	e.recv.meter.Start(meta.Size)
	e.emitProgress(e.recv.t)
}

func (e *Engine) handleChunk(data []byte) {
	if e.recv == nil || e.recv.t.Status != StatusTransferring {
		e.logger.Warn("chunk with no active receiving transfer", "bytes", len(data))
		return
	}
	// The transport may reuse frame buffers; the arena keeps its own copy.
	buf := make([]byte, len(data))
	copy(buf, data)

	r := e.recv
	r.chunks = append(r.chunks, buf)
	r.t.BytesTransferred += int64(len(buf))
	r.meter.Add(len(buf))
	e.refresh(&r.t, r.meter)
	e.emitProgress(r.t)
}

func (e *Engine) handleComplete(fileID string) {
	if e.recv == nil || e.recv.t.ID != fileID {
		e.logger.Warn("transfer-complete for unknown transfer", "file_id", fileID)
		return
	}
	r := e.recv
	data := make([]byte, 0, r.t.Metadata.Size)
	for _, chunk := range r.chunks {
		data = append(data, chunk...)
	}
	if int64(len(data)) != r.t.Metadata.Size {
		err := fmt.Errorf("reassembled %d bytes, metadata says %d", len(data), r.t.Metadata.Size)
		r.t.Status = StatusError
		r.t.Error = err.Error()
		e.emitError(r.t, err)
		e.recv = nil
		return
	}
	r.t.Status = StatusCompleted
	e.refresh(&r.t, r.meter)
	e.emitProgress(r.t)
	if e.OnComplete != nil {
		e.OnComplete(Artifact{Metadata: r.t.Metadata, Data: data})
	}
	e.recv = nil
}

// failAll marks every live transfer errored after a channel-level failure
// and stops the engine from issuing further sends.
func (e *Engine) failAll(err error) {
	if e.stopped {
		return
	}
	e.stopped = true
	if e.active != nil && !e.active.t.Status.Terminal() {
		e.active.t.Status = StatusError
		e.active.t.Error = err.Error()
		e.emitError(e.active.t, err)
		e.active = nil
	}
	for _, ob := range e.queue {
		if ob.t.Status.Terminal() {
			continue
		}
		ob.t.Status = StatusError
		ob.t.Error = err.Error()
		e.emitError(ob.t, err)
	}
	e.queue = nil
	if e.recv != nil && !e.recv.t.Status.Terminal() {
		e.recv.t.Status = StatusError
		e.recv.t.Error = err.Error()
		e.emitError(e.recv.t, err)
		e.recv = nil
	}
}

func (e *Engine) snapshot() []Transfer {
	out := make([]Transfer, 0, len(e.queue)+2)
	if e.active != nil {
		out = append(out, e.active.t)
	}
	for _, ob := range e.queue {
		out = append(out, ob.t)
	}
	if e.recv != nil {
		out = append(out, e.recv.t)
	}
	return out
}

func (e *Engine) sendControl(c Control) error {
	raw, err := c.Encode()
	if err != nil {
		return err
	}
	return e.ch.SendText(raw)
}

func (e *Engine) refresh(t *Transfer, m *progress.Meter) {
	s := m.Snapshot()
	t.Speed = s.RateBps
	t.ETA = s.ETA
	t.LastUpdateTime = e.now()
}

func (e *Engine) emitProgress(t Transfer) {
	if e.OnProgress != nil {
		e.OnProgress(t)
	}
}

func (e *Engine) emitError(t Transfer, err error) {
	if e.OnError != nil {
		e.OnError(t, err)
	}
}
