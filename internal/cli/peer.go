// Package cli runs the peer lifecycle for the duodrop binary: connect to
// the rendezvous server, negotiate the data channel, then send queued
// files and write received ones to disk.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pion/webrtc/v4"

	"github.com/duodrop/duodrop/internal/config"
	"github.com/duodrop/duodrop/internal/peerconn"
	"github.com/duodrop/duodrop/internal/signaling"
	"github.com/duodrop/duodrop/internal/transfer"
	"github.com/duodrop/duodrop/internal/transport"
)

// Run connects to the room and drives transfers until the peer leaves,
// an error occurs, or all queued sends finish. The return value is the
// process exit code.
func Run(cfg config.ClientConfig, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := signaling.Dial(ctx, cfg.ServerURL, logger)
	if err != nil {
		logger.Error("connect to signaling server", "error", err)
		return 1
	}
	defer client.Close()

	orch := peerconn.NewOrchestrator(client, peerconn.NewWebRTCSessionFactory(iceServers(cfg)), logger)

	states := make(chan peerconn.ConnectionState, 16)
	channels := make(chan transport.Channel, 1)
	orch.OnStateChange = func(s peerconn.ConnectionState) {
		select {
		case states <- s:
		default:
		}
	}
	orch.OnChannel = func(ch transport.Channel) {
		select {
		case channels <- ch:
		default:
		}
	}
	orch.OnWarning = func(err error) {
		logger.Warn("negotiation", "error", err)
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- client.ReadLoop(ctx, orch.HandleSignal)
	}()

	if err := orch.Connect(cfg.Room); err != nil {
		logger.Error("join room", "room", cfg.Room, "error", err)
		return 1
	}
	defer orch.Close()
	fmt.Fprintf(os.Stdout, "waiting for peer in room %s\n", cfg.Room)

	tracker := newSendTracker(len(cfg.SendPaths))

	var engine *transfer.Engine
	connected := false

	for {
		select {
		case <-ctx.Done():
			return 0

		case err := <-readErr:
			if ctx.Err() != nil {
				return 0
			}
			logger.Error("signaling connection lost", "error", err)
			return 1

		case ch := <-channels:
			engine = newEngine(ch, cfg, logger, tracker)
			engine.Start()
			defer engine.Stop()
			if connected {
				queueFiles(engine, cfg.SendPaths, logger, tracker)
			}

		case s := <-states:
			switch s {
			case peerconn.StateConnected:
				fmt.Fprintln(os.Stdout, "peer connected")
				if !connected {
					connected = true
					if engine != nil {
						queueFiles(engine, cfg.SendPaths, logger, tracker)
					}
				}
			case peerconn.StatePeerLeft:
				fmt.Fprintln(os.Stdout, "peer left")
				return 1
			case peerconn.StateError:
				return 1
			}

		case <-tracker.done:
			// Send-only invocations exit once the last file is
			// acknowledged complete; duplex peers keep running.
			fmt.Fprintln(os.Stdout, "all files sent")
			return 0
		}
	}
}

// sendTracker counts queued sends down to zero so a send-only invocation
// knows when to exit. Every file is accounted for exactly once: a failed
// open/stat via drop, a completed or errored transfer via finish. finish
// may race ahead of add for tiny files, so early completions are held
// until add matches them.
type sendTracker struct {
	mu     sync.Mutex
	queued map[string]bool
	early  map[string]bool
	left   int
	closed bool
	done   chan struct{}
}

func newSendTracker(n int) *sendTracker {
	return &sendTracker{
		queued: make(map[string]bool),
		early:  make(map[string]bool),
		left:   n,
		done:   make(chan struct{}),
	}
}

// add records a transfer id handed to the engine.
func (t *sendTracker) add(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.early[id] {
		delete(t.early, id)
		t.settle()
		return
	}
	t.queued[id] = true
}

// drop accounts for a file that never made it into the engine.
func (t *sendTracker) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settle()
}

// finish accounts for a tracked transfer that completed or errored.
// Unknown ids (receiving transfers) are remembered but never settle.
func (t *sendTracker) finish(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queued[id] {
		delete(t.queued, id)
		t.settle()
		return
	}
	t.early[id] = true
}

func (t *sendTracker) settle() {
	t.left--
	if t.left == 0 && !t.closed {
		t.closed = true
		close(t.done)
	}
}

func newEngine(ch transport.Channel, cfg config.ClientConfig, logger *slog.Logger, tracker *sendTracker) *transfer.Engine {
	engine := transfer.NewEngine(ch, transfer.Config{
		ChunkSize:         cfg.ChunkSize,
		MaxBufferedAmount: cfg.MaxBuffered,
		Logger:            logger,
	})
	engine.OnProgress = func(t transfer.Transfer) {
		if t.Status == transfer.StatusTransferring && t.TotalBytes > 0 {
			pct := float64(t.BytesTransferred) / float64(t.TotalBytes) * 100
			fmt.Fprintf(os.Stdout, "\r%s: %.1f%% (%.1f KB/s)", t.Metadata.Name, pct, t.Speed/1024)
		}
	}
	engine.OnSent = func(t transfer.Transfer) {
		fmt.Fprintf(os.Stdout, "\nsent %s (%d bytes)\n", t.Metadata.Name, t.TotalBytes)
		tracker.finish(t.ID)
	}
	engine.OnComplete = func(a transfer.Artifact) {
		path := filepath.Join(cfg.OutDir, filepath.Base(a.Metadata.Name))
		if err := os.WriteFile(path, a.Data, 0o644); err != nil {
			logger.Error("write received file", "path", path, "error", err)
			return
		}
		fmt.Fprintf(os.Stdout, "\nreceived %s (%d bytes)\n", path, len(a.Data))
	}
	engine.OnError = func(t transfer.Transfer, err error) {
		logger.Error("transfer failed", "file", t.Metadata.Name, "error", err)
		tracker.finish(t.ID)
	}
	return engine
}

func queueFiles(engine *transfer.Engine, paths []string, logger *slog.Logger, tracker *sendTracker) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("open file", "path", path, "error", err)
			tracker.drop()
			continue
		}
		info, err := f.Stat()
		if err != nil {
			logger.Error("stat file", "path", path, "error", err)
			f.Close()
			tracker.drop()
			continue
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		id := engine.QueueFile(filepath.Base(path), mimeType, info.Size(), f)
		tracker.add(id)
		logger.Info("queued file", "path", path, "size", info.Size(), "transfer", id)
	}
}

func iceServers(cfg config.ClientConfig) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		server := webrtc.ICEServer{URLs: []string{s.URL}}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers
}
