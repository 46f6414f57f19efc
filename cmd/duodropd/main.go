// duodropd is the rendezvous server: it pairs two endpoints in a room
// and relays their signaling messages verbatim.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duodrop/duodrop/internal/config"
	"github.com/duodrop/duodrop/internal/logging"
	"github.com/duodrop/duodrop/internal/relay"
	"github.com/duodrop/duodrop/internal/rooms"
	"github.com/duodrop/duodrop/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // browser peers connect from any origin
	},
}

const serverVersion = "v0.1.0"

const (
	maxMessageBytes = 64 * 1024
	idleTimeout     = 10 * time.Minute
	pingInterval    = 30 * time.Second
	writeWait       = 10 * time.Second
)

var connectLimiter = newIPLimiter(0.5, 10)

func main() {
	if hasHelpFlag(os.Args[1:]) {
		printUsage()
		return
	}
	if hasVersionFlag(os.Args[1:]) {
		fmt.Println(serverVersion)
		return
	}
	cfg := config.ParseServerConfig()
	logger := logging.New("duodropd", cfg.LogLevel)

	registry := rooms.NewRegistry()
	service := relay.NewService(registry, logger)

	go sweepLoop(registry, cfg, logger)

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, service, logger)
	})

	logger.Info("starting server", "addr", cfg.Addr, "room_ttl", cfg.RoomTTL)
	if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func sweepLoop(registry *rooms.Registry, cfg config.ServerConfig, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		if n := registry.Sweep(time.Now(), cfg.RoomTTL); n > 0 {
			logger.Info("swept stale rooms", "count", n, "remaining", registry.Len())
		}
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request, service *relay.Service, logger *slog.Logger) {
	if ip := clientIP(r); ip != "" && !connectLimiter.Allow(ip) {
		sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	var writeMu sync.Mutex
	conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		writeMu.Lock()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		writeMu.Unlock()
		return err
	})

	deliver := func(msg protocol.Message) error {
		raw, err := msg.Encode()
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, raw)
	}
	endpoint := service.Connect(deliver)
	defer service.HandleDisconnect(endpoint)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				writeMu.Unlock()
			}
		}
	}()

	logger.Info("endpoint connected", "endpoint", endpoint.ID, "remote", r.RemoteAddr)

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				logger.Info("websocket idle timeout", "endpoint", endpoint.ID)
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("websocket read error", "error", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(idleTimeout))

		if messageType != websocket.TextMessage {
			// The wire protocol is JSON over text frames only.
			_ = deliver(protocol.Error("Invalid message format"))
			continue
		}
		service.HandleMessage(endpoint, raw)
	}

	logger.Info("endpoint disconnected", "endpoint", endpoint.ID)
}

func sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: duodropd [--addr ADDR] [--room-ttl DURATION] [--sweep-interval DURATION] [--log-level LEVEL]")
	fmt.Fprintln(os.Stderr, "  --addr ADDR                listen address (default :8080)")
	fmt.Fprintln(os.Stderr, "  --room-ttl DURATION        empty room lifetime before cleanup (default 1h)")
	fmt.Fprintln(os.Stderr, "  --sweep-interval DURATION  room cleanup interval (default 5m)")
	fmt.Fprintln(os.Stderr, "  --log-level LEVEL          debug, info, warn, error (default info)")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64
	burst  float64
}

func newTokenBucket(ratePerSec float64, burst int) *tokenBucket {
	if ratePerSec < 0 {
		ratePerSec = 0
	}
	if burst < 1 {
		burst = 1
	}
	return &tokenBucket{
		tokens: float64(burst),
		last:   time.Now(),
		rate:   ratePerSec,
		burst:  float64(burst),
	}
}

func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64
	burst   int
}

func newIPLimiter(ratePerSec float64, burst int) *ipLimiter {
	return &ipLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    ratePerSec,
		burst:   burst,
	}
}

func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rate <= 0 {
		return true
	}
	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = newTokenBucket(l.rate, l.burst)
		l.buckets[ip] = bucket
	}
	return bucket.Allow()
}
