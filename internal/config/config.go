package config

import (
	"flag"
	"os"
	"strings"
	"time"
)

// ServerConfig holds configuration for the rendezvous server binary.
type ServerConfig struct {
	Addr          string
	LogLevel      string
	RoomTTL       time.Duration // how long an empty room survives before sweeping
	SweepInterval time.Duration
}

// ICEServer is one STUN or TURN server used during connection setup.
type ICEServer struct {
	URL        string
	Username   string
	Credential string
}

// ClientConfig holds configuration for the peer binary.
type ClientConfig struct {
	ServerURL   string
	LogLevel    string
	Room        string
	ICEServers  []ICEServer
	ChunkSize   int      // bytes per data channel frame
	MaxBuffered int      // backpressure threshold in bytes
	OutDir      string   // where received files land
	SendPaths   []string // files to send once connected
}

// ParseServerConfig parses server configuration from flags and environment variables.
// Flags take precedence over environment variables.
// Defaults: addr=":8080", logLevel="info", roomTTL=1h, sweepInterval=5m
func ParseServerConfig() ServerConfig {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) ServerConfig {
	cfg := ServerConfig{
		Addr:          ":8080",
		LogLevel:      "info",
		RoomTTL:       time.Hour,
		SweepInterval: 5 * time.Minute,
	}

	// Read from environment first
	if addr := os.Getenv("DUODROP_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if logLevel := os.Getenv("DUODROP_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if ttl := os.Getenv("DUODROP_ROOM_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.RoomTTL = d
		}
	}

	// Flags override environment
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "server address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.DurationVar(&cfg.RoomTTL, "room-ttl", cfg.RoomTTL, "empty room lifetime before cleanup")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "room cleanup interval")
	fs.Parse(args)

	return cfg
}

// ParseClientConfig parses peer configuration from flags and environment variables.
// Flags take precedence over environment variables.
// Defaults: serverURL="ws://localhost:8080/ws", logLevel="info",
// chunkSize=64 KiB, maxBuffered=256 KiB, out=".".
func ParseClientConfig() ClientConfig {
	return parseClientConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) ClientConfig {
	cfg := ClientConfig{
		ServerURL:   "ws://localhost:8080/ws",
		LogLevel:    "info",
		ChunkSize:   64 * 1024,
		MaxBuffered: 256 * 1024,
		OutDir:      ".",
	}

	// Read from environment first
	if serverURL := os.Getenv("DUODROP_SERVER_URL"); serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if logLevel := os.Getenv("DUODROP_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if room := os.Getenv("DUODROP_ROOM"); room != "" {
		cfg.Room = room
	}
	if out := os.Getenv("DUODROP_OUT"); out != "" {
		cfg.OutDir = out
	}

	// Flags override environment
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "signaling server URL (ws:// or wss://)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Room, "room", cfg.Room, "room identifier to join")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "directory for received files")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "chunk size in bytes for file transfer")
	fs.IntVar(&cfg.MaxBuffered, "max-buffered", cfg.MaxBuffered, "backpressure threshold in bytes")

	// Repeatable flags
	sends := make([]string, 0)
	fs.Var((*stringSlice)(&sends), "send", "file to send once connected (repeatable)")
	iceSpecs := make([]string, 0)
	fs.Var((*stringSlice)(&iceSpecs), "ice-server", "ICE server as url[,username,credential] (repeatable)")

	fs.Parse(args)

	cfg.SendPaths = sends
	for _, spec := range iceSpecs {
		cfg.ICEServers = append(cfg.ICEServers, parseICEServer(spec))
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []ICEServer{{URL: "stun:stun.l.google.com:19302"}}
	}

	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 64 * 1024
	}
	if cfg.MaxBuffered < cfg.ChunkSize {
		cfg.MaxBuffered = 4 * cfg.ChunkSize
	}

	return cfg
}

// parseICEServer splits "url[,username,credential]". A spec with exactly
// one comma keeps the remainder as username with no credential.
func parseICEServer(spec string) ICEServer {
	parts := strings.SplitN(spec, ",", 3)
	s := ICEServer{URL: parts[0]}
	if len(parts) > 1 {
		s.Username = parts[1]
	}
	if len(parts) > 2 {
		s.Credential = parts[2]
	}
	return s
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func (s *stringSlice) Get() interface{} {
	return []string(*s)
}

func (s *stringSlice) IsBoolFlag() bool {
	return false
}

var _ flag.Value = (*stringSlice)(nil)
var _ flag.Getter = (*stringSlice)(nil)
