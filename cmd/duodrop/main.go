// duodrop is the peer binary: it joins a room through the rendezvous
// server, establishes a direct connection to the other endpoint, and
// transfers files over the data channel.
package main

import (
	"fmt"
	"os"

	"github.com/duodrop/duodrop/internal/cli"
	"github.com/duodrop/duodrop/internal/config"
	"github.com/duodrop/duodrop/internal/logging"
)

const version = "v0.1.0"

func main() {
	args := os.Args[1:]
	if hasHelpFlag(args) {
		printUsage()
		return
	}
	if hasVersionFlag(args) {
		fmt.Println(version)
		return
	}

	cfg := config.ParseClientConfig()
	if cfg.Room == "" {
		fmt.Fprintln(os.Stderr, "a room is required: pass --room or set DUODROP_ROOM")
		printUsage()
		os.Exit(2)
	}
	logger := logging.New("duodrop", cfg.LogLevel)

	os.Exit(cli.Run(cfg, logger))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: duodrop --room ID [--send FILE]... [options]")
	fmt.Fprintln(os.Stderr, "  --room ID             room identifier to join (both peers use the same ID)")
	fmt.Fprintln(os.Stderr, "  --send FILE           file to send once connected (repeatable)")
	fmt.Fprintln(os.Stderr, "  --out DIR             directory for received files (default .)")
	fmt.Fprintln(os.Stderr, "  --server-url URL      signaling server (default ws://localhost:8080/ws)")
	fmt.Fprintln(os.Stderr, "  --ice-server SPEC     ICE server as url[,username,credential] (repeatable)")
	fmt.Fprintln(os.Stderr, "  --chunk-size N        bytes per data channel frame (default 65536)")
	fmt.Fprintln(os.Stderr, "  --max-buffered N      backpressure threshold in bytes (default 262144)")
	fmt.Fprintln(os.Stderr, "  --log-level LEVEL     debug, info, warn, error (default info)")
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
