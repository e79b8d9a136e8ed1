package main

import (
	"flag"
	"time"
)

// Config holds peer runtime configuration.
type Config struct {
	ServerAddr string
	SessionID  string
	PeerID     string
	Mode       string
	Target     string
	Listen     string
	Wait       time.Duration
	BufferSize int
	Retry      time.Duration
}

var cfg Config

// init registers all peer flags into the default flag set.
func init() {
	flag.StringVar(&cfg.ServerAddr, "server", "127.0.0.1:8444", "relay server address")
	flag.StringVar(&cfg.SessionID, "session", "", "shared session identifier; generated and printed when empty")
	flag.StringVar(&cfg.PeerID, "peer-id", "", "peer identifier reported to the relay (defaults to hostname)")
	flag.StringVar(&cfg.Mode, "mode", "host", "host: bridge a local target through the relay; client: accept local connections and bridge them")
	flag.StringVar(&cfg.Target, "target", "127.0.0.1:3000", "local address to bridge in host mode")
	flag.StringVar(&cfg.Listen, "listen", "127.0.0.1:7000", "local listen address in client mode (one bridged connection at a time)")
	flag.DurationVar(&cfg.Wait, "wait", time.Minute, "how long to wait for the relay to pair us with the other peer")
	flag.IntVar(&cfg.BufferSize, "buffer-size", 64*1024, "copy buffer in bytes")
	flag.DurationVar(&cfg.Retry, "retry", 2*time.Second, "delay before redialing the relay after a session ends (host mode)")
}
