package main

import (
	"flag"
	"time"
)

// Config holds all runtime configuration derived from flags (future: env vars / file).
type Config struct {
	ListenAddr       string
	OpsAddr          string
	PairingTimeout   time.Duration
	HandshakeTimeout time.Duration
	BufferSize       int
	MaxFrame         int
	CloseGrace       time.Duration
	DistinctRoles    bool
	GlobalConnRate   int
	SourceConnRate   int
	RateBurst        int
	SweepInterval    time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	Debug            bool
}

var cfg Config

// init registers flags into the global flag set. main() simply parses and uses cfg.
func init() {
	flag.StringVar(&cfg.ListenAddr, "listen", ":8444", "address for peer relay connections")
	flag.StringVar(&cfg.OpsAddr, "ops", ":9100", "metrics, health and dashboard listen address")
	flag.DurationVar(&cfg.PairingTimeout, "pairing-timeout", 30*time.Second, "time limit for the second peer of a session to arrive")
	flag.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", 10*time.Second, "time limit for a connection to send its handshake request")
	flag.IntVar(&cfg.BufferSize, "buffer-size", 64*1024, "per-direction relay copy buffer in bytes")
	flag.IntVar(&cfg.MaxFrame, "max-frame", 1<<20, "maximum allowed handshake frame payload bytes")
	flag.DurationVar(&cfg.CloseGrace, "close-grace", 5*time.Second, "grace period before a half-finished relay session is fully closed")
	flag.BoolVar(&cfg.DistinctRoles, "require-distinct-roles", false, "reject a second arrival claiming the same role as the waiting peer")
	flag.IntVar(&cfg.GlobalConnRate, "conn-rate", 0, "global accepted connections per second (0 = unlimited)")
	flag.IntVar(&cfg.SourceConnRate, "conn-rate-per-source", 0, "accepted connections per second per source IP (0 = unlimited)")
	flag.IntVar(&cfg.RateBurst, "conn-burst", 20, "burst size for connection rate limits")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", time.Minute, "interval for sweeping idle rate-limit buckets")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for the shared session ledger (empty = in-memory)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
}
