package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/devshiv17/relay-server/internal/proto"
	"github.com/devshiv17/relay-server/internal/relay"
)

func main() {
	flag.Parse()
	if cfg.SessionID == "" {
		id, err := randomID(16)
		if err != nil {
			log.Fatalf("generate session id: %v", err)
		}
		cfg.SessionID = id
		log.Printf("generated session id %s (pass it to the other peer with -session)", id)
	}
	if cfg.PeerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "peer"
		}
		cfg.PeerID = host
	}

	switch cfg.Mode {
	case "host":
		runHost()
	case "client":
		runClient()
	default:
		log.Fatalf("unknown mode %q (want host or client)", cfg.Mode)
	}
}

// runHost repeatedly offers the local target through the relay: each
// completed (or failed) session is followed by a fresh rendezvous attempt.
func runHost() {
	log.Printf("host peer starting session=%s target=%s relay=%s", cfg.SessionID, cfg.Target, cfg.ServerAddr)
	for {
		if err := hostOnce(); err != nil {
			log.Printf("session ended: %v", err)
		}
		time.Sleep(cfg.Retry)
		log.Printf("reconnecting...")
	}
}

func hostOnce() error {
	rc, err := rendezvous("host")
	if err != nil {
		return err
	}
	defer rc.Close()
	local, err := net.Dial("tcp", cfg.Target)
	if err != nil {
		return fmt.Errorf("dial local target: %w", err)
	}
	defer local.Close()
	log.Printf("paired; bridging %s", cfg.Target)
	res := relay.Splice(rc, local, cfg.BufferSize, relay.DefaultCloseGrace)
	log.Printf("bridge closed: %d bytes in, %d bytes out, %s", res.AToB, res.BToA, res.Duration)
	return nil
}

// runClient accepts local connections and bridges them through the relay,
// one session at a time (both peers must share the session id, so concurrent
// bridges would collide on it).
func runClient() {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.Listen, err)
	}
	log.Printf("client peer listening on %s session=%s relay=%s", cfg.Listen, cfg.SessionID, cfg.ServerAddr)
	for {
		local, err := ln.Accept()
		if err != nil {
			log.Fatalf("accept: %v", err)
		}
		rc, err := rendezvous("client")
		if err != nil {
			log.Printf("rendezvous failed: %v", err)
			_ = local.Close()
			continue
		}
		log.Printf("paired; bridging %s", local.RemoteAddr())
		res := relay.Splice(rc, local, cfg.BufferSize, relay.DefaultCloseGrace)
		log.Printf("bridge closed: %d bytes in, %d bytes out, %s", res.AToB, res.BToA, res.Duration)
	}
}

// rendezvous dials the relay, sends the handshake request and waits for the
// pairing response. On success the returned connection is a raw pipe to the
// other peer.
func rendezvous(role string) (net.Conn, error) {
	c, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	b, err := json.Marshal(proto.Request{SessionID: cfg.SessionID, PeerID: cfg.PeerID, Role: role})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := proto.WriteFrame(c, b); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("send request: %w", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(cfg.Wait))
	payload, err := proto.ReadFrame(c, proto.DefaultMaxFrame)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("read response: %w", err)
	}
	_ = c.SetReadDeadline(time.Time{})
	var resp proto.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !resp.Success {
		_ = c.Close()
		return nil, fmt.Errorf("relay refused: %s", resp.Message)
	}
	return c, nil
}

func randomID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
