package main

import (
	"context"
	"net"
	"time"

	"github.com/devshiv17/relay-server/internal/obs"
	"github.com/devshiv17/relay-server/internal/pairing"
	"github.com/devshiv17/relay-server/internal/proto"
	"github.com/devshiv17/relay-server/internal/ratelimit"
	"github.com/devshiv17/relay-server/internal/relay"
)

func acceptLoop(ctx context.Context, ln net.Listener, table *pairing.Table, ledger sessionLedger, limiter *ratelimit.ConnLimiter) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				obs.Error("accept.timeout", obs.Fields{"err": err.Error()})
				continue
			}
			return
		}
		if limiter != nil && !limiter.Allow(remoteIP(c)) {
			obs.Warn("accept.ratelimited", obs.Fields{"remote": c.RemoteAddr().String()})
			obs.ErrorsTotal.WithLabelValues("ratelimited").Inc()
			_ = proto.WriteResponse(c, false, "rate limited")
			_ = c.Close()
			continue
		}
		go handleConn(c, table, ledger)
	}
}

func remoteIP(c net.Conn) string {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return host
}

// handleConn drives one connection from handshake to its terminal outcome:
// matched (relay runs to completion), timed out, or failed. The connection is
// owned here until a match transfers it to the matching arrival's goroutine.
func handleConn(c net.Conn, table *pairing.Table, ledger sessionLedger) {
	remote := c.RemoteAddr().String()

	_ = c.SetReadDeadline(time.Now().Add(cfg.HandshakeTimeout))
	req, err := proto.ReadRequest(c, cfg.MaxFrame)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			obs.Error("handshake.timeout", obs.Fields{"remote": remote})
			obs.ErrorsTotal.WithLabelValues("handshake_timeout").Inc()
			_ = proto.WriteResponse(c, false, "request timeout")
		} else {
			obs.Error("handshake.invalid", obs.Fields{"remote": remote, "err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("handshake_invalid").Inc()
			_ = proto.WriteResponse(c, false, "invalid request: "+err.Error())
		}
		_ = c.Close()
		return
	}
	_ = c.SetReadDeadline(time.Time{})
	obs.Info("relay.request", obs.Fields{"remote": remote, "session": req.SessionID, "peer": req.PeerID, "role": req.Role})

	w := pairing.NewWaiter(req.SessionID, req.PeerID, req.Role, c)
	other, err := table.TryPair(w)
	if err != nil {
		obs.Warn("pairing.rejected", obs.Fields{"session": req.SessionID, "remote": remote, "reason": err.Error()})
		obs.ErrorsTotal.WithLabelValues("pairing_rejected").Inc()
		_ = proto.WriteResponse(c, false, err.Error())
		_ = c.Close()
		return
	}
	if other != nil {
		runPaired(w, other, table, ledger)
		return
	}

	// First arrival: hold the spot until the partner shows up or the timeout
	// fires. The watch goroutine surfaces connection loss while parked.
	ledger.markWaiting(req.SessionID, req.PeerID, req.Role, remote)
	obs.Info("pairing.waiting", obs.Fields{"session": req.SessionID, "remote": remote})
	go watchWaiter(table, w)

	select {
	case <-w.Ready:
		// The matching arrival owns both connections now.
		return
	case <-w.Failed:
		ledger.dropWaiting(req.SessionID, false)
		return
	case <-time.After(cfg.PairingTimeout):
		if table.Evict(w) {
			ledger.dropWaiting(req.SessionID, true)
			obs.Warn("pairing.timeout", obs.Fields{"session": req.SessionID, "remote": remote, "after": cfg.PairingTimeout.String()})
			obs.PairingTimeoutTotal.Inc()
			obs.ErrorsTotal.WithLabelValues("pairing_timeout").Inc()
			_ = proto.WriteResponse(c, false, "pairing timeout")
			_ = c.Close()
			return
		}
		// Eviction lost the race: a match or an I/O eviction got there first.
		select {
		case <-w.Ready:
		case <-w.Failed:
			ledger.dropWaiting(req.SessionID, false)
		}
	}
}

// watchWaiter performs a single one-byte read on a parked connection. An
// error means the peer vanished while waiting, so the waiter evicts itself.
// An actual byte means the peer jumped the gun on the protocol; it is kept in
// w.Early and delivered to the partner ahead of the copy loops. The matcher
// interrupts this read with a deadline and joins WatchDone before splicing,
// so the connection never has two concurrent readers.
func watchWaiter(table *pairing.Table, w *pairing.Waiter) {
	defer close(w.WatchDone)
	buf := make([]byte, 1)
	n, err := w.Conn.Read(buf)
	if n > 0 {
		w.Early = buf[:n]
	}
	if err == nil {
		return
	}
	if table.Evict(w) {
		obs.Warn("pairing.waiter_lost", obs.Fields{"session": w.SessionID, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("waiter_lost").Inc()
		close(w.Failed)
		_ = w.Conn.Close()
	}
}

// runPaired completes the match from the second arrival's side: it now owns
// both connections, acknowledges both peers, and splices them until either
// side ends the session.
func runPaired(w, other *pairing.Waiter, table *pairing.Table, ledger sessionLedger) {
	defer table.Release(w.SessionID)

	// Stop the waiter's watch read before writing anything to its conn.
	_ = other.Conn.SetReadDeadline(time.Now())
	<-other.WatchDone
	_ = other.Conn.SetReadDeadline(time.Time{})

	ledger.markPaired(w.SessionID)

	if err := proto.WriteResponse(other.Conn, true, ""); err != nil {
		obs.Error("pairing.ack_waiter", obs.Fields{"session": w.SessionID, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("ack_failed").Inc()
		_ = proto.WriteResponse(w.Conn, false, "peer unavailable")
		_ = other.Conn.Close()
		_ = w.Conn.Close()
		close(other.Ready)
		ledger.markDone(w.SessionID, 0, 0)
		return
	}
	if err := proto.WriteResponse(w.Conn, true, ""); err != nil {
		obs.Error("pairing.ack_arrival", obs.Fields{"session": w.SessionID, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("ack_failed").Inc()
		_ = other.Conn.Close()
		_ = w.Conn.Close()
		close(other.Ready)
		ledger.markDone(w.SessionID, 0, 0)
		return
	}
	close(other.Ready)
	obs.PairedTotal.Inc()
	obs.Info("pairing.matched", obs.Fields{
		"session": w.SessionID,
		"a":       other.Conn.RemoteAddr().String(), "a_peer": other.PeerID, "a_role": other.Role,
		"b": w.Conn.RemoteAddr().String(), "b_peer": w.PeerID, "b_role": w.Role,
		"waited": time.Since(other.Arrived).String(),
	})

	early := uint64(len(other.Early))
	if early > 0 {
		if _, err := w.Conn.Write(other.Early); err != nil {
			obs.Error("relay.forward_early", obs.Fields{"session": w.SessionID, "err": err.Error()})
			_ = other.Conn.Close()
			_ = w.Conn.Close()
			ledger.markDone(w.SessionID, 0, 0)
			return
		}
	}

	res := relay.Splice(other.Conn, w.Conn, cfg.BufferSize, cfg.CloseGrace)
	ledger.markDone(w.SessionID, res.AToB+early, res.BToA)
	obs.Info("relay.closed", obs.Fields{
		"session":  w.SessionID,
		"a_to_b":   res.AToB + early,
		"b_to_a":   res.BToA,
		"duration": res.Duration.String(),
	})
}
