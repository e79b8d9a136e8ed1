package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/devshiv17/relay-server/internal/pairing"
	"github.com/devshiv17/relay-server/internal/proto"
)

// startTestRelay runs the accept loop on an ephemeral port with fast test
// timeouts. Tests share the package-level cfg, so they cannot be parallel.
func startTestRelay(t *testing.T, mutate func(*Config)) (string, *pairing.Table, *memoryLedger) {
	t.Helper()
	old := cfg
	t.Cleanup(func() { cfg = old })
	cfg = Config{
		PairingTimeout:   2 * time.Second,
		HandshakeTimeout: time.Second,
		BufferSize:       4096,
		MaxFrame:         1 << 20,
		CloseGrace:       time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	table := pairing.NewTable(cfg.DistinctRoles)
	ledger := newMemoryLedger()
	ctx, cancel := context.WithCancel(context.Background())
	go acceptLoop(ctx, ln, table, ledger, nil)
	t.Cleanup(func() { cancel(); ln.Close() })
	return ln.Addr().String(), table, ledger
}

func dialRelay(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sendRequest(t *testing.T, c net.Conn, sessionID, peerID, role string) {
	t.Helper()
	b, err := json.Marshal(proto.Request{SessionID: sessionID, PeerID: peerID, Role: role})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := proto.WriteFrame(c, b); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

func readResponse(t *testing.T, c net.Conn, within time.Duration) proto.Response {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(within))
	defer c.SetReadDeadline(time.Time{})
	payload, err := proto.ReadFrame(c, 1<<20)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp proto.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// Host and client present the same session id moments apart; both must get
// success and "PING" must cross verbatim.
func TestPairAndRelay(t *testing.T) {
	addr, _, ledger := startTestRelay(t, nil)

	a := dialRelay(t, addr)
	sendRequest(t, a, "abc", "host1", "host")

	time.Sleep(100 * time.Millisecond)
	b := dialRelay(t, addr)
	sendRequest(t, b, "abc", "client1", "client")

	respA := readResponse(t, a, 3*time.Second)
	respB := readResponse(t, b, 3*time.Second)
	if !respA.Success || !respB.Success {
		t.Fatalf("expected success on both, got %+v / %+v", respA, respB)
	}

	if _, err := a.Write([]byte("PING")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(b, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "PING" {
		t.Fatalf("got %q, want PING", buf)
	}

	// And the reverse direction.
	if _, err := b.Write([]byte("PONG")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(a, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "PONG" {
		t.Fatalf("got %q, want PONG", buf)
	}

	// Closing one side must surface as EOF on the other.
	_ = a.Close()
	_ = b.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := b.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after peer close, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return ledger.getStats().Active == 0 })
	if st := ledger.getStats(); st.PairedTotal != 1 {
		t.Errorf("paired total = %d, want 1", st.PairedTotal)
	}
}

func TestPairingTimeoutFreesSession(t *testing.T) {
	addr, table, ledger := startTestRelay(t, func(c *Config) { c.PairingTimeout = 300 * time.Millisecond })

	lone := dialRelay(t, addr)
	sendRequest(t, lone, "lonely", "p1", "host")
	resp := readResponse(t, lone, 2*time.Second)
	if resp.Success {
		t.Fatal("expected failure response after pairing timeout")
	}
	if !strings.Contains(resp.Message, "timeout") {
		t.Errorf("unexpected message %q", resp.Message)
	}
	_ = lone.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := lone.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected relay to close the connection, got %v", err)
	}
	if table.Waiting() != 0 {
		t.Fatalf("expected empty table, got %d waiters", table.Waiting())
	}
	if ledger.getStats().Timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", ledger.getStats().Timeouts)
	}

	// The session id is free for a fresh attempt.
	a := dialRelay(t, addr)
	sendRequest(t, a, "lonely", "p2", "host")
	b := dialRelay(t, addr)
	sendRequest(t, b, "lonely", "p3", "client")
	if !readResponse(t, a, 2*time.Second).Success || !readResponse(t, b, 2*time.Second).Success {
		t.Fatal("expected the freed session id to pair")
	}
}

func TestMalformedHandshakeLeavesTableUntouched(t *testing.T) {
	addr, table, _ := startTestRelay(t, nil)

	c := dialRelay(t, addr)
	if err := proto.WriteFrame(c, []byte("definitely not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readResponse(t, c, 2*time.Second); resp.Success {
		t.Fatal("expected failure for malformed payload")
	}

	c2 := dialRelay(t, addr)
	if err := proto.WriteFrame(c2, []byte(`{"peer_id":"x","role":"host"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readResponse(t, c2, 2*time.Second); resp.Success {
		t.Fatal("expected failure for missing session_id")
	}

	if table.Waiting() != 0 {
		t.Fatalf("failed handshakes must not create waiters, got %d", table.Waiting())
	}
}

func TestHandshakeReadTimeout(t *testing.T) {
	addr, _, _ := startTestRelay(t, func(c *Config) { c.HandshakeTimeout = 200 * time.Millisecond })

	c := dialRelay(t, addr)
	// Send nothing.
	resp := readResponse(t, c, 2*time.Second)
	if resp.Success {
		t.Fatal("expected failure for silent connection")
	}
	if !strings.Contains(resp.Message, "timeout") {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestThirdArrivalWhileRelayingIsRejected(t *testing.T) {
	addr, _, ledger := startTestRelay(t, nil)

	a := dialRelay(t, addr)
	sendRequest(t, a, "shared", "p1", "host")
	b := dialRelay(t, addr)
	sendRequest(t, b, "shared", "p2", "client")
	if !readResponse(t, a, 2*time.Second).Success || !readResponse(t, b, 2*time.Second).Success {
		t.Fatal("setup pair failed")
	}

	c := dialRelay(t, addr)
	sendRequest(t, c, "shared", "p3", "client")
	resp := readResponse(t, c, 2*time.Second)
	if resp.Success {
		t.Fatal("third arrival for a relaying session must be rejected")
	}
	if !strings.Contains(resp.Message, "busy") {
		t.Errorf("unexpected message %q", resp.Message)
	}

	// Once the pair tears down the id starts a brand-new attempt.
	_ = a.Close()
	_ = b.Close()
	waitFor(t, 3*time.Second, func() bool { return ledger.getStats().Active == 0 })

	d := dialRelay(t, addr)
	sendRequest(t, d, "shared", "p4", "host")
	e := dialRelay(t, addr)
	sendRequest(t, e, "shared", "p5", "client")
	if !readResponse(t, d, 2*time.Second).Success || !readResponse(t, e, 2*time.Second).Success {
		t.Fatal("expected a fresh pairing after the session freed up")
	}
}

func TestWaiterDisconnectFreesSession(t *testing.T) {
	addr, table, _ := startTestRelay(t, nil)

	a := dialRelay(t, addr)
	sendRequest(t, a, "gone", "p1", "host")
	waitFor(t, 2*time.Second, func() bool { return table.Waiting() == 1 })

	_ = a.Close()
	waitFor(t, 2*time.Second, func() bool { return table.Waiting() == 0 })
}

// Bytes written by a peer between its request and the relay's response must
// not be lost: the liveness watch hands them to the partner ahead of the
// copy loops.
func TestEarlyBytesForwarded(t *testing.T) {
	addr, _, _ := startTestRelay(t, nil)

	a := dialRelay(t, addr)
	sendRequest(t, a, "eager", "p1", "host")
	time.Sleep(50 * time.Millisecond)
	if _, err := a.Write([]byte("EARLY")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	b := dialRelay(t, addr)
	sendRequest(t, b, "eager", "p2", "client")
	if !readResponse(t, a, 2*time.Second).Success || !readResponse(t, b, 2*time.Second).Success {
		t.Fatal("pairing failed")
	}

	buf := make([]byte, 5)
	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(b, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "EARLY" {
		t.Fatalf("got %q, want EARLY", buf)
	}
}

func TestDistinctRolesPolicy(t *testing.T) {
	addr, _, _ := startTestRelay(t, func(c *Config) { c.DistinctRoles = true })

	a := dialRelay(t, addr)
	sendRequest(t, a, "strict", "p1", "host")
	time.Sleep(50 * time.Millisecond)

	dup := dialRelay(t, addr)
	sendRequest(t, dup, "strict", "p2", "host")
	if resp := readResponse(t, dup, 2*time.Second); resp.Success {
		t.Fatal("duplicate role must be rejected when the policy is on")
	}

	b := dialRelay(t, addr)
	sendRequest(t, b, "strict", "p3", "client")
	if !readResponse(t, a, 2*time.Second).Success || !readResponse(t, b, 2*time.Second).Success {
		t.Fatal("distinct roles must still pair")
	}
}

// Fire the second arrival right around the pairing deadline many times: the
// outcome must always be consistent, either both peers succeed or both fail.
// A success on one side with the other stranded would mean the timeout and
// the match both claimed the waiter.
func TestTimeoutMatchRaceConsistency(t *testing.T) {
	const timeout = 50 * time.Millisecond
	addr, _, _ := startTestRelay(t, func(c *Config) { c.PairingTimeout = timeout })

	for i := 0; i < 20; i++ {
		a := dialRelay(t, addr)
		sendRequest(t, a, "racy", "p1", "host")

		jitter := time.Duration(rand.Int63n(int64(20 * time.Millisecond)))
		time.Sleep(timeout - 10*time.Millisecond + jitter)

		b := dialRelay(t, addr)
		sendRequest(t, b, "racy", "p2", "client")

		// Responses are single small frames the relay writes regardless of
		// our read order, so sequential reads are safe.
		respA := readResponse(t, a, 3*time.Second)
		respB := readResponse(t, b, 3*time.Second)

		if respA.Success != respB.Success {
			t.Fatalf("iteration %d: inconsistent outcome: A=%+v B=%+v", i, respA, respB)
		}
		_ = a.Close()
		_ = b.Close()
	}
}

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
