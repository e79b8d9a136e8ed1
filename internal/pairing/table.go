package pairing

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/devshiv17/relay-server/internal/obs"
)

var (
	// ErrSessionBusy means the session id is currently paired and relaying.
	// Session ids are not fan-out handles; a third arrival is rejected.
	ErrSessionBusy = errors.New("session busy")
	// ErrRoleConflict means role validation is enabled and the second arrival
	// claimed the same role as the waiter. The waiter keeps its place.
	ErrRoleConflict = errors.New("role already claimed for session")
)

// Waiter is a connection that completed its handshake and is holding a place
// in the table until its partner arrives. The waiting goroutine owns Conn
// until a matching arrival removes the entry; from then on the matcher owns
// both connections and releases the waiting goroutine by closing Ready.
type Waiter struct {
	SessionID string
	PeerID    string
	Role      string
	Conn      net.Conn
	Arrived   time.Time

	// Ready is closed by the arrival that paired with this waiter, after the
	// success response has been written to Conn.
	Ready chan struct{}

	// Failed is closed by whoever evicted this waiter for an I/O error while
	// it was parked. At most one of Ready/Failed is ever closed.
	Failed chan struct{}

	// Early holds at most one byte read off Conn by the liveness watch before
	// pairing completed; the matcher forwards it to the partner ahead of the
	// copy loops. WatchDone is closed once the watch goroutine has stopped
	// reading Conn.
	Early     []byte
	WatchDone chan struct{}
}

// NewWaiter builds a waiter for conn stamped with the current time.
func NewWaiter(sessionID, peerID, role string, conn net.Conn) *Waiter {
	return &Waiter{
		SessionID: sessionID,
		PeerID:    peerID,
		Role:      role,
		Conn:      conn,
		Arrived:   time.Now(),
		Ready:     make(chan struct{}),
		Failed:    make(chan struct{}),
		WatchDone: make(chan struct{}),
	}
}

// Table is the process-wide pairing registry: session id -> at most one
// waiter. All transitions happen under one mutex, so concurrent TryPair calls
// for the same id can never both insert, and a timeout eviction can never
// race a match into claiming the same waiter twice.
type Table struct {
	mu            sync.Mutex
	waiters       map[string]*Waiter
	active        map[string]struct{} // session ids currently relaying
	distinctRoles bool
}

// NewTable returns an empty table. When requireDistinctRoles is set, a second
// arrival whose role matches the waiter's is rejected instead of paired.
func NewTable(requireDistinctRoles bool) *Table {
	return &Table{
		waiters:       make(map[string]*Waiter),
		active:        make(map[string]struct{}),
		distinctRoles: requireDistinctRoles,
	}
}

// TryPair is the atomic match-or-wait step. If no waiter holds w.SessionID,
// w is inserted and (nil, nil) is returned: the caller must park until
// w.Ready or its timeout. If a waiter is present it is removed and returned:
// the caller now owns both connections and must mark the session released
// once relaying ends. ErrSessionBusy rejects ids that are mid-relay;
// ErrRoleConflict (policy-gated) rejects duplicate roles without disturbing
// the waiter.
func (t *Table) TryPair(w *Waiter) (*Waiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.active[w.SessionID]; busy {
		return nil, ErrSessionBusy
	}
	other, ok := t.waiters[w.SessionID]
	if !ok {
		t.waiters[w.SessionID] = w
		obs.WaitingSessions.Set(float64(len(t.waiters)))
		return nil, nil
	}
	if t.distinctRoles && other.Role == w.Role {
		return nil, ErrRoleConflict
	}
	delete(t.waiters, w.SessionID)
	t.active[w.SessionID] = struct{}{}
	obs.WaitingSessions.Set(float64(len(t.waiters)))
	obs.ActivePairs.Set(float64(len(t.active)))
	return other, nil
}

// Evict removes w from the table, but only if it is still the registered
// waiter for its session id. A false return means a match (or an earlier
// eviction) already claimed it, and the caller must defer to that outcome.
func (t *Table) Evict(w *Waiter) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.waiters[w.SessionID]
	if !ok || cur != w {
		return false
	}
	delete(t.waiters, w.SessionID)
	obs.WaitingSessions.Set(float64(len(t.waiters)))
	return true
}

// Release frees a session id once its relay has fully ended, making it
// available for a fresh pairing attempt.
func (t *Table) Release(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, sessionID)
	obs.ActivePairs.Set(float64(len(t.active)))
}

// Waiting reports the number of sessions with a parked waiter.
func (t *Table) Waiting() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// Active reports the number of sessions currently relaying.
func (t *Table) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
