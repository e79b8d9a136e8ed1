package main

import (
	"sync"
	"time"
)

// waitingEntry mirrors a parked waiter for display purposes only.
type waitingEntry struct {
	peerID  string
	role    string
	remote  string
	arrived time.Time
}

// memoryLedger is the default single-instance session ledger.
type memoryLedger struct {
	mu          sync.Mutex
	waiting     map[string]*waitingEntry
	active      map[string]time.Time
	pairedTotal int64
	timeouts    int64
	bytesTotal  uint64
	closing     bool
	ready       bool
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		waiting: make(map[string]*waitingEntry),
		active:  make(map[string]time.Time),
	}
}

func (m *memoryLedger) markWaiting(sessionID, peerID, role, remote string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting[sessionID] = &waitingEntry{peerID: peerID, role: role, remote: remote, arrived: time.Now()}
}

func (m *memoryLedger) markPaired(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waiting, sessionID)
	m.active[sessionID] = time.Now()
	m.pairedTotal++
}

func (m *memoryLedger) markDone(sessionID string, bytesAB, bytesBA uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, sessionID)
	m.bytesTotal += bytesAB + bytesBA
}

func (m *memoryLedger) dropWaiting(sessionID string, timedOut bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waiting, sessionID)
	if timedOut {
		m.timeouts++
	}
}

func (m *memoryLedger) setReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
}

func (m *memoryLedger) setClosing(closing bool) {
	m.mu.Lock()
	m.closing = closing
	m.mu.Unlock()
}

func (m *memoryLedger) isReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *memoryLedger) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

func (m *memoryLedger) getStats() ledgerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ledgerStats{
		Waiting:     len(m.waiting),
		Active:      len(m.active),
		PairedTotal: m.pairedTotal,
		Timeouts:    m.timeouts,
		BytesTotal:  m.bytesTotal,
	}
}
