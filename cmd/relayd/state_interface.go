package main

// sessionLedger records session lifecycle for dashboards and the state API.
// It is observational only: the pairing invariants live in internal/pairing,
// and connection handles never enter the ledger. The Redis implementation
// exists so a fleet of relays can share one dashboard view.
type sessionLedger interface {
	markWaiting(sessionID, peerID, role, remote string)
	markPaired(sessionID string)
	markDone(sessionID string, bytesAB, bytesBA uint64)
	dropWaiting(sessionID string, timedOut bool)
	setReady(ready bool)
	setClosing(closing bool)
	isReady() bool
	isClosing() bool
	getStats() ledgerStats
}

// ledgerStats is a point-in-time snapshot for /relay/api/state and the dashboard.
type ledgerStats struct {
	Waiting     int
	Active      int
	PairedTotal int64
	Timeouts    int64
	BytesTotal  uint64
}
