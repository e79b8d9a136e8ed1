package proto

// Request is the first (and only) handshake frame a peer sends after
// connecting. Both sides of a session present the same SessionID; the relay
// matches on it alone.
type Request struct {
	SessionID string `json:"session_id"`
	PeerID    string `json:"peer_id"`
	Role      string `json:"role"`
}

// Response is the relay's single handshake reply. Success means the peer is
// now paired and the connection has become a raw byte pipe; on failure the
// relay closes the connection right after writing it.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
