package proto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxFrame bounds handshake frames so a hostile peer cannot make the
// relay allocate arbitrary memory. Handshake messages are tiny; 1 MiB is
// already generous.
const DefaultMaxFrame = 1 << 20

var (
	// ErrFrameTooLarge is returned when a frame header announces a payload
	// larger than the configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrTruncated is returned when the connection closed mid-frame.
	ErrTruncated = errors.New("truncated frame")
)

// ReadFrame reads one length-prefixed frame: a 4-byte big-endian payload
// length followed by the payload itself. It blocks until the full frame has
// arrived or the connection fails. A clean close before any header byte is
// reported as io.EOF; a close after partial data is ErrTruncated.
func ReadFrame(r io.Reader, maxFrame int) ([]byte, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if int(n) > maxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload prefixed with its 4-byte big-endian length as a
// single Write call so the header and payload cannot be torn apart by an
// interleaved writer.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadRequest reads and decodes one handshake request frame. A frame that
// decodes but lacks a session_id is rejected here rather than poisoning the
// pairing table with an empty key.
func ReadRequest(r io.Reader, maxFrame int) (Request, error) {
	var req Request
	payload, err := ReadFrame(r, maxFrame)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return req, errors.New("request missing session_id")
	}
	return req, nil
}

// WriteResponse encodes and writes one handshake response frame.
func WriteResponse(w io.Writer, success bool, message string) error {
	b, err := json.Marshal(Response{Success: success, Message: message})
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}
