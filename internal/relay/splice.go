package relay

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/devshiv17/relay-server/internal/obs"
)

// DefaultBufferSize is the per-direction copy buffer.
const DefaultBufferSize = 64 * 1024

// DefaultCloseGrace bounds how long the second direction may keep draining
// after the first one ends before both connections are torn down.
const DefaultCloseGrace = 5 * time.Second

// Result reports how many payload bytes each direction carried.
type Result struct {
	AToB     uint64
	BToA     uint64
	Duration time.Duration
}

type halfCloser interface {
	CloseWrite() error
}

// halfClose signals EOF to the reader on the far side of dst without tearing
// down its read direction. Falls back to a full close when the transport has
// no write-side shutdown (net.Pipe in tests).
func halfClose(dst net.Conn) {
	if hc, ok := dst.(halfCloser); ok {
		_ = hc.CloseWrite()
		return
	}
	_ = dst.Close()
}

// Splice runs the relay phase for a paired session: two concurrent copy
// loops, a -> b and b -> a, each with its own fixed buffer. Bytes are treated
// as opaque and forwarded in order. When either direction ends (EOF or
// error), its write side is half-closed so the peer observes EOF promptly;
// if the other direction does not finish within grace, both connections are
// closed outright. Splice returns once both loops have stopped, with both
// connections closed.
func Splice(a, b net.Conn, bufSize int, grace time.Duration) Result {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	start := time.Now()

	var res Result
	var once sync.Once
	closeBoth := func() { _ = a.Close(); _ = b.Close() }

	done := make(chan struct{}, 2)
	copyLoop := func(dst, src net.Conn, count *uint64) {
		n, _ := io.CopyBuffer(dst, src, make([]byte, bufSize))
		*count = uint64(n)
		halfClose(dst)
		done <- struct{}{}
	}
	go copyLoop(b, a, &res.AToB)
	go copyLoop(a, b, &res.BToA)

	<-done
	select {
	case <-done:
	case <-time.After(grace):
		once.Do(closeBoth)
		<-done
	}
	once.Do(closeBoth)

	res.Duration = time.Since(start)
	obs.RelayedBytesTotal.Add(float64(res.AToB + res.BToA))
	obs.SessionDurationSeconds.Observe(res.Duration.Seconds())
	return res
}
