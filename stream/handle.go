// Package stream lets several logical readers and writers drive one socket.
//
// A Handle is a cheap reference to a shared connection. The framed decoder of
// one direction can own a Handle outright while the orchestrator keeps other
// Handles to the same socket for the handshake and for the opposite
// direction's sink. Reads and writes are serialized per direction, so a read
// blocked waiting for the peer never holds up a writer.
package stream

import (
	"net"
	"sync"
	"sync/atomic"
)

type shared struct {
	conn net.Conn
	refs atomic.Int32

	readMu  sync.Mutex
	writeMu sync.Mutex

	shutdownOnce sync.Once
	shutdownErr  error

	closeOnce sync.Once
	closeErr  error
}

func (s *shared) release() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}

	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}

// Handle references a shared connection. The zero value is not usable; create
// handles with New or Duplicate.
type Handle struct {
	s      *shared
	closed atomic.Bool
}

// New wraps conn in the first Handle referencing it.
//
// Parameters:
//   - conn: The connection to share; the Handle set takes ownership of it
//
// Returns:
//   - A Handle holding one reference to conn
func New(conn net.Conn) *Handle {
	s := &shared{conn: conn}
	s.refs.Store(1)
	return &Handle{s: s}
}

// Duplicate returns a new Handle over the same connection. The connection
// stays open until every Handle has been closed.
func (h *Handle) Duplicate() *Handle {
	h.s.refs.Add(1)
	return &Handle{s: h.s}
}

// Read reads from the connection, holding the read lock for this call only.
func (h *Handle) Read(p []byte) (int, error) {
	if h.closed.Load() {
		return 0, net.ErrClosed
	}

	h.s.readMu.Lock()
	defer h.s.readMu.Unlock()
	return h.s.conn.Read(p)
}

// Write writes p to the connection, holding the write lock for this call only.
// Concurrent writers never interleave within a single Write.
func (h *Handle) Write(p []byte) (int, error) {
	if h.closed.Load() {
		return 0, net.ErrClosed
	}

	h.s.writeMu.Lock()
	defer h.s.writeMu.Unlock()
	return h.s.conn.Write(p)
}

// Shutdown half-closes the write side of the connection so the peer reads EOF.
// Only the first call across all Handles acts; later calls return its result.
// Connections without a CloseWrite method are closed entirely.
func (h *Handle) Shutdown() error {
	h.s.shutdownOnce.Do(func() {
		h.s.writeMu.Lock()
		defer h.s.writeMu.Unlock()

		if cw, ok := h.s.conn.(interface{ CloseWrite() error }); ok {
			h.s.shutdownErr = cw.CloseWrite()
			return
		}

		h.s.shutdownErr = h.s.conn.Close()
	})

	return h.s.shutdownErr
}

// Close releases this Handle's reference. The connection is closed when the
// last reference goes away. Closing the same Handle twice is a no-op.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	return h.s.release()
}

// CloseConn closes the underlying connection immediately, regardless of how
// many Handles remain. Pending reads and writes on every Handle fail. Used to
// abort a session.
func (h *Handle) CloseConn() error {
	h.s.closeOnce.Do(func() {
		h.s.closeErr = h.s.conn.Close()
	})

	return h.s.closeErr
}

// RemoteAddr returns the peer address of the shared connection.
func (h *Handle) RemoteAddr() net.Addr {
	return h.s.conn.RemoteAddr()
}

// Refs returns the number of open Handles over the connection.
func (h *Handle) Refs() int {
	return int(h.s.refs.Load())
}
