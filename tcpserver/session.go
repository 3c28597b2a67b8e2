package tcpserver

import "net"

// Session handles one accepted connection. The server runs Handle in its own
// goroutine and forgets the session when Handle returns.
type Session interface {
	// ID returns the identifier the server assigned to the connection.
	ID() uint32

	// Handle serves the connection until it is done with it.
	Handle()

	// Close aborts the session. It must be safe to call concurrently with
	// Handle and more than once.
	Close() error
}

// NewSessionFunc creates the Session for an accepted connection.
type NewSessionFunc func(id uint32, conn net.Conn) Session
