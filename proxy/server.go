package proxy

import (
	"net"

	"github.com/cyberinferno/bcproxy/logger"
	"github.com/cyberinferno/bcproxy/tcpserver"
)

// Server accepts game clients and runs one Session for each.
type Server struct {
	opts   Options
	server *tcpserver.Server
}

// NewServer returns a Server that will listen on addr when started.
//
// Parameters:
//   - addr: The client listen address
//   - opts: Settings shared by every Session
func NewServer(addr string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	s := &Server{opts: opts}
	s.server = &tcpserver.Server{
		Logger: opts.Logger,
		Name:   "proxy",
		Addr:   addr,
		NewSession: func(id uint32, conn net.Conn) tcpserver.Session {
			return NewSession(id, conn, s.opts)
		},
	}

	return s
}

// Start binds the listener. A bind failure is returned.
func (s *Server) Start() error {
	return s.server.Start()
}

// Addr returns the bound client address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.server.ListenAddr()
}

// Session returns the live session with the given id.
func (s *Server) Session(id uint32) (*Session, bool) {
	sess, ok := s.server.Session(id)
	if !ok {
		return nil, false
	}
	return sess.(*Session), true
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.server.SessionCount()
}

// Stop closes the listener and every live session, then waits for the
// sessions to finish.
func (s *Server) Stop() {
	s.server.Stop()
	s.server.Wait()
}
