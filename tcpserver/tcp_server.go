// Package tcpserver accepts TCP connections and hands each one to a Session.
// It backs both the primary client listener and the per-session mapper
// listeners.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/bcproxy/idgenerator"
	"github.com/cyberinferno/bcproxy/logger"
	"github.com/cyberinferno/bcproxy/safemap"
)

// Backoff bounds for repeated accept failures such as EMFILE.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Server accepts connections on Addr and delegates each one to a session
// created by NewSession. The accept loop runs in its own goroutine.
type Server struct {
	Logger     logger.Logger
	Name       string
	Addr       string
	NewSession NewSessionFunc

	// listen is net.Listen unless a test replaces it.
	listen func(network, address string) (net.Listener, error)

	listener net.Listener
	sessions *safemap.SafeMap[uint32, Session]
	ids      *idgenerator.IdGenerator
	running  atomic.Bool
	done     chan struct{}
	loop     sync.WaitGroup
	handlers sync.WaitGroup
}

// Start binds Addr and begins the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%s server already running", s.Name)
	}

	listen := s.listen
	if listen == nil {
		listen = net.Listen
	}
	ln, err := listen("tcp", s.Addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("%s server failed to listen on %s: %w", s.Name, s.Addr, err)
	}

	s.listener = ln
	s.sessions = safemap.NewSafeMap[uint32, Session]()
	s.ids = idgenerator.NewIdGenerator(0)
	s.done = make(chan struct{})
	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.loop.Add(1)
	go s.acceptLoop()

	return nil
}

// ListenAddr returns the bound address, which differs from Addr when an
// ephemeral port was requested. It is nil before Start.
func (s *Server) ListenAddr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop closes the listener and every live session, then waits for the accept
// loop to exit. Safe to call when the server is not running.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	close(s.done)
	_ = s.listener.Close()
	s.loop.Wait()

	for _, session := range s.sessions.Values() {
		_ = session.Close()
	}

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// Wait blocks until every session's Handle has returned.
func (s *Server) Wait() {
	s.handlers.Wait()
}

// Session returns the live session with the given id.
func (s *Server) Session(id uint32) (Session, bool) {
	if s.sessions == nil {
		return nil, false
	}

	return s.sessions.Load(id)
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	if s.sessions == nil {
		return 0
	}

	return s.sessions.Len()
}

func (s *Server) acceptLoop() {
	defer s.loop.Done()

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name),
				logger.Err(err), logger.Field{Key: "retry_in", Value: delay.String()})

			select {
			case <-time.After(delay):
			case <-s.done:
				return
			}
			continue
		}
		delay = 0

		session := s.NewSession(s.ids.Next(), conn)
		s.sessions.Store(session.ID(), session)

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.sessions.Delete(session.ID())
			session.Handle()
		}()
	}
}
