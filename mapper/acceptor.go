package mapper

import (
	"net"

	"github.com/cyberinferno/bcproxy/logger"
	"github.com/cyberinferno/bcproxy/tcpserver"
)

// Acceptor listens for mapper clients for the lifetime of one proxied session
// and adds every accepted connection to its Registry.
type Acceptor struct {
	registry *Registry
	server   *tcpserver.Server
}

// NewAcceptor returns an Acceptor that will bind addr when started.
//
// Parameters:
//   - addr: The listen address, e.g. "127.0.0.1:0" for an ephemeral port
//   - registry: The session's registry that receives accepted connections
//   - log: Logger for listener events
func NewAcceptor(addr string, registry *Registry, log logger.Logger) *Acceptor {
	a := &Acceptor{registry: registry}
	a.server = &tcpserver.Server{
		Logger:     log,
		Name:       "mapper",
		Addr:       addr,
		NewSession: a.newSession,
	}

	return a
}

// Start binds the listener and starts accepting.
func (a *Acceptor) Start() error {
	return a.server.Start()
}

// Addr returns the bound address, or nil before Start.
func (a *Acceptor) Addr() net.Addr {
	return a.server.ListenAddr()
}

// Close stops accepting. Connections already registered stay with the
// Registry, which closes them.
func (a *Acceptor) Close() {
	a.server.Stop()
	a.server.Wait()
}

func (a *Acceptor) newSession(id uint32, conn net.Conn) tcpserver.Session {
	return &registration{id: id, conn: conn, acceptor: a}
}

// registration hands one accepted connection to the registry.
type registration struct {
	id       uint32
	conn     net.Conn
	acceptor *Acceptor
}

func (r *registration) ID() uint32 { return r.id }

func (r *registration) Handle() {
	index := r.acceptor.registry.Add(r.conn)
	if index < 0 {
		return
	}

	r.acceptor.registry.Logger.Info("mapper connected",
		logger.Field{Key: "mapper", Value: index},
		logger.Field{Key: "remote", Value: r.conn.RemoteAddr().String()})
}

func (r *registration) Close() error { return nil }
