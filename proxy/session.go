// Package proxy joins a game client to the upstream server. The client's
// lines are forwarded upstream, with combat reports siphoned off, and the
// server's bc stream is decoded, rendered for the client and its room data
// relayed to mapper clients.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/bcproxy/codec"
	"github.com/cyberinferno/bcproxy/color"
	"github.com/cyberinferno/bcproxy/logger"
	"github.com/cyberinferno/bcproxy/mapper"
	"github.com/cyberinferno/bcproxy/netutil"
	"github.com/cyberinferno/bcproxy/perfmonitor"
	"github.com/cyberinferno/bcproxy/persist"
	"github.com/cyberinferno/bcproxy/stream"
	"golang.org/x/sync/errgroup"
)

// Options configures every Session of a Server.
type Options struct {
	// Dialer connects to the upstream server.
	Dialer Dialer

	// MapperAddr is bound once per session for mapper clients. Empty
	// disables the mapper listener.
	MapperAddr string

	// MapperWriteTimeout bounds one write to a mapper client.
	MapperWriteTimeout time.Duration

	// Monsters matches combat reports sent by the client. Nil forwards
	// every line untouched.
	Monsters *regexp.Regexp

	// Gateway receives combat results and rooms. Nil means persist.Nop.
	Gateway persist.Gateway

	Logger logger.Logger
}

// Dialer opens the upstream connection. *upstream.Dialer implements it.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// Result summarizes a finished session.
type Result struct {
	// FromClient is the number of bytes read from the client.
	FromClient int64
	// FromServer is the number of bytes read from the upstream server.
	FromServer int64
	// Err is the first failure that ended the session, nil for a normal
	// disconnect.
	Err error
}

// Session proxies one client connection. It implements tcpserver.Session.
type Session struct {
	id     uint32
	opts   Options
	log    logger.Logger
	client *stream.Handle
	state  atomic.Int32
	perf   *perfmonitor.PerformanceMonitor

	mappers  *mapper.Registry
	acceptor atomic.Pointer[mapper.Acceptor]

	mu       sync.Mutex
	server   *stream.Handle
	cancel   context.CancelFunc
	stopping bool
}

// NewSession wraps an accepted client connection.
func NewSession(id uint32, conn net.Conn, opts Options) *Session {
	if opts.Gateway == nil {
		opts.Gateway = persist.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	log := opts.Logger.With(
		logger.Field{Key: "session", Value: id},
		logger.Field{Key: "client", Value: conn.RemoteAddr().String()},
	)

	registry := mapper.NewRegistry(log)
	if opts.MapperWriteTimeout > 0 {
		registry.WriteTimeout = opts.MapperWriteTimeout
	}

	return &Session{
		id:      id,
		opts:    opts,
		log:     log,
		client:  stream.New(conn),
		perf:    perfmonitor.NewPerformanceMonitor(),
		mappers: registry,
	}
}

// ID implements tcpserver.Session.
func (s *Session) ID() uint32 { return s.id }

// State reports the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug("session state changed", logger.Field{Key: "state", Value: st.String()})
}

// MapperAddr returns the address mapper clients connect to, or nil when the
// mapper listener is not bound.
func (s *Session) MapperAddr() net.Addr {
	if a := s.acceptor.Load(); a != nil {
		return a.Addr()
	}
	return nil
}

// Handle implements tcpserver.Session.
func (s *Session) Handle() {
	s.Run(context.Background())
}

// Close aborts the session. Pending reads and writes fail and Run returns.
func (s *Session) Close() error {
	s.mu.Lock()
	s.stopping = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.abort()

	return nil
}

func (s *Session) abort() {
	_ = s.client.CloseConn()

	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server != nil {
		_ = server.CloseConn()
	}
}

// Run connects upstream, performs the bc handshake and proxies both
// directions until they have both ended. It blocks for the lifetime of
// the session and always leaves it closed.
//
// Parameters:
//   - ctx: Cancelling it aborts the session
//
// Returns:
//   - The transfer counters and the error that ended the session, if any
func (s *Session) Run(ctx context.Context) (res Result) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		cancel()
	}

	stop := context.AfterFunc(ctx, s.abort)
	defer stop()

	s.perf.Start()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panicked",
				logger.Field{Key: "panic", Value: fmt.Sprint(r)},
				logger.Field{Key: "stack", Value: string(debug.Stack())})
			res.Err = fmt.Errorf("session panic: %v", r)
		}
		s.finish(res)
	}()

	s.setState(StateConnecting)
	conn, err := s.opts.Dialer.Dial(ctx)
	if err != nil {
		s.log.Error("failed to connect to server", logger.Err(err))
		res.Err = err
		return res
	}
	server := stream.New(conn)
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()
	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}

	s.setState(StateHandshaking)
	if _, err := server.Write(codec.Handshake); err != nil {
		res.Err = fmt.Errorf("write handshake: %w", err)
		s.log.Error("failed to send handshake", logger.Err(err))
		return res
	}

	s.bindMapper()

	s.setState(StateProxying)
	return s.proxy(ctx, server)
}

func (s *Session) bindMapper() {
	if s.opts.MapperAddr == "" {
		return
	}

	a := mapper.NewAcceptor(s.opts.MapperAddr, s.mappers, s.log)
	if err := a.Start(); err != nil {
		s.log.Warn("failed to bind mapper listener, continuing without mappers", logger.Err(err))
		return
	}

	s.acceptor.Store(a)
	s.log.Info("listening for mapper", logger.Field{Key: "addr", Value: a.Addr().String()})
}

// proxy runs both pumps. Each pump owns a handle on its source and its
// destination; the connections close once both pumps released them. The
// session is draining from the moment the first pump ends.
func (s *Session) proxy(ctx context.Context, server *stream.Handle) Result {
	var (
		res        Result
		serverRead = server.Duplicate()
		clientOut  = s.client.Duplicate()
		fromClient = &countingReader{r: s.client}
		fromServer = &countingReader{r: serverRead}
		draining   sync.Once
		g          errgroup.Group
	)
	drain := func() {
		draining.Do(func() { s.setState(StateDraining) })
	}

	g.Go(s.guard("client", func() error {
		defer func() {
			drain()
			_ = server.Shutdown()
			_ = server.Close()
		}()
		return s.pumpClient(ctx, fromClient, server)
	}))

	g.Go(s.guard("server", func() error {
		defer func() {
			drain()
			_ = clientOut.Shutdown()
			_ = clientOut.Close()
			_ = serverRead.Close()
		}()
		return s.pumpServer(ctx, fromServer, clientOut)
	}))

	res.Err = g.Wait()
	res.FromClient = fromClient.n
	res.FromServer = fromServer.n

	return res
}

// guard turns a panic inside a pump into that pump's error.
func (s *Session) guard(side string, pump func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error(side+" pump panicked",
					logger.Field{Key: "panic", Value: fmt.Sprint(r)},
					logger.Field{Key: "stack", Value: string(debug.Stack())})
				err = fmt.Errorf("%s pump panic: %v", side, r)
			}
		}()
		return pump()
	}
}

// pumpClient forwards client lines upstream and records combat reports.
func (s *Session) pumpClient(ctx context.Context, src io.Reader, dst io.Writer) error {
	dec := codec.NewLineDecoder(src, s.opts.Monsters)

	for {
		frame, err := dec.Next()
		if err != nil {
			return s.pumpEnded("client", err)
		}

		switch frame.Kind {
		case codec.SendLine:
			if _, err := dst.Write(frame.Line); err != nil {
				return s.pumpEnded("server write", err)
			}
		case codec.SendMonsterExp:
			m := frame.Monster
			s.log.Debug("combat result",
				logger.Field{Key: "monster", Value: m.Name},
				logger.Field{Key: "area", Value: m.Area},
				logger.Field{Key: "exp", Value: m.Exp})
			if err := s.opts.Gateway.RecordCombatResult(ctx, m.Name, m.Area, m.Exp); err != nil {
				s.log.Warn("failed to save combat result", logger.Err(err))
			}
		case codec.SendMalformed:
			s.log.Warn("malformed combat report", logger.Field{Key: "line", Value: string(frame.Line)})
		}
	}
}

// pumpServer renders the bc stream for the client and relays rooms.
func (s *Session) pumpServer(ctx context.Context, src io.Reader, dst io.Writer) error {
	dec := codec.NewBatDecoder(src)

	for {
		frame, err := dec.Next()
		if err != nil {
			return s.pumpEnded("server", err)
		}

		var out []byte
		switch frame.Kind {
		case codec.FrameBytes:
			out = frame.Bytes
		case codec.FrameColor:
			out = color.Translate(frame.Color)
		case codec.FrameMapper:
			if err := s.handleRoom(ctx, dst, frame.Mapper); err != nil {
				return s.pumpEnded("client write", err)
			}
		}

		if len(out) == 0 {
			continue
		}
		if _, err := dst.Write(out); err != nil {
			return s.pumpEnded("client write", err)
		}
	}
}

// handleRoom writes the room's output to the client before relaying it to
// mappers, so a mapper never sees a room the client has not.
func (s *Session) handleRoom(ctx context.Context, dst io.Writer, rec *codec.MapperRecord) error {
	if len(rec.Output) > 0 {
		if _, err := dst.Write(rec.Output); err != nil {
			return err
		}
	}

	s.mappers.Broadcast(rec.Raw)

	if rec.ID == nil {
		return nil
	}
	if err := s.opts.Gateway.RecordRoom(ctx, *rec); err != nil {
		s.log.Warn("failed to save room", logger.Field{Key: "room", Value: *rec.ID}, logger.Err(err))
	}

	return nil
}

// pumpEnded classifies why a pump stopped. Normal teardown is not an error.
func (s *Session) pumpEnded(side string, err error) error {
	if netutil.IsExpectedCloseError(err) {
		s.log.Debug(side+" stream ended", logger.Err(err))
		return nil
	}

	s.log.Error(side+" stream failed", logger.Err(err))
	return fmt.Errorf("%s: %w", side, err)
}

func (s *Session) finish(res Result) {
	if a := s.acceptor.Load(); a != nil {
		a.Close()
	}
	s.mappers.Close()

	_ = s.client.Close()
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server != nil {
		_ = server.Close()
	}

	s.perf.Stop()
	s.setState(StateClosed)

	fields := []logger.Field{
		{Key: "from_client", Value: res.FromClient},
		{Key: "from_server", Value: res.FromServer},
		{Key: "duration_ms", Value: s.perf.ElapsedMilliseconds()},
	}
	if res.Err != nil {
		fields = append(fields, logger.Err(res.Err))
	}
	s.log.Info(fmt.Sprintf("client wrote %d bytes and received %d bytes", res.FromClient, res.FromServer), fields...)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
