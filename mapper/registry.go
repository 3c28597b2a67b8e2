// Package mapper fans room telemetry out to the auxiliary mapper clients of a
// session.
package mapper

import (
	"io"
	"sync"
	"time"

	"github.com/cyberinferno/bcproxy/logger"
	"github.com/cyberinferno/bcproxy/netutil"
)

// DefaultQueueSize is how many records may wait for a slow mapper connection
// before new ones are dropped for it.
const DefaultQueueSize = 64

// DefaultWriteTimeout bounds a single write to a mapper connection.
const DefaultWriteTimeout = 5 * time.Second

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

// conn is one registered mapper connection with its own writer goroutine.
type conn struct {
	index int
	w     io.WriteCloser
	queue chan []byte
	done  chan struct{}
}

// Registry is an ordered, append-only set of mapper connections. Broadcast
// never performs I/O while holding the lock: each connection drains its own
// queue, so a stalled mapper cannot hold up the others, new registrations, or
// the caller.
type Registry struct {
	Logger       logger.Logger
	WriteTimeout time.Duration
	QueueSize    int

	mu     sync.Mutex
	conns  []*conn
	closed bool
	wg     sync.WaitGroup
}

// NewRegistry returns an empty Registry with default limits.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		Logger:       log,
		WriteTimeout: DefaultWriteTimeout,
		QueueSize:    DefaultQueueSize,
	}
}

// Add registers w and returns its index. w only receives records broadcast
// after this call. If the registry is already closed, w is closed and -1 is
// returned.
//
// Parameters:
//   - w: The mapper connection; the registry owns it from now on
//
// Returns:
//   - The index of the new connection, or -1 if the registry is closed
func (r *Registry) Add(w io.WriteCloser) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		_ = w.Close()
		return -1
	}

	size := r.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	c := &conn{
		index: len(r.conns),
		w:     w,
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
	r.conns = append(r.conns, c)

	r.wg.Add(1)
	go r.drain(c)

	return c.index
}

// Broadcast queues a copy of raw for every registered connection. A
// connection whose queue is full misses this record; it stays registered.
func (r *Registry) Broadcast(raw []byte) {
	if len(raw) == 0 {
		return
	}

	payload := make([]byte, len(raw))
	copy(payload, raw)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	for _, c := range r.conns {
		select {
		case c.queue <- payload:
		default:
			r.Logger.Warn("mapper queue full, dropping record", logger.Field{Key: "mapper", Value: c.index})
		}
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close stops every writer, closes every connection and rejects further
// registrations. Records still queued are discarded. It is safe to call
// multiple times.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	r.closed = true
	conns := r.conns
	r.mu.Unlock()

	for _, c := range conns {
		close(c.done)
		_ = c.w.Close()
	}

	r.wg.Wait()
}

func (r *Registry) drain(c *conn) {
	defer r.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.queue:
			r.write(c, payload)
		}
	}
}

func (r *Registry) write(c *conn, payload []byte) {
	if d, ok := c.w.(deadliner); ok && r.WriteTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(r.WriteTimeout))
	}

	_, err := c.w.Write(payload)
	switch netutil.Classify(err) {
	case netutil.KindNone:
	case netutil.KindClosed:
		r.Logger.Debug("mapper disconnected", logger.Field{Key: "mapper", Value: c.index}, logger.Err(err))
	case netutil.KindTimeout:
		r.Logger.Warn("mapper write timed out", logger.Field{Key: "mapper", Value: c.index}, logger.Err(err))
	default:
		r.Logger.Error("failed to write to mapper", logger.Field{Key: "mapper", Value: c.index}, logger.Err(err))
	}
}
