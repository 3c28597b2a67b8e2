package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyberinferno/bcproxy/codec"
	"github.com/cyberinferno/bcproxy/logger"
)

const (
	// DefaultQueueSize bounds the records waiting for the backend.
	DefaultQueueSize = 256

	// DefaultRecordTimeout bounds a single backend call.
	DefaultRecordTimeout = 5 * time.Second
)

var (
	// ErrQueueFull is returned when a record is dropped because the backend
	// is not keeping up. The caller reports the drop.
	ErrQueueFull = errors.New("persistence queue full")

	// ErrClosed is returned for records submitted after Close.
	ErrClosed = errors.New("persistence closed")
)

type job struct {
	name string
	run  func(ctx context.Context) error
}

// asyncGateway moves backend calls off the proxy pumps onto one worker.
// Submissions never block; the caller's context is not used by the worker.
type asyncGateway struct {
	next    Gateway
	log     logger.Logger
	timeout time.Duration
	jobs    chan job

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Async wraps next with a bounded queue drained by a single worker goroutine.
//
// Parameters:
//   - next: The Gateway doing the actual writes
//   - log: Logger for writes that fail in the worker
//   - queueSize: Queue capacity; non-positive selects DefaultQueueSize
//   - timeout: Per-record deadline; non-positive selects DefaultRecordTimeout
//
// Returns:
//   - The wrapping Gateway. Close drains the queue before closing next.
func Async(next Gateway, log logger.Logger, queueSize int, timeout time.Duration) Gateway {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultRecordTimeout
	}

	a := &asyncGateway{
		next:    next,
		log:     log,
		timeout: timeout,
		jobs:    make(chan job, queueSize),
		done:    make(chan struct{}),
	}
	go a.work()

	return a
}

func (a *asyncGateway) work() {
	defer close(a.done)

	for j := range a.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := j.run(ctx); err != nil {
			a.log.Error("failed to persist "+j.name, logger.Err(err))
		}
		cancel()
	}
}

func (a *asyncGateway) submit(j job) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}

	select {
	case a.jobs <- j:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s, %d records waiting", ErrQueueFull, j.name, cap(a.jobs))
	}
}

// RecordCombatResult implements Gateway.
func (a *asyncGateway) RecordCombatResult(_ context.Context, monster, area string, exp int64) error {
	return a.submit(job{
		name: "combat result",
		run: func(ctx context.Context) error {
			return a.next.RecordCombatResult(ctx, monster, area, exp)
		},
	})
}

// RecordRoom implements Gateway.
func (a *asyncGateway) RecordRoom(_ context.Context, rec codec.MapperRecord) error {
	if rec.ID == nil {
		return errNoRoomID
	}
	return a.submit(job{
		name: "room",
		run: func(ctx context.Context) error {
			return a.next.RecordRoom(ctx, rec)
		},
	})
}

// Close stops accepting records, waits for the queued ones and closes the
// wrapped Gateway. It is safe to call multiple times.
func (a *asyncGateway) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
