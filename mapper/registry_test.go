package mapper

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyberinferno/bcproxy/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (r *recordingConn) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *recordingConn) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingConn) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func (r *recordingConn) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type failingConn struct {
	attempts atomic.Int32
}

func (f *failingConn) Write([]byte) (int, error) {
	f.attempts.Add(1)
	return 0, errors.New("broken pipe")
}

func (f *failingConn) Close() error { return nil }

// blockingConn never completes a write until it is closed.
type blockingConn struct {
	release chan struct{}
	once    sync.Once
}

func newBlockingConn() *blockingConn {
	return &blockingConn{release: make(chan struct{})}
}

func (b *blockingConn) Write(p []byte) (int, error) {
	<-b.release
	return 0, io.ErrClosedPipe
}

func (b *blockingConn) Close() error {
	b.once.Do(func() { close(b.release) })
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(logger.NewNopLogger())
	t.Cleanup(r.Close)
	return r
}

func TestRegistry_BroadcastReachesEveryConnection(t *testing.T) {
	r := newTestRegistry(t)
	a, b := &recordingConn{}, &recordingConn{}

	assert.Equal(t, 0, r.Add(a))
	assert.Equal(t, 1, r.Add(b))
	assert.Equal(t, 2, r.Len())

	r.Broadcast([]byte("room-1"))
	r.Broadcast([]byte("room-2"))

	for _, c := range []*recordingConn{a, b} {
		assert.Eventually(t, func() bool { return c.String() == "room-1room-2" }, 2*time.Second, 5*time.Millisecond)
	}
}

func TestRegistry_NoReplayForLateRegistration(t *testing.T) {
	r := newTestRegistry(t)
	first := &recordingConn{}
	r.Add(first)

	r.Broadcast([]byte("a"))
	r.Broadcast([]byte("b"))
	assert.Eventually(t, func() bool { return first.String() == "ab" }, 2*time.Second, 5*time.Millisecond)

	late := &recordingConn{}
	r.Add(late)
	r.Broadcast([]byte("c"))

	assert.Eventually(t, func() bool { return late.String() == "c" }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return first.String() == "abc" }, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry_WriteFailureIsIsolated(t *testing.T) {
	r := newTestRegistry(t)
	bad, good := &failingConn{}, &recordingConn{}
	r.Add(bad)
	r.Add(good)

	r.Broadcast([]byte("x"))
	r.Broadcast([]byte("y"))

	assert.Eventually(t, func() bool { return good.String() == "xy" }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return bad.attempts.Load() == 2 }, 2*time.Second, 5*time.Millisecond,
		"a failed connection keeps receiving attempts")
	assert.Equal(t, 2, r.Len(), "failed connection is not removed")
}

func TestRegistry_SlowMapperDoesNotStall(t *testing.T) {
	r := newTestRegistry(t)
	r.QueueSize = 1

	slow := newBlockingConn()
	r.Add(slow)
	fast := &recordingConn{}
	r.Add(fast)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			r.Broadcast([]byte("."))
		}
		r.Add(&recordingConn{})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast or registration blocked behind a stalled mapper")
	}

	assert.Eventually(t, func() bool { return len(fast.String()) > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry(logger.NewNopLogger())
	c := &recordingConn{}
	r.Add(c)

	blocked := newBlockingConn()
	r.Add(blocked)
	r.Broadcast([]byte("pending"))

	r.Close()
	r.Close()
	assert.True(t, c.isClosed())

	late := &recordingConn{}
	assert.Equal(t, -1, r.Add(late))
	assert.True(t, late.isClosed())

	r.Broadcast([]byte("ignored"))
}

func TestRegistry_BroadcastCopiesPayload(t *testing.T) {
	r := newTestRegistry(t)
	c := &recordingConn{}
	r.Add(c)

	payload := []byte("abc")
	r.Broadcast(payload)
	payload[0] = 'z'

	assert.Eventually(t, func() bool { return c.String() == "abc" }, 2*time.Second, 5*time.Millisecond)
}

func TestAcceptor_RegistersConnections(t *testing.T) {
	r := newTestRegistry(t)
	a := NewAcceptor("127.0.0.1:0", r, logger.NewNopLogger())
	require.NoError(t, a.Start())
	defer a.Close()

	conn, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return r.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	r.Broadcast([]byte("\x1b<99BAT_MAPPER;;x\x1b>99"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len("\x1b<99BAT_MAPPER;;x\x1b>99"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "\x1b<99BAT_MAPPER;;x\x1b>99", string(buf))
}

func TestAcceptor_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	a := NewAcceptor(ln.Addr().String(), newTestRegistry(t), logger.NewNopLogger())
	assert.Error(t, a.Start())
	a.Close()
}
