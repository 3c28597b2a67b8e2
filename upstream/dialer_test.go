package upstream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1:2023")

	assert.Equal(t, "127.0.0.1:2023", cfg.Address)
	assert.Equal(t, 10*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 30*time.Second, cfg.KeepAlive)
}

func TestDialer_Dial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	d := NewDialer(DefaultConfig(ln.Addr().String()))
	assert.Equal(t, ln.Addr().String(), d.Address())

	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	accepted, err := ln.Accept()
	require.NoError(t, err)
	defer accepted.Close()

	assert.Equal(t, conn.LocalAddr().String(), accepted.RemoteAddr().String())
}

func TestDialer_DialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewDialer(DefaultConfig(addr)).Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}

func TestDialer_DialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDialer(DefaultConfig("127.0.0.1:1")).Dial(ctx)
	assert.Error(t, err)
}
