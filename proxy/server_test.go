package proxy

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ProxiesClients(t *testing.T) {
	up := startUpstream(t)
	srv := NewServer("127.0.0.1:0", testOptions(t, up.dialer(), &fakeGateway{}))
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	player, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer player.Close()

	game := up.accept(t)
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	sess, ok := srv.Session(1)
	require.True(t, ok)
	assert.Equal(t, uint32(1), sess.ID())

	_, err = player.Write([]byte("score\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(game).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "score\n", line)

	_, err = game.Write([]byte("You have 3 gold.\n"))
	require.NoError(t, err)
	require.NoError(t, player.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply, err := bufio.NewReader(player).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "You have 3 gold.\n", reply)
}

func TestServer_StopClosesSessions(t *testing.T) {
	up := startUpstream(t)
	srv := NewServer("127.0.0.1:0", testOptions(t, up.dialer(), &fakeGateway{}))
	require.NoError(t, srv.Start())

	player, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer player.Close()
	up.accept(t)
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, 0, srv.SessionCount())

	require.NoError(t, player.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = player.Read(make([]byte, 1))
	assert.Error(t, err, "client connection is closed")
}

func TestServer_BindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	srv := NewServer(busy.Addr().String(), Options{})
	assert.Error(t, srv.Start())
}
