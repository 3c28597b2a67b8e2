package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupe_SkipsUnchangedRooms(t *testing.T) {
	next := &recordingGateway{}
	gw := Dedupe(next, time.Minute)
	ctx := context.Background()

	require.NoError(t, gw.RecordRoom(ctx, room(1, "dark")))
	require.NoError(t, gw.RecordRoom(ctx, room(1, "dark")))
	assert.Equal(t, 1, next.roomCount())

	require.NoError(t, gw.RecordRoom(ctx, room(1, "lit")))
	require.NoError(t, gw.RecordRoom(ctx, room(2, "dark")))
	assert.Equal(t, 3, next.roomCount(), "changed content or another id is written")
}

func TestDedupe_ExpiresAfterTTL(t *testing.T) {
	next := &recordingGateway{}
	gw := Dedupe(next, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, gw.RecordRoom(ctx, room(1, "dark")))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, gw.RecordRoom(ctx, room(1, "dark")))
	assert.Equal(t, 2, next.roomCount())
}

func TestDedupe_FailedWriteIsRetried(t *testing.T) {
	next := &recordingGateway{err: errors.New("down")}
	gw := Dedupe(next, time.Minute)
	ctx := context.Background()

	assert.Error(t, gw.RecordRoom(ctx, room(1, "dark")))
	next.mu.Lock()
	next.err = nil
	next.mu.Unlock()
	assert.NoError(t, gw.RecordRoom(ctx, room(1, "dark")))
	assert.Equal(t, 2, next.roomCount())
}

func TestDedupe_ConcurrentWritesCollapse(t *testing.T) {
	next := &recordingGateway{release: make(chan struct{})}
	gw := Dedupe(next, time.Minute)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = gw.RecordRoom(context.Background(), room(5, "same"))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.Equal(t, 1, next.roomCount())
}

func TestDedupe_CombatResultsPassThrough(t *testing.T) {
	next := &recordingGateway{}
	gw := Dedupe(next, time.Minute)

	for range 3 {
		require.NoError(t, gw.RecordCombatResult(context.Background(), "orc", "sewers", 10))
	}
	assert.Equal(t, 3, next.combatCount())

	require.NoError(t, gw.Close())
	assert.Equal(t, 1, next.closed)
}
