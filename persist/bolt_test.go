package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBolt(t *testing.T) *BoltGateway {
	t.Helper()
	gw, err := OpenBolt(filepath.Join(t.TempDir(), "bc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestBoltGateway_RecordRoom(t *testing.T) {
	gw := openTestBolt(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gw.now = func() time.Time { return fixed }

	require.NoError(t, gw.RecordRoom(context.Background(), room(7, "A dark tunnel.")))

	got, found, err := gw.Room(7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "sewers", got.Area)
	assert.Equal(t, "A dark tunnel.", got.Long)
	assert.Equal(t, "north,south", got.Exits)
	assert.True(t, fixed.Equal(got.UpdatedAt))

	require.NoError(t, gw.RecordRoom(context.Background(), room(7, "A lit tunnel.")))
	got, _, err = gw.Room(7)
	require.NoError(t, err)
	assert.Equal(t, "A lit tunnel.", got.Long, "latest description wins")

	_, found, err = gw.Room(8)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltGateway_RecordCombatResult(t *testing.T) {
	gw := openTestBolt(t)
	ctx := context.Background()

	require.NoError(t, gw.RecordCombatResult(ctx, "orc", "sewers", 100))
	require.NoError(t, gw.RecordCombatResult(ctx, "orc", "sewers", 120))
	require.NoError(t, gw.RecordCombatResult(ctx, "orc", "forest", 90))

	m, found, err := gw.Monster("sewers", "orc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), m.Kills)
	assert.Equal(t, int64(120), m.Exp)

	m, _, err = gw.Monster("forest", "orc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Kills)
}

func TestBoltGateway_CancelledContext(t *testing.T) {
	gw := openTestBolt(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, gw.RecordRoom(ctx, room(1, "x")), context.Canceled)
	assert.ErrorIs(t, gw.RecordCombatResult(ctx, "orc", "sewers", 1), context.Canceled)
}

func TestOpenBolt_EmptyPath(t *testing.T) {
	_, err := OpenBolt("")
	assert.Error(t, err)
}
