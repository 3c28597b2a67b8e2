package persist

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/cyberinferno/bcproxy/codec"
	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id          BIGINT PRIMARY KEY,
	area        TEXT NOT NULL,
	direction   TEXT NOT NULL,
	from_room   TEXT NOT NULL,
	indoors     BOOLEAN NOT NULL,
	short_desc  TEXT NOT NULL,
	long_desc   TEXT NOT NULL,
	exits       TEXT NOT NULL,
	raw         BYTEA NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS monsters (
	name        TEXT NOT NULL,
	area        TEXT NOT NULL,
	exp         BIGINT NOT NULL,
	kills       BIGINT NOT NULL DEFAULT 1,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (name, area)
);`

const upsertRoom = `
INSERT INTO rooms (id, area, direction, from_room, indoors, short_desc, long_desc, exits, raw, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (id) DO UPDATE SET
	area = EXCLUDED.area,
	direction = EXCLUDED.direction,
	from_room = EXCLUDED.from_room,
	indoors = EXCLUDED.indoors,
	short_desc = EXCLUDED.short_desc,
	long_desc = EXCLUDED.long_desc,
	exits = EXCLUDED.exits,
	raw = EXCLUDED.raw,
	updated_at = now()`

const upsertMonster = `
INSERT INTO monsters (name, area, exp, kills, updated_at)
VALUES ($1, $2, $3, 1, now())
ON CONFLICT (name, area) DO UPDATE SET
	exp = EXCLUDED.exp,
	kills = monsters.kills + 1,
	updated_at = now()`

// PostgresGateway stores telemetry in the rooms and monsters tables. The
// schema is created on first use.
type PostgresGateway struct {
	db *sql.DB

	mu       sync.Mutex
	migrated bool
}

// OpenPostgres prepares a connection pool for dsn. No connection is made
// until the first record.
func OpenPostgres(dsn string) (*PostgresGateway, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(4)

	return &PostgresGateway{db: db}, nil
}

func (g *PostgresGateway) migrate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.migrated {
		return nil
	}
	if _, err := g.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres: create schema: %w", err)
	}
	g.migrated = true

	return nil
}

// RecordCombatResult implements Gateway.
func (g *PostgresGateway) RecordCombatResult(ctx context.Context, monster, area string, exp int64) error {
	if err := g.migrate(ctx); err != nil {
		return err
	}
	if _, err := g.db.ExecContext(ctx, upsertMonster, monster, area, exp); err != nil {
		return fmt.Errorf("postgres: record monster %q: %w", monster, err)
	}
	return nil
}

// RecordRoom implements Gateway.
func (g *PostgresGateway) RecordRoom(ctx context.Context, rec codec.MapperRecord) error {
	if rec.ID == nil {
		return errNoRoomID
	}
	if err := g.migrate(ctx); err != nil {
		return err
	}

	_, err := g.db.ExecContext(ctx, upsertRoom,
		*rec.ID, rec.Area, rec.Direction, rec.From, rec.Indoors,
		rec.Short, rec.Long, rec.Exits, rec.Raw,
	)
	if err != nil {
		return fmt.Errorf("postgres: record room %d: %w", *rec.ID, err)
	}
	return nil
}

// Close implements Gateway.
func (g *PostgresGateway) Close() error {
	return g.db.Close()
}
