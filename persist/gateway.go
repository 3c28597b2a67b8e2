// Package persist records the telemetry extracted from proxied sessions:
// combat results reported by the player and rooms described by the server.
package persist

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/cyberinferno/bcproxy/codec"
	"github.com/redis/go-redis/v9"
)

// ErrUnsupportedScheme is returned by Open for URLs it has no backend for.
var ErrUnsupportedScheme = errors.New("unsupported persistence scheme")

// Gateway is a sink for telemetry. Implementations must be safe for
// concurrent use; every session shares one Gateway.
type Gateway interface {
	// RecordCombatResult stores one kill reported by the player.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - monster: The monster's name
	//   - area: The area the monster was killed in
	//   - exp: Experience gained
	RecordCombatResult(ctx context.Context, monster, area string, exp int64) error

	// RecordRoom stores a room. Callers only pass records whose ID is set.
	RecordRoom(ctx context.Context, rec codec.MapperRecord) error

	// Close releases the backend's resources.
	Close() error
}

// Nop is the Gateway used when no persistence is configured. Everything is
// silently dropped.
type Nop struct{}

// RecordCombatResult implements Gateway.
func (Nop) RecordCombatResult(context.Context, string, string, int64) error { return nil }

// RecordRoom implements Gateway.
func (Nop) RecordRoom(context.Context, codec.MapperRecord) error { return nil }

// Close implements Gateway.
func (Nop) Close() error { return nil }

// Open returns the Gateway for a connection URL:
//
//	""                          Nop
//	redis://host:port/db        RedisGateway
//	bolt:///path/to/file.db     BoltGateway
//	postgres://user@host/db     PostgresGateway
//
// Parameters:
//   - rawURL: The persistence connection string
//
// Returns:
//   - The Gateway, or an error for a malformed URL, unknown scheme or an
//     unopenable backend
func Open(rawURL string) (Gateway, error) {
	if rawURL == "" {
		return Nop{}, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse persistence url: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedisGateway(redis.NewClient(opts)), nil
	case "bolt":
		return OpenBolt(u.Host + u.Path)
	case "postgres", "postgresql":
		return OpenPostgres(rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// errNoRoomID is returned by backends handed a record without an ID.
var errNoRoomID = errors.New("room record has no id")
