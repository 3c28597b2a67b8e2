package persist

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cyberinferno/bcproxy/codec"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key the Redis gateway writes.
const KeyPrefix = "bcproxy"

// RedisGateway stores telemetry in Redis hashes:
//
//	bcproxy:room:<id>              area, short, long, exits, indoors, raw, updated_at
//	bcproxy:area:<area>:rooms      set of room ids
//	bcproxy:monster:<area>:<name>  name, area, exp, kills, updated_at
type RedisGateway struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisGateway returns a Gateway writing through client.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	gw := NewRedisGateway(client)
func NewRedisGateway(client *redis.Client) *RedisGateway {
	return &RedisGateway{client: client, now: time.Now}
}

func roomKey(id int64) string {
	return fmt.Sprintf("%s:room:%d", KeyPrefix, id)
}

func areaRoomsKey(area string) string {
	return fmt.Sprintf("%s:area:%s:rooms", KeyPrefix, area)
}

func monsterKey(area, name string) string {
	return fmt.Sprintf("%s:monster:%s:%s", KeyPrefix, area, name)
}

// RecordCombatResult implements Gateway. The latest exp value wins and the
// kill counter is incremented.
func (g *RedisGateway) RecordCombatResult(ctx context.Context, monster, area string, exp int64) error {
	key := monsterKey(area, monster)
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"name", monster,
			"area", area,
			"exp", exp,
			"updated_at", g.now().UTC().Format(time.RFC3339),
		)
		pipe.HIncrBy(ctx, key, "kills", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record monster %s: %w", key, err)
	}

	return nil
}

// RecordRoom implements Gateway.
func (g *RedisGateway) RecordRoom(ctx context.Context, rec codec.MapperRecord) error {
	if rec.ID == nil {
		return errNoRoomID
	}

	key := roomKey(*rec.ID)
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"area", rec.Area,
			"short", rec.Short,
			"long", rec.Long,
			"exits", rec.Exits,
			"indoors", strconv.FormatBool(rec.Indoors),
			"raw", string(rec.Raw),
			"updated_at", g.now().UTC().Format(time.RFC3339),
		)
		pipe.SAdd(ctx, areaRoomsKey(rec.Area), *rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record room %s: %w", key, err)
	}

	return nil
}

// Close implements Gateway.
func (g *RedisGateway) Close() error {
	return g.client.Close()
}
