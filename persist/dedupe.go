package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cyberinferno/bcproxy/codec"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultDedupeTTL is how long a stored room suppresses identical writes.
const DefaultDedupeTTL = 10 * time.Minute

// dedupeGateway skips room writes whose content was stored recently. Walking
// back and forth through the same rooms would otherwise rewrite them on
// every visit. Combat results are always passed through since every kill
// counts.
type dedupeGateway struct {
	next  Gateway
	ttl   time.Duration
	seen  *cache.Cache
	group singleflight.Group
}

// Dedupe wraps next so an unchanged room is written at most once per ttl.
// Concurrent writes of the same room collapse into one backend call.
//
// Parameters:
//   - next: The Gateway receiving the surviving writes
//   - ttl: How long a successful write suppresses duplicates; a
//     non-positive value selects DefaultDedupeTTL
//
// Returns:
//   - The wrapping Gateway
func Dedupe(next Gateway, ttl time.Duration) Gateway {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &dedupeGateway{
		next: next,
		ttl:  ttl,
		seen: cache.New(ttl, 2*ttl),
	}
}

func roomDigest(rec codec.MapperRecord) string {
	return fmt.Sprintf("%d:%016x", *rec.ID, xxhash.Sum64(rec.Raw))
}

// RecordCombatResult implements Gateway.
func (d *dedupeGateway) RecordCombatResult(ctx context.Context, monster, area string, exp int64) error {
	return d.next.RecordCombatResult(ctx, monster, area, exp)
}

// RecordRoom implements Gateway.
func (d *dedupeGateway) RecordRoom(ctx context.Context, rec codec.MapperRecord) error {
	if rec.ID == nil {
		return errNoRoomID
	}

	key := roomDigest(rec)
	if _, found := d.seen.Get(key); found {
		return nil
	}

	_, err, _ := d.group.Do(key, func() (interface{}, error) {
		if _, found := d.seen.Get(key); found {
			return nil, nil
		}
		if err := d.next.RecordRoom(ctx, rec); err != nil {
			return nil, err
		}
		d.seen.Set(key, struct{}{}, d.ttl)
		return nil, nil
	})

	return err
}

// Close implements Gateway.
func (d *dedupeGateway) Close() error {
	d.seen.Flush()
	return d.next.Close()
}
