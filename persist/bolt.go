package persist

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/bcproxy/codec"
	bbolt "go.etcd.io/bbolt"
)

var (
	bucketRooms    = []byte("rooms")
	bucketMonsters = []byte("monsters")
)

// Room is the stored form of a mapper record.
type Room struct {
	ID        int64
	Area      string
	Direction string
	From      string
	Indoors   bool
	Short     string
	Long      string
	Exits     string
	Raw       []byte
	UpdatedAt time.Time
}

// Monster aggregates every reported kill of one monster in one area.
type Monster struct {
	Name      string
	Area      string
	Exp       int64
	Kills     int64
	UpdatedAt time.Time
}

// BoltGateway stores telemetry in a local bbolt file. Rooms are keyed by
// their big-endian id, monsters by area and name.
type BoltGateway struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenBolt opens or creates the database at path and ensures its buckets
// exist.
func OpenBolt(path string) (*BoltGateway, error) {
	if path == "" {
		return nil, errors.New("bolt: empty database path")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRooms, bucketMonsters} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	return &BoltGateway{db: db, now: time.Now}, nil
}

func roomIDKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func monsterIDKey(area, name string) []byte {
	return []byte(area + "\x00" + name)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// RecordCombatResult implements Gateway.
func (g *BoltGateway) RecordCombatResult(ctx context.Context, monster, area string, exp int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return g.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMonsters)
		key := monsterIDKey(area, monster)

		m := Monster{Name: monster, Area: area}
		if data := b.Get(key); data != nil {
			if err := decode(data, &m); err != nil {
				return fmt.Errorf("bolt: decode monster %q: %w", monster, err)
			}
		}
		m.Exp = exp
		m.Kills++
		m.UpdatedAt = g.now().UTC()

		data, err := encode(&m)
		if err != nil {
			return fmt.Errorf("bolt: encode monster %q: %w", monster, err)
		}
		return b.Put(key, data)
	})
}

// RecordRoom implements Gateway.
func (g *BoltGateway) RecordRoom(ctx context.Context, rec codec.MapperRecord) error {
	if rec.ID == nil {
		return errNoRoomID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	room := Room{
		ID:        *rec.ID,
		Area:      rec.Area,
		Direction: rec.Direction,
		From:      rec.From,
		Indoors:   rec.Indoors,
		Short:     rec.Short,
		Long:      rec.Long,
		Exits:     rec.Exits,
		Raw:       rec.Raw,
		UpdatedAt: g.now().UTC(),
	}
	data, err := encode(&room)
	if err != nil {
		return fmt.Errorf("bolt: encode room %d: %w", room.ID, err)
	}

	return g.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRooms).Put(roomIDKey(room.ID), data)
	})
}

// Room loads a stored room.
func (g *BoltGateway) Room(id int64) (Room, bool, error) {
	var (
		room  Room
		found bool
	)
	err := g.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRooms).Get(roomIDKey(id))
		if data == nil {
			return nil
		}
		found = true
		return decode(data, &room)
	})
	return room, found, err
}

// Monster loads the kill aggregate of a monster.
func (g *BoltGateway) Monster(area, name string) (Monster, bool, error) {
	var (
		m     Monster
		found bool
	)
	err := g.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMonsters).Get(monsterIDKey(area, name))
		if data == nil {
			return nil
		}
		found = true
		return decode(data, &m)
	})
	return m, found, err
}

// Close implements Gateway.
func (g *BoltGateway) Close() error {
	return g.db.Close()
}
