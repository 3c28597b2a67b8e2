// Package idgenerator hands out session identifiers.
package idgenerator

import "sync/atomic"

// IdGenerator returns increasing uint32 ids, safe for concurrent use. Zero is
// never returned, so it can stand for "no session" after the counter wraps.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator returns a generator whose first id is startValue+1.
//
// Parameters:
//   - startValue: The counter's initial value
//
// Returns:
//   - A new IdGenerator
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Next returns the next id, skipping zero on wraparound.
func (g *IdGenerator) Next() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued id, or the start value if none was
// issued yet.
func (g *IdGenerator) Last() uint32 {
	return g.id.Load()
}
