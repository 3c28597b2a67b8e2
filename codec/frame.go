// Package codec decodes the two directions of a proxied bc-mode session: the
// client's typed lines (LineDecoder) and the server's tagged stream
// (BatDecoder).
package codec

import (
	"github.com/cyberinferno/bcproxy/color"
)

// SendKind tags a SendFrame.
type SendKind uint8

const (
	// SendLine is a command to forward upstream verbatim.
	SendLine SendKind = iota
	// SendMonsterExp is a combat report, consumed by the proxy.
	SendMonsterExp
	// SendMalformed is a combat report that could not be parsed.
	SendMalformed
)

// MonsterExp is a combat result reported by the player.
type MonsterExp struct {
	Name string
	Area string
	Exp  int64
}

// SendFrame is one classified line of client input.
type SendFrame struct {
	Kind    SendKind
	Line    []byte // raw line for SendLine and SendMalformed, terminator included
	Monster MonsterExp
}

// FrameKind tags a BatFrame.
type FrameKind uint8

const (
	// FrameEmpty is a consumed control section that produces no output.
	FrameEmpty FrameKind = iota
	// FrameBytes is literal text.
	FrameBytes
	// FrameColor is a style change.
	FrameColor
	// FrameMapper is a room telemetry record.
	FrameMapper
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameEmpty:
		return "empty"
	case FrameBytes:
		return "bytes"
	case FrameColor:
		return "color"
	case FrameMapper:
		return "mapper"
	default:
		return "unknown"
	}
}

// BatFrame is one decoded unit of the server stream.
type BatFrame struct {
	Kind   FrameKind
	Bytes  []byte
	Color  color.Code
	Mapper *MapperRecord
}

// MapperRecord is room telemetry. Raw is relayed to mapper clients verbatim,
// Output is what the primary client sees. ID is nil when the server gave no
// stable room identity.
type MapperRecord struct {
	ID *int64

	Area      string
	Direction string
	From      string
	Indoors   bool
	Short     string
	Long      string
	Exits     string

	Raw    []byte
	Output []byte
}
