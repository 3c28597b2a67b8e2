// Package color translates bc-mode style directives into the ANSI byte
// sequences a plain terminal client understands.
package color

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// Kind identifies a style directive.
type Kind uint8

const (
	// Reset clears every active style.
	Reset Kind = iota
	// Foreground sets the text colour from Code.Value.
	Foreground
	// Background sets the background colour from Code.Value.
	Background
	// Bold renders text bold.
	Bold
	// Italic renders text in italics.
	Italic
	// Underline underlines text.
	Underline
	// Blink makes text blink where the terminal supports it.
	Blink
)

// String returns the directive name.
func (k Kind) String() string {
	switch k {
	case Reset:
		return "reset"
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	case Bold:
		return "bold"
	case Italic:
		return "italic"
	case Underline:
		return "underline"
	case Blink:
		return "blink"
	default:
		return "unknown"
	}
}

// Code is one style directive. Value holds the RRGGBB hex string for
// Foreground and Background and is ignored otherwise.
type Code struct {
	Kind  Kind
	Value string
}

// Bytes is shorthand for Translate(c).
func (c Code) Bytes() []byte {
	return Translate(c)
}

// The palette the server uses for its sixteen base colors, indexed by the
// ANSI color offset. Entries 8-15 are the bright variants.
var palette = map[string]int{
	"000000": 0,
	"800000": 1,
	"008000": 2,
	"808000": 3,
	"000080": 4,
	"800080": 5,
	"008080": 6,
	"c0c0c0": 7,
	"808080": 8,
	"ff0000": 9,
	"00ff00": 10,
	"ffff00": 11,
	"0000ff": 12,
	"ff00ff": 13,
	"00ffff": 14,
	"ffffff": 15,
}

var (
	resetSeq     = []byte("\x1b[0m")
	boldSeq      = []byte("\x1b[1m")
	italicSeq    = []byte("\x1b[3m")
	underlineSeq = []byte("\x1b[4m")
	blinkSeq     = []byte("\x1b[5m")
)

// Translate returns the terminal bytes for c. Palette colors map to the
// sixteen ANSI colors, other valid hex values to 24-bit color, and anything
// unrecognized to an empty sequence. The returned slice must not be modified.
func Translate(c Code) []byte {
	switch c.Kind {
	case Reset:
		return resetSeq
	case Bold:
		return boldSeq
	case Italic:
		return italicSeq
	case Underline:
		return underlineSeq
	case Blink:
		return blinkSeq
	case Foreground:
		return rgb(c.Value, 30, 90, 38)
	case Background:
		return rgb(c.Value, 40, 100, 48)
	default:
		return nil
	}
}

func rgb(value string, base, bright, extended int) []byte {
	value = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "#"))
	if idx, ok := palette[value]; ok {
		n := base + idx
		if idx >= 8 {
			n = bright + idx - 8
		}
		return sgr(strconv.Itoa(n))
	}

	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != 3 {
		return nil
	}

	return sgr(strconv.Itoa(extended) + ";2;" +
		strconv.Itoa(int(raw[0])) + ";" +
		strconv.Itoa(int(raw[1])) + ";" +
		strconv.Itoa(int(raw[2])))
}

func sgr(params string) []byte {
	return []byte("\x1b[" + params + "m")
}
