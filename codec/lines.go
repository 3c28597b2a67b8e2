package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// MaxLineLength bounds how much client input is buffered while waiting for a
// newline. Longer lines are forwarded in pieces without classification.
const MaxLineLength = 64 * 1024

// DefaultMonsterPattern matches the report a client trigger sends after a
// kill: MONSTER_EXP;;<name>;;<area>;;<exp>
const DefaultMonsterPattern = `^MONSTER_EXP;;(?P<name>[^;]*);;(?P<area>[^;]*);;(?P<exp>[^;]*)(?:;;)?$`

// ErrMonsterPattern is returned by CompileMonsterPattern for patterns that
// lack the name, area and exp groups.
var ErrMonsterPattern = errors.New("monster pattern must define name, area and exp groups")

// CompileMonsterPattern compiles a combat report pattern and checks that it
// defines the named groups name, area and exp.
//
// Parameters:
//   - expr: Regular expression, DefaultMonsterPattern when empty
//
// Returns:
//   - The compiled pattern, or an error if it does not compile or lacks a group
func CompileMonsterPattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		expr = DefaultMonsterPattern
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile monster pattern: %w", err)
	}

	for _, group := range []string{"name", "area", "exp"} {
		if re.SubexpIndex(group) < 0 {
			return nil, fmt.Errorf("%w: missing %q", ErrMonsterPattern, group)
		}
	}

	return re, nil
}

// Classify turns one client line into a SendFrame. A nil pattern disables
// combat parsing and every line is forwarded. A line that matches the pattern
// but carries an empty name or a non-integer exp is SendMalformed.
func Classify(line []byte, monsters *regexp.Regexp) SendFrame {
	if monsters == nil {
		return SendFrame{Kind: SendLine, Line: line}
	}

	m := monsters.FindSubmatch(bytes.TrimRight(line, "\r\n"))
	if m == nil {
		return SendFrame{Kind: SendLine, Line: line}
	}

	name := strings.TrimSpace(string(m[monsters.SubexpIndex("name")]))
	area := strings.TrimSpace(string(m[monsters.SubexpIndex("area")]))
	exp, err := strconv.ParseInt(strings.TrimSpace(string(m[monsters.SubexpIndex("exp")])), 10, 64)
	if err != nil || name == "" || exp < 0 {
		return SendFrame{Kind: SendMalformed, Line: line}
	}

	return SendFrame{
		Kind:    SendMonsterExp,
		Monster: MonsterExp{Name: name, Area: area, Exp: exp},
	}
}

// LineDecoder splits client input into lines and classifies each one.
type LineDecoder struct {
	r        *bufio.Reader
	monsters *regexp.Regexp
	overlong bool
	err      error
}

// NewLineDecoder returns a decoder reading from r. Pass the compiled pattern
// from CompileMonsterPattern to enable combat parsing, or nil to disable it.
func NewLineDecoder(r io.Reader, monsters *regexp.Regexp) *LineDecoder {
	return &LineDecoder{
		r:        bufio.NewReaderSize(r, MaxLineLength),
		monsters: monsters,
	}
}

// Next returns the next frame. A trailing line without a terminator is
// returned before the stream's error. Once the stream ends every call returns
// io.EOF or the read error.
func (d *LineDecoder) Next() (SendFrame, error) {
	if d.err != nil {
		return SendFrame{}, d.err
	}

	slice, err := d.r.ReadSlice('\n')
	line := bytes.Clone(slice)

	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		d.overlong = true
		return SendFrame{Kind: SendLine, Line: line}, nil
	case err != nil:
		d.err = err
		if len(line) == 0 {
			return SendFrame{}, err
		}
		return SendFrame{Kind: SendLine, Line: line}, nil
	}

	if d.overlong {
		d.overlong = false
		return SendFrame{Kind: SendLine, Line: line}, nil
	}

	return Classify(line, d.monsters), nil
}
