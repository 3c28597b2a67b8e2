package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/bcproxy/color"
)

const esc = 0x1b

// Handshake asks the server to switch the connection to bc mode. It is written
// once, right after connecting and before anything is decoded.
var Handshake = []byte{esc, 'b', 'c', ' ', '1', '\n'}

// Limits on buffered section data. Exceeding one ends decoding.
const (
	MaxArgLength     = 256
	MaxCaptureLength = 64 * 1024
	MaxDepth         = 64
)

var (
	// ErrMalformedTag is returned when a tag inside a text or style section is not
	// two ASCII digits. Outside sections such bytes are literal text, inside
	// captured or discarded sections they are content.
	ErrMalformedTag = errors.New("malformed bc tag")
	// ErrSectionTooLarge is returned when an argument or captured section
	// outgrows its limit.
	ErrSectionTooLarge = errors.New("bc section too large")
	// ErrNestingTooDeep is returned when sections nest beyond MaxDepth.
	ErrNestingTooDeep = errors.New("bc sections nested too deeply")
)

// Section codes with a meaning for the proxy. Every other code is control
// data that is consumed and reported as FrameEmpty.
const (
	codeDefaultOutput = 10
	codePrompt        = 11
	codeForeground    = 20
	codeBackground    = 21
	codeBold          = 22
	codeItalic        = 23
	codeUnderline     = 24
	codeBlink         = 25
	codeLink          = 30
	codeSpecial       = 99
)

type sectionClass uint8

const (
	classText sectionClass = iota
	classStyle
	classCapture
	classDiscard
)

type section struct {
	code   int
	class  sectionClass
	style  color.Kind
	inBody bool
	arg    []byte
	value  string
}

func (s *section) opaque() bool {
	return s.class == classCapture || s.class == classDiscard
}

func newSection(code int) section {
	s := section{code: code, inBody: true}

	switch code {
	case codeDefaultOutput, codeLink:
		s.class, s.inBody = classText, false
	case codePrompt:
		s.class = classText
	case codeForeground:
		s.class, s.style, s.inBody = classStyle, color.Foreground, false
	case codeBackground:
		s.class, s.style, s.inBody = classStyle, color.Background, false
	case codeBold:
		s.class, s.style = classStyle, color.Bold
	case codeItalic:
		s.class, s.style = classStyle, color.Italic
	case codeUnderline:
		s.class, s.style = classStyle, color.Underline
	case codeBlink:
		s.class, s.style = classStyle, color.Blink
	case codeSpecial:
		s.class = classCapture
	default:
		s.class = classDiscard
	}

	return s
}

func (s *section) colorCode() color.Code {
	if s.style == color.Foreground || s.style == color.Background {
		return color.Code{Kind: s.style, Value: s.value}
	}

	return color.Code{Kind: s.style}
}

type scanState uint8

const (
	stText scanState = iota
	stEsc
	stOpen
	stClose
)

// batParser is the incremental state machine behind BatDecoder. It never
// blocks: feed consumes whatever bytes it is given and keeps partial tags and
// sections across calls.
type batParser struct {
	state   scanState
	digits  [2]byte
	ndigits int

	stack   []section
	nested  int
	capture []byte

	lit []byte
	out []BatFrame
}

func (p *batParser) top() *section {
	if len(p.stack) == 0 {
		return nil
	}

	return &p.stack[len(p.stack)-1]
}

func (p *batParser) emit(f BatFrame) {
	p.flush()
	p.out = append(p.out, f)
}

func (p *batParser) flush() {
	if len(p.lit) == 0 {
		return
	}

	p.out = append(p.out, BatFrame{Kind: FrameBytes, Bytes: p.lit})
	p.lit = nil
}

// feed consumes data and returns the frames it completed. On error the frames
// decoded before the offending byte are still returned.
func (p *batParser) feed(data []byte) ([]BatFrame, error) {
	for i := 0; i < len(data); i++ {
		if p.state == stText {
			if top := p.top(); top == nil || (top.class == classText && top.inBody) || (top.class == classStyle && top.inBody) {
				// Fast path: copy the run of literal bytes up to the next escape.
				j := bytes.IndexByte(data[i:], esc)
				if j < 0 {
					j = len(data) - i
				}
				if j > 0 {
					p.lit = append(p.lit, data[i:i+j]...)
					i += j - 1
					continue
				}
			}
		}

		if err := p.step(data[i]); err != nil {
			p.flush()
			return p.take(), err
		}
	}

	p.flush()
	return p.take(), nil
}

// finish flushes what is left at end of stream. A dangling ESC outside any
// opaque section is literal text; partial tags and unterminated captures are
// dropped.
func (p *batParser) finish() []BatFrame {
	if p.state == stEsc {
		if top := p.top(); top == nil || !top.opaque() {
			_ = p.text(esc)
		}
	}

	p.state = stText
	p.flush()
	return p.take()
}

func (p *batParser) take() []BatFrame {
	out := p.out
	p.out = nil
	return out
}

// text routes one literal byte to wherever the innermost section sends it.
func (p *batParser) text(b byte) error {
	top := p.top()
	switch {
	case top == nil:
		p.lit = append(p.lit, b)
	case top.class == classCapture:
		if len(p.capture) >= MaxCaptureLength {
			return fmt.Errorf("%w: section %02d exceeds %d bytes", ErrSectionTooLarge, top.code, MaxCaptureLength)
		}
		p.capture = append(p.capture, b)
	case top.class == classDiscard:
	case !top.inBody:
		if len(top.arg) >= MaxArgLength {
			return fmt.Errorf("%w: argument of section %02d exceeds %d bytes", ErrSectionTooLarge, top.code, MaxArgLength)
		}
		top.arg = append(top.arg, b)
	default:
		p.lit = append(p.lit, b)
	}

	return nil
}

func (p *batParser) step(b byte) error {
	switch p.state {
	case stText:
		if b == esc {
			p.state = stEsc
			return nil
		}
		return p.text(b)

	case stEsc:
		switch b {
		case '<':
			p.state, p.ndigits = stOpen, 0
			return nil
		case '>':
			p.state, p.ndigits = stClose, 0
			return nil
		case '|':
			p.state = stText
			if top := p.top(); top != nil && top.opaque() {
				return p.opaqueBytes(esc, b)
			}
			p.beginBody()
			return nil
		case esc:
			// The first ESC was literal; the second may still start a tag.
			if top := p.top(); top != nil && top.opaque() {
				return p.opaqueBytes(esc)
			}
			return p.text(esc)
		default:
			p.state = stText
			if top := p.top(); top != nil && top.opaque() {
				return p.opaqueBytes(esc, b)
			}
			if err := p.text(esc); err != nil {
				return err
			}
			return p.text(b)
		}

	case stOpen, stClose:
		if b < '0' || b > '9' {
			return p.badDigit(b)
		}

		p.digits[p.ndigits] = b
		p.ndigits++
		if p.ndigits < 2 {
			return nil
		}

		code := int(p.digits[0]-'0')*10 + int(p.digits[1]-'0')
		opening := p.state == stOpen
		p.state = stText

		if top := p.top(); top != nil && top.opaque() {
			return p.opaqueTag(opening, code)
		}
		if opening {
			return p.open(code)
		}
		p.close(code)
		return nil
	}

	return nil
}

// badDigit handles a tag whose code is not two digits. Outside any section
// and inside opaque ones the bytes are kept as they came; inside a rendered
// section the stream is malformed.
func (p *batParser) badDigit(b byte) error {
	lead := byte('<')
	if p.state == stClose {
		lead = '>'
	}
	seen := append([]byte{esc, lead}, p.digits[:p.ndigits]...)

	switch top := p.top(); {
	case top == nil:
		p.state = stText
		p.lit = append(p.lit, seen...)
		return p.step(b)
	case top.opaque():
		p.state = stText
		if err := p.opaqueBytes(seen...); err != nil {
			return err
		}
		return p.step(b)
	}

	return fmt.Errorf("%w: %q after ESC%c", ErrMalformedTag, b, lead)
}

// beginBody ends the argument of the innermost section. Style sections take
// effect here.
func (p *batParser) beginBody() {
	top := p.top()
	if top == nil || top.inBody {
		return
	}

	top.inBody = true
	top.value = string(top.arg)
	top.arg = nil
	if top.class == classStyle {
		p.emit(BatFrame{Kind: FrameColor, Color: top.colorCode()})
	}
}

func (p *batParser) open(code int) error {
	if len(p.stack) >= MaxDepth {
		return fmt.Errorf("%w: limit %d", ErrNestingTooDeep, MaxDepth)
	}

	// A nested section ends the parent's argument.
	p.beginBody()

	s := newSection(code)
	p.stack = append(p.stack, s)

	switch {
	case s.class == classStyle && s.inBody:
		p.emit(BatFrame{Kind: FrameColor, Color: s.colorCode()})
	case s.opaque():
		p.nested = 0
		p.capture = p.capture[:0]
	}

	return nil
}

// close pops the section with the given code together with any sections left
// open inside it. A close nothing matches is consumed as FrameEmpty.
func (p *batParser) close(code int) {
	idx := -1
	for i := len(p.stack) - 1; i >= 0; i-- {
		if p.stack[i].code == code {
			idx = i
			break
		}
	}

	if idx < 0 {
		p.emit(BatFrame{Kind: FrameEmpty})
		return
	}

	restyle := false
	for i := len(p.stack) - 1; i >= idx; i-- {
		if s := p.stack[i]; s.class == classStyle && s.inBody {
			restyle = true
		}
	}
	p.stack = p.stack[:idx]

	if !restyle {
		return
	}

	p.emit(BatFrame{Kind: FrameColor, Color: color.Code{Kind: color.Reset}})
	for i := range p.stack {
		if s := &p.stack[i]; s.class == classStyle && s.inBody {
			p.emit(BatFrame{Kind: FrameColor, Color: s.colorCode()})
		}
	}
}

// opaqueTag handles a complete tag inside a capture or discard section. Only
// the matching close ends the section; tags of the same code nest.
func (p *batParser) opaqueTag(opening bool, code int) error {
	top := p.top()
	if code == top.code {
		switch {
		case opening:
			p.nested++
		case p.nested > 0:
			p.nested--
		default:
			p.endOpaque()
			return nil
		}
	}

	lead := byte('>')
	if opening {
		lead = '<'
	}

	return p.opaqueBytes(esc, lead, byte('0'+code/10), byte('0'+code%10))
}

func (p *batParser) opaqueBytes(bs ...byte) error {
	for _, b := range bs {
		if err := p.text(b); err != nil {
			return err
		}
	}

	return nil
}

func (p *batParser) endOpaque() {
	s := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]

	if s.class == classDiscard {
		p.emit(BatFrame{Kind: FrameEmpty})
		return
	}

	raw := make([]byte, 0, len(p.capture)+8)
	raw = append(raw, esc, '<', byte('0'+s.code/10), byte('0'+s.code%10))
	raw = append(raw, p.capture...)
	raw = append(raw, esc, '>', byte('0'+s.code/10), byte('0'+s.code%10))
	p.capture = p.capture[:0]

	rec := ParseMapper(raw[4 : len(raw)-4])
	if rec == nil {
		p.emit(BatFrame{Kind: FrameEmpty})
		return
	}

	rec.Raw = raw
	p.emit(BatFrame{Kind: FrameMapper, Mapper: rec})
}

// BatDecoder reads a bc-mode stream and yields frames in stream order.
type BatDecoder struct {
	r       io.Reader
	buf     []byte
	p       batParser
	pending []BatFrame
	err     error
}

// NewBatDecoder returns a decoder reading from r. It must only see bytes sent
// after the handshake.
func NewBatDecoder(r io.Reader) *BatDecoder {
	return &BatDecoder{r: r, buf: make([]byte, 4096)}
}

// Next returns the next frame. When the stream ends it returns io.EOF (or the
// read error); when the stream is malformed it returns an error wrapping one
// of the Err* sentinels. Frames decoded before either are delivered first.
func (d *BatDecoder) Next() (BatFrame, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			return BatFrame{}, d.err
		}

		n, err := d.r.Read(d.buf)
		if n > 0 {
			frames, perr := d.p.feed(d.buf[:n])
			d.pending = append(d.pending, frames...)
			if perr != nil {
				d.err = perr
				continue
			}
		}

		if err != nil {
			d.pending = append(d.pending, d.p.finish()...)
			d.err = err
		}
	}

	f := d.pending[0]
	d.pending = d.pending[1:]
	return f, nil
}
