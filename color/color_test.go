package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		name string
		code Code
		want string
	}{
		{"reset", Code{Kind: Reset}, "\x1b[0m"},
		{"bold", Code{Kind: Bold}, "\x1b[1m"},
		{"italic", Code{Kind: Italic}, "\x1b[3m"},
		{"underline", Code{Kind: Underline}, "\x1b[4m"},
		{"blink", Code{Kind: Blink}, "\x1b[5m"},
		{"palette red", Code{Kind: Foreground, Value: "800000"}, "\x1b[31m"},
		{"palette bright white", Code{Kind: Foreground, Value: "FFFFFF"}, "\x1b[97m"},
		{"palette background blue", Code{Kind: Background, Value: "000080"}, "\x1b[44m"},
		{"palette bright background", Code{Kind: Background, Value: "ffff00"}, "\x1b[103m"},
		{"hash prefix", Code{Kind: Foreground, Value: "#008000"}, "\x1b[32m"},
		{"truecolor", Code{Kind: Foreground, Value: "123456"}, "\x1b[38;2;18;52;86m"},
		{"truecolor background", Code{Kind: Background, Value: "0a0b0c"}, "\x1b[48;2;10;11;12m"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, string(Translate(tc.code)))
			assert.Equal(t, tc.want, string(tc.code.Bytes()))
		})
	}
}

func TestTranslate_UnknownIsEmpty(t *testing.T) {
	assert.Empty(t, Translate(Code{Kind: Foreground, Value: "red"}))
	assert.Empty(t, Translate(Code{Kind: Foreground, Value: "12345"}))
	assert.Empty(t, Translate(Code{Kind: Background, Value: ""}))
	assert.Empty(t, Translate(Code{Kind: Kind(200)}))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "foreground", Foreground.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
