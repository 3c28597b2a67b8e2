package codec

import (
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultPattern(t *testing.T) *regexp.Regexp {
	t.Helper()
	re, err := CompileMonsterPattern("")
	require.NoError(t, err)
	return re
}

func readLines(t *testing.T, r io.Reader, re *regexp.Regexp) []SendFrame {
	t.Helper()

	d := NewLineDecoder(r, re)
	var frames []SendFrame
	for {
		f, err := d.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestClassify(t *testing.T) {
	re := defaultPattern(t)

	t.Run("plain command", func(t *testing.T) {
		f := Classify([]byte("kill rat\n"), re)
		assert.Equal(t, SendFrame{Kind: SendLine, Line: []byte("kill rat\n")}, f)
	})

	t.Run("combat report", func(t *testing.T) {
		f := Classify([]byte("MONSTER_EXP;;orc;;sewers;;1000\n"), re)
		assert.Equal(t, SendMonsterExp, f.Kind)
		assert.Equal(t, MonsterExp{Name: "orc", Area: "sewers", Exp: 1000}, f.Monster)
		assert.Nil(t, f.Line, "nothing is forwarded for a report")
	})

	t.Run("combat report with crlf and trailing separator", func(t *testing.T) {
		f := Classify([]byte("MONSTER_EXP;;big orc;;dark sewers;;25;;\r\n"), re)
		require.Equal(t, SendMonsterExp, f.Kind)
		assert.Equal(t, MonsterExp{Name: "big orc", Area: "dark sewers", Exp: 25}, f.Monster)
	})

	t.Run("bad experience value", func(t *testing.T) {
		f := Classify([]byte("MONSTER_EXP;;orc;;sewers;;lots\n"), re)
		assert.Equal(t, SendMalformed, f.Kind)
		assert.Equal(t, "MONSTER_EXP;;orc;;sewers;;lots\n", string(f.Line))
	})

	t.Run("overflowing experience value", func(t *testing.T) {
		f := Classify([]byte("MONSTER_EXP;;orc;;sewers;;99999999999999999999\n"), re)
		assert.Equal(t, SendMalformed, f.Kind)
	})

	t.Run("missing monster name", func(t *testing.T) {
		f := Classify([]byte("MONSTER_EXP;;;;sewers;;10\n"), re)
		assert.Equal(t, SendMalformed, f.Kind)
	})

	t.Run("parsing disabled", func(t *testing.T) {
		f := Classify([]byte("MONSTER_EXP;;orc;;sewers;;1000\n"), nil)
		assert.Equal(t, SendLine, f.Kind)
	})
}

func TestCompileMonsterPattern(t *testing.T) {
	t.Run("custom wording", func(t *testing.T) {
		re, err := CompileMonsterPattern(`^You killed (?P<name>.+) in (?P<area>.+) for (?P<exp>\d+) exp$`)
		require.NoError(t, err)

		f := Classify([]byte("You killed a rat in the cellar for 12 exp\n"), re)
		require.Equal(t, SendMonsterExp, f.Kind)
		assert.Equal(t, MonsterExp{Name: "a rat", Area: "the cellar", Exp: 12}, f.Monster)
	})

	t.Run("missing group", func(t *testing.T) {
		_, err := CompileMonsterPattern(`^(?P<name>.+) (?P<exp>\d+)$`)
		assert.ErrorIs(t, err, ErrMonsterPattern)
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := CompileMonsterPattern(`(`)
		assert.Error(t, err)
	})
}

func TestLineDecoder_Next(t *testing.T) {
	re := defaultPattern(t)

	t.Run("splits lines and keeps terminators", func(t *testing.T) {
		frames := readLines(t, strings.NewReader("look\nkill rat\r\nMONSTER_EXP;;rat;;cellar;;5\nsay hi"), re)
		require.Len(t, frames, 4)
		assert.Equal(t, SendFrame{Kind: SendLine, Line: []byte("look\n")}, frames[0])
		assert.Equal(t, SendFrame{Kind: SendLine, Line: []byte("kill rat\r\n")}, frames[1])
		assert.Equal(t, SendMonsterExp, frames[2].Kind)
		assert.Equal(t, SendFrame{Kind: SendLine, Line: []byte("say hi")}, frames[3], "partial line at EOF is still forwarded")
	})

	t.Run("independent of read sizes", func(t *testing.T) {
		input := "north\nMONSTER_EXP;;orc;;sewers;;1000\nsouth\n"
		frames := readLines(t, iotest.OneByteReader(strings.NewReader(input)), re)
		require.Len(t, frames, 3)
		assert.Equal(t, "north\n", string(frames[0].Line))
		assert.Equal(t, MonsterExp{Name: "orc", Area: "sewers", Exp: 1000}, frames[1].Monster)
		assert.Equal(t, "south\n", string(frames[2].Line))
	})

	t.Run("overlong line is forwarded unclassified", func(t *testing.T) {
		long := "MONSTER_EXP;;" + strings.Repeat("x", MaxLineLength) + ";;a;;1\n"
		frames := readLines(t, strings.NewReader(long+"next\n"), re)
		require.Len(t, frames, 3)

		var joined strings.Builder
		for _, f := range frames[:2] {
			assert.Equal(t, SendLine, f.Kind)
			joined.Write(f.Line)
		}
		assert.Equal(t, long, joined.String())
		assert.Equal(t, "next\n", string(frames[2].Line))
	})

	t.Run("read error is returned after buffered data", func(t *testing.T) {
		boom := errors.New("boom")
		d := NewLineDecoder(io.MultiReader(strings.NewReader("half"), iotest.ErrReader(boom)), re)

		f, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, "half", string(f.Line))

		_, err = d.Next()
		assert.ErrorIs(t, err, boom)
		_, err = d.Next()
		assert.ErrorIs(t, err, boom)
	})
}
