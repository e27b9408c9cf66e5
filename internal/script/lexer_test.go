package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []token) []tokKind {
	out := make([]tokKind, len(toks))
	for i, t := range toks {
		out[i] = t.kind
	}
	return out
}

func TestLexNumbersAndUnits(t *testing.T) {
	toks, err := lex("sleep 250ms, 1.5e3 .5")
	require.NoError(t, err)
	require.Len(t, toks, 7)

	assert.Equal(t, "sleep", toks[0].text)
	assert.Equal(t, 250.0, toks[1].num)
	assert.Equal(t, "ms", toks[1].unit)
	assert.True(t, toks[1].space)
	assert.Equal(t, ",", toks[2].text)
	assert.False(t, toks[2].space)
	assert.Equal(t, 1500.0, toks[3].num)
	assert.Equal(t, "", toks[3].unit)
	assert.Equal(t, 0.5, toks[4].num)
	assert.Equal(t, tNewline, toks[5].kind)
	assert.Equal(t, tEOF, toks[6].kind)
}

func TestLexLinesAndComments(t *testing.T) {
	src := "a = 1 # set a\n\n\nb(1,\n 2); c\n"
	toks, err := lex(src)
	require.NoError(t, err)
	assert.Equal(t, []tokKind{
		tIdent, tOp, tNumber, tNewline,
		tIdent, tOp, tNumber, tOp, tNumber, tOp, tNewline,
		tIdent, tNewline, tEOF,
	}, kinds(toks))
	assert.Equal(t, 4, toks[4].line)
	assert.Equal(t, 5, toks[11].line)
}

func TestLexStrings(t *testing.T) {
	toks, err := lex(`print "a\tb\"c", 'it''s'`)
	require.NoError(t, err)
	assert.Equal(t, "a\tb\"c", toks[1].text)
	assert.Equal(t, "it", toks[3].text)
	assert.Equal(t, "s", toks[4].text)
}

func TestLexOperators(t *testing.T) {
	toks, err := lex("a<=b&&!c||d!=e")
	require.NoError(t, err)
	var ops []string
	for _, tk := range toks {
		if tk.kind == tOp {
			ops = append(ops, tk.text)
		}
	}
	assert.Equal(t, []string{"<=", "&&", "!", "||", "!="}, ops)
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`print "open`, "line 1: unterminated string"},
		{"a = 1\nb = @", "line 2: unexpected character '@'"},
		{"x = 1.2.3", "line 1: bad number \"1.2.3\""},
	}
	for i, tt := range tests {
		_, err := lex(tt.src)
		if assert.Error(t, err, "#%d", i) {
			assert.Equal(t, tt.want, err.Error(), "#%d %q", i, tt.src)
		}
	}
}
