package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func tokenize(t *testing.T, src string) []Token {
	t.Helper()
	l := New(src)
	var out []Token
	for {
		tok, err := l.Next()
		require.NoError(t, err)
		if tok.Kind == EOF {
			break
		}
		out = append(out, tok)
	}
	return out
}

func TestLexKeywordsAndIdents(t *testing.T) {
	toks := tokenize(t, "MATCH (n:Person) RETURN n.name")
	require.Equal(t, Keyword, toks[0].Kind)
	require.Equal(t, "MATCH", toks[0].Text)
	require.Equal(t, Symbol, toks[1].Kind)
	require.Equal(t, "(", toks[1].Text)
	require.Equal(t, Ident, toks[2].Kind)
	require.Equal(t, "n", toks[2].Text)
}

func TestLexStringLiteralWithEscape(t *testing.T) {
	toks := tokenize(t, `"hello\nworld"`)
	require.Len(t, toks, 1)
	require.Equal(t, StringLiteral, toks[0].Kind)
	require.Equal(t, "hello\nworld", toks[0].Text)
}

func TestLexNumbers(t *testing.T) {
	toks := tokenize(t, "1 2.5 3e10 -4")
	require.Equal(t, IntLiteral, toks[0].Kind)
	require.Equal(t, FloatLiteral, toks[1].Kind)
	require.Equal(t, FloatLiteral, toks[2].Kind)
	require.Equal(t, Symbol, toks[3].Kind) // '-' is a separate symbol token
	require.Equal(t, IntLiteral, toks[4].Kind)
}

func TestLexParameter(t *testing.T) {
	toks := tokenize(t, "$userId")
	require.Equal(t, Parameter, toks[0].Kind)
	require.Equal(t, "userId", toks[0].Text)
}

func TestLexTwoCharSymbols(t *testing.T) {
	toks := tokenize(t, "a <> b <= c >= d")
	require.Equal(t, "<>", toks[1].Text)
	require.Equal(t, "<=", toks[3].Text)
	require.Equal(t, ">=", toks[5].Text)
}

func TestLexUnterminatedStringErrors(t *testing.T) {
	l := New(`"unterminated`)
	_, err := l.Next()
	require.Error(t, err)
}

func TestLexLineComment(t *testing.T) {
	toks := tokenize(t, "RETURN 1 // trailing comment\n")
	require.Len(t, toks, 2)
}
