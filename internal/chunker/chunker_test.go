package chunker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitEmpty(t *testing.T) {
	require.Empty(t, Split("", Options{Tokens: 50}))
	require.Empty(t, Split("   \n  \n", Options{Tokens: 50}))
}

func TestSplitNeverSplitsLine(t *testing.T) {
	content := "line one\nline two\nline three\nline four\n"
	chunks := Split(content, Options{Tokens: 3, Overlap: 0})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, c.StartLine, c.EndLine)
	}
}

func TestSplitDeterministic(t *testing.T) {
	content := "alpha\nbravo\ncharlie\ndelta\necho\nfoxtrot\n"
	opts := Options{Tokens: 4, Overlap: 1}
	a := Split(content, opts)
	b := Split(content, opts)
	require.Equal(t, a, b)
	for i := range a {
		require.Equal(t, a[i].Hash, b[i].Hash)
	}
}

func TestSplitOverlap(t *testing.T) {
	content := "one\ntwo\nthree\nfour\nfive\nsix\nseven\neight\n"
	chunks := Split(content, Options{Tokens: 3, Overlap: 1})
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		require.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine)
	}
}

func TestSplitMonotonicStartLines(t *testing.T) {
	content := "a\nb\nc\nd\ne\nf\ng\nh\ni\nj\n"
	chunks := Split(content, Options{Tokens: 2, Overlap: 1})
	for i := 1; i < len(chunks); i++ {
		require.GreaterOrEqual(t, chunks[i].StartLine, chunks[i-1].StartLine)
	}
}

func TestHashIsExactText(t *testing.T) {
	c := Split("hello world\n", Options{Tokens: 50})
	require.Len(t, c, 1)
	require.Equal(t, HashText(c[0].Text), c[0].Hash)
}
