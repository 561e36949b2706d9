package completion

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAt(t *testing.T) {
	cases := []struct {
		input  string
		cursor int
		want   string
	}{
		{"board.D", 7, "D"},
		{"led = boa", 9, "boa"},
		{"x := Temp", 9, "Temp"},
		{"", 0, ""},
		{"print(x) ", 9, ""},
		{"a.b.c", 5, "c"},
		{"tabs\tD1", 7, "D1"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, TokenAt(tc.input, tc.cursor), "input=%q cursor=%d", tc.input, tc.cursor)
	}
}

func TestProviderRanksPrefixMatches(t *testing.T) {
	p := NewProvider(nil)

	resp, err := p.Complete(context.Background(), NewRequest("board.D1", 8))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Candidates)

	// Every candidate extends the token.
	for _, cand := range resp.Candidates {
		assert.True(t, strings.HasPrefix(cand.Text, "D1"), "candidate %q", cand.Text)
	}

	// Ranked: closest-length match first (D1 is excluded as identity).
	assert.Equal(t, "D10", resp.Candidates[0].Text)
}

func TestProviderEmptyTokenNoCandidates(t *testing.T) {
	p := NewProvider(nil)

	resp, err := p.Complete(context.Background(), NewRequest("println(x) ", 11))
	require.NoError(t, err)
	assert.Empty(t, resp.Candidates)
}

func TestProviderHistoryTokensRankAboveCorpus(t *testing.T) {
	p := NewProvider(func() []string {
		return []string{"ledBlink"}
	})

	resp, err := p.Complete(context.Background(), NewRequest("led", 3))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Candidates)
	assert.Equal(t, "ledBlink", resp.Candidates[0].Text)
	assert.Equal(t, "history", resp.Candidates[0].Kind)
}

func TestRequestIDsFresh(t *testing.T) {
	a := NewRequest("x", 1)
	b := NewRequest("x", 1)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCyclerWrapsAfterExactlyKOperations(t *testing.T) {
	p := NewProvider(nil)
	c := NewCycler(p)
	ctx := context.Background()

	first, ok := c.Next(ctx, "board.D1", 8)
	require.True(t, ok)

	k := len(c.candidates)
	require.Greater(t, k, 1)

	seen := map[string]bool{first: true}
	var got string
	for i := 1; i < k; i++ {
		got, ok = c.Next(ctx, got, len(got))
		require.True(t, ok)
		seen[got] = true
	}
	assert.Len(t, seen, k, "all k candidates visited before wrapping")

	// Operation k+1 wraps back to the first candidate.
	got, ok = c.Next(ctx, got, len(got))
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestCyclerResetRecomputesToken(t *testing.T) {
	p := NewProvider(nil)
	c := NewCycler(p)
	ctx := context.Background()

	_, ok := c.Next(ctx, "board.D1", 8)
	require.True(t, ok)
	require.True(t, c.Active())

	c.Reset()
	assert.False(t, c.Active())

	// A new cycle against a different token works from scratch.
	out, ok := c.Next(ctx, "Temp", 4)
	require.True(t, ok)
	assert.Equal(t, "Temperature()", out)
}

func TestCyclerNoCandidatesLeavesInputAlone(t *testing.T) {
	p := NewProvider(nil)
	c := NewCycler(p)

	out, ok := c.Next(context.Background(), "zzzzzz", 6)
	assert.False(t, ok)
	assert.Equal(t, "zzzzzz", out)
	assert.False(t, c.Active())
}

func TestCyclerClampsOutOfRangeCursor(t *testing.T) {
	p := NewProvider(nil)
	c := NewCycler(p)
	ctx := context.Background()

	// Cursor past the end behaves like end-of-input.
	past, ok := c.Next(ctx, "board.D1", len("board.D1")+5)
	require.True(t, ok)

	c.Reset()
	atEnd, ok := c.Next(ctx, "board.D1", len("board.D1"))
	require.True(t, ok)
	assert.Equal(t, atEnd, past)

	c.Reset()
	out, ok := c.Next(ctx, "board.D1", -3)
	assert.False(t, ok)
	assert.Equal(t, "board.D1", out)
}
