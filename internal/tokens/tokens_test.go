package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/recall/internal/domain"
)

func testCounter(t *testing.T) *Counter {
	t.Helper()
	c, err := New("")
	require.NoError(t, err)
	return c
}

func TestNew_DefaultModel(t *testing.T) {
	c := testCounter(t)
	assert.Equal(t, DefaultModel, c.Model())
}

func TestNew_UnknownModelFallsBack(t *testing.T) {
	c, err := New("definitely-not-a-model")
	require.NoError(t, err)
	assert.Positive(t, c.Count("hello world"))
}

func TestCount(t *testing.T) {
	c := testCounter(t)

	assert.Equal(t, 0, c.Count(""))
	short := c.Count("hi")
	long := c.Count("the quick brown fox jumps over the lazy dog, again and again")
	assert.Positive(t, short)
	assert.Greater(t, long, short)
}

func TestChars_CountsRunes(t *testing.T) {
	assert.Equal(t, 5, Chars("hello"))
	assert.Equal(t, 4, Chars("café"))
	assert.Equal(t, 0, Chars(""))
}

func TestMeasure(t *testing.T) {
	c := testCounter(t)
	turn := c.Measure(domain.RoleUser, "what is the weather like?")

	assert.Equal(t, domain.RoleUser, turn.Role)
	assert.Equal(t, 25, turn.Chars)
	assert.Positive(t, turn.Tokens)
	assert.False(t, turn.Timestamp.IsZero())
}

func TestSpan(t *testing.T) {
	turns := []domain.Turn{
		{Tokens: 3, Chars: 10},
		{Tokens: 4, Chars: 12},
	}
	tok, ch := Span(turns)
	assert.Equal(t, 7, tok)
	assert.Equal(t, 22, ch)

	tok, ch = Span(nil)
	assert.Zero(t, tok)
	assert.Zero(t, ch)
}
