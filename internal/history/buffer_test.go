package history

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/recall/internal/domain"
)

// wordMeter counts whitespace-separated words as tokens.
type wordMeter struct{}

func (wordMeter) Count(text string) int { return len(strings.Fields(text)) }

func user(s string) domain.Turn      { return domain.Turn{Role: domain.RoleUser, Content: s} }
func assistant(s string) domain.Turn { return domain.Turn{Role: domain.RoleAssistant, Content: s} }

func appendPair(b *Buffer, q, a string) []domain.Turn {
	b.Append(user(q))
	evicted := b.EnforceLimits()
	b.Append(assistant(a))
	return append(evicted, b.EnforceLimits()...)
}

func TestAppend_FillsCounts(t *testing.T) {
	b := New(Limits{}, wordMeter{})
	turn := b.Append(user("hello there friend"))

	assert.Equal(t, 18, turn.Chars)
	assert.Equal(t, 3, turn.Tokens)
	assert.False(t, turn.Oversize)
	assert.Equal(t, 1, b.Len())
}

func TestAppend_FlagsOversize(t *testing.T) {
	b := New(Limits{MaxChars: 10}, wordMeter{})
	turn := b.Append(user("this turn is far longer than ten characters"))
	assert.True(t, turn.Oversize)

	b = New(Limits{MaxTokens: 2}, wordMeter{})
	turn = b.Append(user("three word turn"))
	assert.True(t, turn.Oversize)
}

func TestEnforceLimits_NoBreachIsNoop(t *testing.T) {
	b := New(Limits{MaxPairs: 5}, wordMeter{})
	evicted := appendPair(b, "q1", "a1")
	assert.Empty(t, evicted)
	assert.Equal(t, 2, b.Len())
}

func TestEnforceLimits_MaxPairsScenario(t *testing.T) {
	b := New(Limits{MaxPairs: 2}, wordMeter{})

	var batches [][]domain.Turn
	for i := 1; i <= 3; i++ {
		b.Append(user(fmt.Sprintf("q%d", i)))
		if ev := b.EnforceLimits(); len(ev) > 0 {
			batches = append(batches, ev)
		}
		b.Append(assistant(fmt.Sprintf("a%d", i)))
		if ev := b.EnforceLimits(); len(ev) > 0 {
			batches = append(batches, ev)
		}
	}

	require.Len(t, batches, 1)
	assert.Equal(t, []string{"q1", "a1"}, contents(batches[0]))
	assert.Equal(t, []string{"q2", "a2", "q3", "a3"}, contents(b.View()))
	assert.Equal(t, 2, b.Stats().Pairs)
}

func TestEnforceLimits_Characters(t *testing.T) {
	b := New(Limits{MaxChars: 20}, wordMeter{})
	appendPair(b, "aaaaa", "bbbbb")
	evicted := appendPair(b, "ccccc", "ddddd")
	assert.Empty(t, evicted)

	evicted = appendPair(b, "eeeee", "fffff")
	assert.Equal(t, []string{"aaaaa", "bbbbb"}, contents(evicted))
	assert.LessOrEqual(t, b.Stats().Chars, 20)
}

func TestEnforceLimits_Tokens(t *testing.T) {
	b := New(Limits{MaxTokens: 6}, wordMeter{})
	appendPair(b, "one two", "three four")
	evicted := appendPair(b, "five six", "seven eight")

	assert.Equal(t, []string{"one two", "three four"}, contents(evicted))
	assert.Equal(t, 4, b.Stats().Tokens)
}

func TestEnforceLimits_KeepsLastExchange(t *testing.T) {
	b := New(Limits{MaxChars: 5, MaxTokens: 1}, wordMeter{})
	appendPair(b, "a very long question", "a very long answer")

	view := b.View()
	require.Len(t, view, 2)
	assert.True(t, view[0].Oversize)
	assert.True(t, view[1].Oversize)

	evicted := appendPair(b, "another long question", "another long answer")
	assert.Equal(t, []string{"a very long question", "a very long answer"}, contents(evicted))
	assert.Equal(t, 1, b.Stats().Pairs)
}

func TestEnforceLimits_ToolTurnsStayWithExchange(t *testing.T) {
	b := New(Limits{MaxPairs: 1}, wordMeter{})
	b.Append(user("q1"))
	b.Append(domain.Turn{Role: domain.RoleTool, Content: "tool output"})
	b.Append(assistant("a1"))
	b.Append(user("q2"))

	evicted := b.EnforceLimits()
	assert.Equal(t, []string{"q1", "tool output", "a1"}, contents(evicted))
	assert.Equal(t, []string{"q2"}, contents(b.View()))
}

func TestRestore(t *testing.T) {
	b := New(Limits{MaxPairs: 1}, wordMeter{})
	appendPair(b, "q1", "a1")
	b.Append(user("q2"))
	evicted := b.EnforceLimits()
	require.NotEmpty(t, evicted)

	before := b.Stats()
	b.Restore(evicted)
	after := b.Stats()

	assert.Equal(t, []string{"q1", "a1", "q2"}, contents(b.View()))
	assert.Equal(t, before.Chars+4, after.Chars)
	assert.Equal(t, 2, after.Pairs)

	b.Restore(nil)
	assert.Equal(t, 3, b.Len())
}

func TestDropLast(t *testing.T) {
	b := New(Limits{}, wordMeter{})
	_, ok := b.DropLast()
	assert.False(t, ok)

	appendPair(b, "first question", "first answer")
	b.Append(user("unanswered question here"))

	got, ok := b.DropLast()
	require.True(t, ok)
	assert.Equal(t, "unanswered question here", got.Content)
	assert.Equal(t, []string{"first question", "first answer"}, contents(b.View()))

	stats := b.Stats()
	assert.Equal(t, 1, stats.Pairs)
	assert.Equal(t, 4, stats.Tokens)
	assert.Equal(t, len("first question")+len("first answer"), stats.Chars)
}

func TestView_ReturnsCopy(t *testing.T) {
	b := New(Limits{}, wordMeter{})
	b.Append(user("q1"))
	view := b.View()
	view[0].Content = "mutated"
	assert.Equal(t, "q1", b.View()[0].Content)
}

// For any sequence of appends, after EnforceLimits every limit holds unless
// only one exchange remains, and at least one exchange always remains.
func TestEnforceLimits_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon"}

	for trial := 0; trial < 200; trial++ {
		limits := Limits{
			MaxPairs:  1 + rng.Intn(4),
			MaxChars:  20 + rng.Intn(200),
			MaxTokens: 5 + rng.Intn(40),
		}
		b := New(limits, wordMeter{})

		for i := 0; i < 1+rng.Intn(12); i++ {
			n := 1 + rng.Intn(6)
			parts := make([]string, n)
			for j := range parts {
				parts[j] = words[rng.Intn(len(words))]
			}
			role := domain.RoleUser
			if i%2 == 1 {
				role = domain.RoleAssistant
			}
			b.Append(domain.Turn{Role: role, Content: strings.Join(parts, " ")})
			b.EnforceLimits()

			st := b.Stats()
			require.GreaterOrEqual(t, st.Pairs, 1)
			if st.Pairs > 1 {
				require.LessOrEqual(t, st.Pairs, limits.MaxPairs)
				require.LessOrEqual(t, st.Chars, limits.MaxChars)
				require.LessOrEqual(t, st.Tokens, limits.MaxTokens)
			}
		}
	}
}

func contents(turns []domain.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}
