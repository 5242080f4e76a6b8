// Package history holds a session's live conversation turns and enforces
// retention limits on them.
package history

import (
	"sync"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/tokens"
)

// Limits bounds the live history. A zero value disables that limit.
type Limits struct {
	MaxPairs  int
	MaxChars  int
	MaxTokens int
}

// Stats describes the current size of a buffer.
type Stats struct {
	Turns  int `json:"turns"`
	Pairs  int `json:"pairs"`
	Chars  int `json:"chars"`
	Tokens int `json:"tokens"`
}

// Measurer fills token and character counts for a turn.
type Measurer interface {
	Count(text string) int
}

// Buffer is an ordered store of turns for one session.
//
// Eviction works on whole exchanges: an exchange starts at a user turn and
// includes every following non-user turn. The most recent exchange is never
// evicted, so a buffer that has seen any turn never empties.
type Buffer struct {
	mu     sync.Mutex
	limits Limits
	meter  Measurer
	turns  []domain.Turn
	chars  int
	tokens int
}

// New creates an empty buffer. meter may be nil when callers always supply
// pre-measured turns.
func New(limits Limits, meter Measurer) *Buffer {
	return &Buffer{limits: limits, meter: meter}
}

// Limits returns the configured limits.
func (b *Buffer) Limits() Limits { return b.limits }

// Append adds a turn to the tail. Missing counts are filled in, and a turn
// that on its own exceeds the character or token limit is flagged Oversize.
// Append never evicts; call EnforceLimits afterwards.
func (b *Buffer) Append(t domain.Turn) domain.Turn {
	if t.Chars == 0 && t.Content != "" {
		t.Chars = tokens.Chars(t.Content)
	}
	if t.Tokens == 0 && t.Content != "" && b.meter != nil {
		t.Tokens = b.meter.Count(t.Content)
	}
	if (b.limits.MaxChars > 0 && t.Chars > b.limits.MaxChars) ||
		(b.limits.MaxTokens > 0 && t.Tokens > b.limits.MaxTokens) {
		t.Oversize = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, t)
	b.chars += t.Chars
	b.tokens += t.Tokens
	return t
}

// View returns a copy of the live turns in arrival order.
func (b *Buffer) View() []domain.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Len returns the number of live turns.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// Stats returns the current size of the buffer.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Turns:  len(b.turns),
		Pairs:  countExchanges(b.turns),
		Chars:  b.chars,
		Tokens: b.tokens,
	}
}

// EnforceLimits evicts exchanges from the head until every limit holds or
// only one exchange remains. It returns the evicted turns in order, or nil.
func (b *Buffer) EnforceLimits() []domain.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	var evicted []domain.Turn
	for b.breached() {
		n := firstExchangeLen(b.turns)
		if n == 0 || n == len(b.turns) {
			break
		}
		for _, t := range b.turns[:n] {
			b.chars -= t.Chars
			b.tokens -= t.Tokens
		}
		evicted = append(evicted, b.turns[:n]...)
		b.turns = append([]domain.Turn(nil), b.turns[n:]...)
	}
	return evicted
}

// Restore puts a previously evicted span back at the head of the buffer.
// It is used when the eviction could not be persisted.
func (b *Buffer) Restore(span []domain.Turn) {
	if len(span) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	turns := make([]domain.Turn, 0, len(span)+len(b.turns))
	turns = append(turns, span...)
	turns = append(turns, b.turns...)
	b.turns = turns
	for _, t := range span {
		b.chars += t.Chars
		b.tokens += t.Tokens
	}
}

// DropLast removes the tail turn and returns it. It is used to withdraw a
// user turn whose answer never arrived.
func (b *Buffer) DropLast() (domain.Turn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.turns) == 0 {
		return domain.Turn{}, false
	}
	t := b.turns[len(b.turns)-1]
	b.turns = b.turns[:len(b.turns)-1]
	b.chars -= t.Chars
	b.tokens -= t.Tokens
	return t, true
}

func (b *Buffer) breached() bool {
	if b.limits.MaxPairs > 0 && countExchanges(b.turns) > b.limits.MaxPairs {
		return true
	}
	if b.limits.MaxChars > 0 && b.chars > b.limits.MaxChars {
		return true
	}
	if b.limits.MaxTokens > 0 && b.tokens > b.limits.MaxTokens {
		return true
	}
	return false
}

// countExchanges counts user turns. Leading non-user turns form one extra
// exchange of their own.
func countExchanges(turns []domain.Turn) int {
	n := 0
	for i, t := range turns {
		if t.Role == domain.RoleUser || i == 0 {
			n++
		}
	}
	return n
}

// firstExchangeLen returns the length of the exchange at the head.
func firstExchangeLen(turns []domain.Turn) int {
	if len(turns) == 0 {
		return 0
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Role == domain.RoleUser {
			return i
		}
	}
	return len(turns)
}
