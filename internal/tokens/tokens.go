// Package tokens measures conversation text in tokens and characters.
package tokens

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"github.com/soyeahso/recall/internal/domain"
)

// DefaultModel is the model whose encoding is used when none is configured.
const DefaultModel = "gpt-4o-mini"

// Counter counts tokens with a tiktoken encoding. It is safe for concurrent use.
type Counter struct {
	codec tokenizer.Codec
	model string
}

// New returns a counter for the given model name. Unknown models fall back
// to o200k_base, then cl100k_base.
func New(model string) (*Counter, error) {
	if model == "" {
		model = DefaultModel
	}
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			codec, err = tokenizer.Get(tokenizer.Cl100kBase)
			if err != nil {
				return nil, fmt.Errorf("loading tokenizer for %q: %w", model, err)
			}
		}
	}
	return &Counter{codec: codec, model: model}, nil
}

// Model returns the model name the counter was created for.
func (c *Counter) Model() string { return c.model }

// Count returns the number of tokens in text. Text the encoder rejects is
// estimated at one token per four bytes.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// Chars returns the number of characters (runes) in text.
func Chars(text string) int {
	return utf8.RuneCountInString(text)
}

// Measure builds a turn with its token and character counts filled in.
func (c *Counter) Measure(role domain.Role, content string) domain.Turn {
	return domain.Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    c.Count(content),
		Chars:     Chars(content),
	}
}

// Span sums the token and character counts of turns.
func Span(turns []domain.Turn) (tokens, chars int) {
	for _, t := range turns {
		tokens += t.Tokens
		chars += t.Chars
	}
	return tokens, chars
}
