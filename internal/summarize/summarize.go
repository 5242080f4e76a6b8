// Package summarize condenses evicted conversation spans into memory entries.
package summarize

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/soyeahso/recall/internal/metrics"
)

const (
	conversationPrompt = "Summarize the following conversation between a user and an assistant " +
		"into a short, factual digest. Keep names, preferences and decisions. " +
		"Provide a concise summary while keeping important details."

	textPrompt = "Condense the following text. Keep every fact needed to answer the user; " +
		"drop repetition and boilerplate."

	ellipsis = "…"
)

// Caller is the slice of the model gateway the summarizer needs.
type Caller interface {
	Call(ctx context.Context, role llm.ModelRole, msgs []llm.Message, opts ...llm.CallOption) (*llm.CompletionResponse, error)
}

// Config controls the fallback behavior.
type Config struct {
	MaxChars int // truncation length when the model fails
	Retries  int // extra model attempts before falling back; zero means one
}

// Summarizer turns spans of turns into MemoryEntry values. It never fails:
// when the model cannot produce a summary the span text is truncated instead.
type Summarizer struct {
	caller  Caller
	cfg     Config
	metrics *metrics.Metrics
	log     *logging.Logger
	now     func() time.Time
}

// New creates a Summarizer.
func New(caller Caller, cfg Config, m *metrics.Metrics, log *logging.Logger) *Summarizer {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 1000
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	return &Summarizer{
		caller:  caller,
		cfg:     cfg,
		metrics: m,
		log:     log.Sub("summarize"),
		now:     time.Now,
	}
}

// Summarize produces exactly one MemoryEntry for span.
func (s *Summarizer) Summarize(ctx context.Context, session domain.SessionRef, span []domain.Turn) domain.MemoryEntry {
	rendered := Render(span)

	text, ok := s.condense(ctx, conversationPrompt, rendered)
	if !ok {
		s.log.Warn().
			Str("session", session.String()).
			Int("turns", len(span)).
			Msg("summary model unavailable, truncating span")
	}

	digests := make([]string, len(span))
	for i, t := range span {
		digests[i] = t.Digest()
	}

	return domain.MemoryEntry{
		ID:            ulid.Make().String(),
		UserID:        session.UserID,
		SourceSession: session.ID,
		SummaryText:   text,
		SourceDigests: digests,
		CreatedAt:     s.now().UTC(),
	}
}

// SummarizeText condenses a long piece of text, such as a tool result.
// Text within MaxChars is returned unchanged.
func (s *Summarizer) SummarizeText(ctx context.Context, text string) string {
	if len([]rune(text)) <= s.cfg.MaxChars {
		return text
	}
	out, _ := s.condense(ctx, textPrompt, text)
	return out
}

// condense asks the summary model for a digest of input, falling back to
// truncation. The bool reports whether the model produced the text.
func (s *Summarizer) condense(ctx context.Context, instruction, input string) (string, bool) {
	msgs := []llm.Message{{Role: llm.RoleUser, Content: instruction + "\n\n" + input}}

	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		resp, err := s.caller.Call(ctx, llm.SummaryRole, msgs)
		if err == nil {
			if out := strings.TrimSpace(resp.Content); out != "" {
				return out, true
			}
			s.log.Debug().Int("attempt", attempt+1).Msg("empty summary")
			continue
		}
		s.log.Debug().Int("attempt", attempt+1).Err(err).Msg("summary call failed")
	}

	s.metrics.ObserveSummaryFallback()
	return Truncate(input, s.cfg.MaxChars), false
}

// Render formats a span as "User: ..." / "Assistant: ..." lines.
func Render(span []domain.Turn) string {
	var b strings.Builder
	for i, t := range span {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(speaker(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

func speaker(r domain.Role) string {
	switch r {
	case domain.RoleUser:
		return "User"
	case domain.RoleAssistant:
		return "Assistant"
	case domain.RoleTool:
		return "Tool"
	default:
		return "System"
	}
}

// Truncate cuts s to at most limit runes, marking the cut with a trailing ellipsis.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 1 {
		return ellipsis
	}
	return string(r[:limit-1]) + ellipsis
}
