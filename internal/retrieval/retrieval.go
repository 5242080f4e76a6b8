// Package retrieval assembles the prompt context for a turn from long-term
// memory, the live history and the user's profile.
package retrieval

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/soyeahso/recall/internal/store"
	"github.com/soyeahso/recall/internal/vectormem"
)

const memoriesHeader = "Relevant memories from earlier conversations:"

// Querier is the read side of the vector memory store.
type Querier interface {
	Query(ctx context.Context, text string, k int, opts ...vectormem.QueryOption) domain.RetrievalResult
}

// UserLookup fetches a user record; store.ErrNotFound means none exists.
type UserLookup interface {
	Get(ctx context.Context, id string) (*domain.UserInfo, error)
}

// Config holds the retrieval width.
type Config struct {
	K int
}

// Augmentor builds PromptContexts.
type Augmentor struct {
	store Querier
	users UserLookup
	cfg   Config
	log   *logging.Logger
}

// New creates an Augmentor. users may be nil.
func New(q Querier, users UserLookup, cfg Config, log *logging.Logger) *Augmentor {
	return &Augmentor{
		store: q,
		users: users,
		cfg:   cfg,
		log:   log.Sub("retrieval"),
	}
}

// PromptContext is what the model sees for one turn: memories first, in
// rank order, then the live turns in chronological order.
type PromptContext struct {
	Memories domain.RetrievalResult
	Turns    []domain.Turn
	User     *domain.UserInfo
}

// BuildContext never fails. Memory and user lookups degrade to empty.
func (a *Augmentor) BuildContext(ctx context.Context, session domain.SessionRef, live []domain.Turn) PromptContext {
	pc := PromptContext{Turns: live}

	query := latestUserText(live)
	var (
		memories domain.RetrievalResult
		user     *domain.UserInfo
	)

	// Neither goroutine returns an error; the group only joins them.
	var g errgroup.Group
	if query != "" && a.cfg.K > 0 {
		g.Go(func() error {
			var opts []vectormem.QueryOption
			if session.UserID != "" {
				opts = append(opts, vectormem.WithUser(session.UserID))
			}
			memories = a.store.Query(ctx, query, a.cfg.K, opts...)
			return nil
		})
	}
	if a.users != nil && session.UserID != "" {
		g.Go(func() error {
			u, err := a.users.Get(ctx, session.UserID)
			switch {
			case err == nil:
				user = u
			case errors.Is(err, store.ErrNotFound):
			default:
				a.log.Warn().Err(err).Str("user", session.UserID).Msg("user lookup failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	pc.Memories = dedup(memories, session.ID, live)
	if dropped := len(memories) - len(pc.Memories); dropped > 0 {
		a.log.Debug().Int("dropped", dropped).Msg("skipped memories already in live history")
	}
	pc.User = user
	return pc
}

// dedup drops entries summarizing turns that are still live in this session.
func dedup(r domain.RetrievalResult, sessionID string, live []domain.Turn) domain.RetrievalResult {
	if len(r) == 0 {
		return r
	}
	present := make(map[string]struct{}, len(live))
	for _, t := range live {
		present[t.Digest()] = struct{}{}
	}

	out := make(domain.RetrievalResult, 0, len(r))
	for _, se := range r {
		if se.Entry.SourceSession == sessionID && allPresent(se.Entry.SourceDigests, present) {
			continue
		}
		out = append(out, se)
	}
	return out
}

func allPresent(digests []string, present map[string]struct{}) bool {
	if len(digests) == 0 {
		return false
	}
	for _, d := range digests {
		if _, ok := present[d]; !ok {
			return false
		}
	}
	return true
}

func latestUserText(turns []domain.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

// Messages renders the context for the model gateway.
func (pc PromptContext) Messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(pc.Turns)+1)
	if len(pc.Memories) > 0 {
		var b strings.Builder
		b.WriteString(memoriesHeader)
		for _, se := range pc.Memories {
			b.WriteString("\n- ")
			b.WriteString(se.Entry.SummaryText)
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: b.String()})
	}
	for _, t := range pc.Turns {
		msgs = append(msgs, llm.Message{Role: messageRole(t.Role), Content: t.Content})
	}
	return msgs
}

// System appends the user's known profile to a base system prompt.
func (pc PromptContext) System(base string) string {
	if pc.User == nil || pc.User.Empty() {
		return base
	}
	return strings.TrimSpace(base) + "\n\nWhat you know about the user:\n" + pc.User.Profile()
}

// Tool results travel as user messages.
func messageRole(r domain.Role) string {
	switch r {
	case domain.RoleAssistant:
		return llm.RoleAssistant
	case domain.RoleSystem:
		return llm.RoleSystem
	default:
		return llm.RoleUser
	}
}
