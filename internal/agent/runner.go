package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/history"
	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/soyeahso/recall/internal/metrics"
	"github.com/soyeahso/recall/internal/retrieval"
)

// RunnerConfig configures the session engine.
type RunnerConfig struct {
	AgentName   string
	ExtraPrompt string
	Limits      history.Limits
}

// Summarizer condenses an evicted span into one memory entry.
type Summarizer interface {
	Summarize(ctx context.Context, session domain.SessionRef, span []domain.Turn) domain.MemoryEntry
}

// MemoryWriter stores memory entries.
type MemoryWriter interface {
	Insert(ctx context.Context, entry domain.MemoryEntry) error
}

// ContextBuilder assembles the prompt for a turn.
type ContextBuilder interface {
	BuildContext(ctx context.Context, session domain.SessionRef, live []domain.Turn) retrieval.PromptContext
}

// ChatRecorder logs exchanges and summaries.
type ChatRecorder interface {
	Append(ctx context.Context, rec domain.ChatRecord) error
	AppendSummary(ctx context.Context, userID, sessionID, text string) error
}

// Deps are the collaborators of a Runner. ChatLog and Metrics may be nil.
type Deps struct {
	Orchestrator *Orchestrator
	Meter        history.Measurer
	Summarizer   Summarizer
	Memory       MemoryWriter
	Context      ContextBuilder
	ChatLog      ChatRecorder
	Metrics      *metrics.Metrics
	Log          *logging.Logger
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	SessionID  string         `json:"sessionId"`
	Answer     string         `json:"answer"`
	Calls      []ExecutedCall `json:"calls,omitempty"`
	Iterations int            `json:"iterations"`
	Exhausted  bool           `json:"exhausted,omitempty"`
	Evicted    int            `json:"evicted"`
	Memories   int            `json:"memories"`
	Stats      history.Stats  `json:"stats"`
	Model      string         `json:"model,omitempty"`
	Usage      llm.Usage      `json:"usage"`
	Duration   time.Duration  `json:"duration"`
}

// session is the live state of one conversation. mu serializes turns.
type session struct {
	mu       sync.Mutex
	ref      domain.SessionRef
	buf      *history.Buffer
	log      *logging.Logger
	lastSeen atomic.Int64 // unix nanos of the last access
}

func (s *session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

// Runner is the per-turn engine: it keeps each session's history within
// its limits, moves evicted exchanges into long-term memory, and answers
// through the bounded agent loop.
type Runner struct {
	cfg  RunnerConfig
	deps Deps
	log  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, deps Deps) *Runner {
	return &Runner{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Log.Sub("runner"),
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

func (r *Runner) session(ref domain.SessionRef) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[ref.ID]
	if !ok {
		s = &session{
			ref: ref,
			buf: history.New(r.cfg.Limits, r.deps.Meter),
			log: r.log.With("session", ref.String()),
		}
		r.sessions[ref.ID] = s
		r.deps.Metrics.SetActiveSessions(len(r.sessions))
		s.log.Debug().Msg("session started")
	}
	s.touch(r.now())
	return s
}

// Turn processes one user message. Memory and tool faults degrade the
// turn; only a failed agent call or cancellation returns an error.
func (r *Runner) Turn(ctx context.Context, ref domain.SessionRef, text string) (*TurnResult, error) {
	start := time.Now()
	s := r.session(ref)
	s.mu.Lock()
	defer s.mu.Unlock()

	asked := s.buf.Append(domain.Turn{Role: domain.RoleUser, Content: text, Timestamp: time.Now()})
	evicted := r.compact(ctx, s)

	pc := r.deps.Context.BuildContext(ctx, s.ref, s.buf.View())
	system := pc.System(BuildSystemPrompt(PromptConfig{
		AgentName:   r.cfg.AgentName,
		Tools:       r.deps.Orchestrator.Tools().Definitions(),
		ExtraPrompt: r.cfg.ExtraPrompt,
	}))

	s.log.Info().
		Int("historyLen", s.buf.Len()).
		Int("memories", len(pc.Memories)).
		Msg("processing turn")

	out, err := r.deps.Orchestrator.Run(WithSession(ctx, s.ref), Request{
		System:   system,
		Messages: pc.Messages(),
	})
	var budget *BudgetExceededError
	if err != nil && !errors.As(err, &budget) {
		r.withdraw(s, asked)
		return nil, fmt.Errorf("session %s: %w", s.ref.ID, err)
	}

	for _, c := range out.Calls {
		s.buf.Append(domain.Turn{Role: domain.RoleTool, Content: formatToolResults([]ExecutedCall{c}), Timestamp: time.Now()})
	}
	s.buf.Append(domain.Turn{Role: domain.RoleAssistant, Content: out.Answer, Timestamp: time.Now()})
	evicted += r.compact(ctx, s)
	s.touch(r.now())

	if r.deps.ChatLog != nil {
		rec := domain.ChatRecord{
			UserID:    s.ref.UserID,
			SessionID: s.ref.ID,
			Question:  text,
			Answer:    out.Answer,
			Timestamp: time.Now().UTC(),
		}
		if err := r.deps.ChatLog.Append(ctx, rec); err != nil {
			s.log.Warn().Err(err).Msg("failed to log exchange")
		}
	}

	res := &TurnResult{
		SessionID:  s.ref.ID,
		Answer:     out.Answer,
		Calls:      out.Calls,
		Iterations: out.Iterations,
		Exhausted:  out.Exhausted,
		Evicted:    evicted,
		Memories:   len(pc.Memories),
		Stats:      s.buf.Stats(),
		Model:      out.Model,
		Usage:      out.Usage,
		Duration:   time.Since(start),
	}

	s.log.Info().
		Str("model", res.Model).
		Int("calls", len(res.Calls)).
		Int("evicted", evicted).
		Dur("duration", res.Duration).
		Msg("turn complete")
	return res, nil
}

// withdraw removes an unanswered user turn so a retry does not leave two
// consecutive questions in the history. Compaction never evicts the latest
// exchange, so the turn is still the tail.
func (r *Runner) withdraw(s *session, asked domain.Turn) {
	last, ok := s.buf.DropLast()
	if !ok {
		return
	}
	if last.Role != domain.RoleUser || !last.Timestamp.Equal(asked.Timestamp) {
		s.buf.Append(last)
		return
	}
	s.log.Debug().Msg("unanswered turn withdrawn")
}

// compact runs evict, summarize and persist as one unit. If ctx is
// cancelled before the entry is stored, the span is put back so the next
// turn retries it. It returns the number of turns moved to memory.
func (r *Runner) compact(ctx context.Context, s *session) int {
	span := s.buf.EnforceLimits()
	if len(span) == 0 {
		return 0
	}
	if ctx.Err() != nil {
		s.buf.Restore(span)
		return 0
	}

	entry := r.deps.Summarizer.Summarize(ctx, s.ref, span)
	if ctx.Err() != nil {
		s.buf.Restore(span)
		s.log.Debug().Msg("compaction interrupted, span restored")
		return 0
	}

	if err := r.deps.Memory.Insert(ctx, entry); err != nil {
		if ctx.Err() != nil {
			s.buf.Restore(span)
			s.log.Debug().Msg("compaction interrupted, span restored")
			return 0
		}
		// Insert has logged and counted the loss.
		s.log.Warn().Err(err).Int("turns", len(span)).Msg("evicted span not persisted")
	}
	r.deps.Metrics.ObserveEviction()

	if r.deps.ChatLog != nil {
		if err := r.deps.ChatLog.AppendSummary(ctx, s.ref.UserID, s.ref.ID, entry.SummaryText); err != nil {
			s.log.Warn().Err(err).Msg("failed to log summary")
		}
	}

	s.log.Debug().
		Int("turns", len(span)).
		Str("entry", entry.ID).
		Msg("evicted span moved to memory")
	return len(span)
}

// Stats returns the live history size of a session.
func (r *Runner) Stats(id string) (history.Stats, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return history.Stats{}, false
	}
	return s.buf.Stats(), true
}

// History returns a copy of a session's live turns.
func (r *Runner) History(id string) []domain.Turn {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.buf.View()
}

// Sessions lists the ids of live sessions.
func (r *Runner) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// End drops a session's live state and reports whether it existed. Its
// memories remain.
func (r *Runner) End(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	r.deps.Metrics.SetActiveSessions(len(r.sessions))
	s.log.Debug().Msg("session ended")
	return true
}

// EndIdle drops every session not used for maxIdle and returns their ids.
// A session with a turn in flight is never dropped.
func (r *Runner) EndIdle(maxIdle time.Duration) []string {
	cutoff := r.now().Add(-maxIdle).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()
	var ended []string
	for id, s := range r.sessions {
		if s.lastSeen.Load() > cutoff {
			continue
		}
		if !s.mu.TryLock() {
			continue
		}
		delete(r.sessions, id)
		s.mu.Unlock()
		ended = append(ended, id)
	}
	if len(ended) > 0 {
		sort.Strings(ended)
		r.deps.Metrics.SetActiveSessions(len(r.sessions))
		r.log.Info().Strs("sessions", ended).Dur("maxIdle", maxIdle).Msg("idle sessions ended")
	}
	return ended
}
