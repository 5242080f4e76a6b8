package summarize

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.Nop()
}

type fakeCaller struct {
	calls atomic.Int32
	fn    func(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error)
	role  llm.ModelRole
}

func (f *fakeCaller) Call(ctx context.Context, role llm.ModelRole, msgs []llm.Message, opts ...llm.CallOption) (*llm.CompletionResponse, error) {
	f.calls.Add(1)
	f.role = role
	return f.fn(ctx, msgs)
}

func span() []domain.Turn {
	return []domain.Turn{
		{Role: domain.RoleUser, Content: "My name is Ada and I like tea."},
		{Role: domain.RoleAssistant, Content: "Nice to meet you, Ada."},
	}
}

var session = domain.SessionRef{ID: "s1", UserID: "u1"}

func TestSummarizeUsesModel(t *testing.T) {
	var prompt string
	caller := &fakeCaller{fn: func(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error) {
		prompt = msgs[0].Content
		return &llm.CompletionResponse{Content: "  Ada likes tea.  "}, nil
	}}
	s := New(caller, Config{MaxChars: 100}, nil, silentLog())

	entry := s.Summarize(context.Background(), session, span())

	assert.Equal(t, "Ada likes tea.", entry.SummaryText)
	assert.Equal(t, "u1", entry.UserID)
	assert.Equal(t, "s1", entry.SourceSession)
	assert.Equal(t, llm.SummaryRole, caller.role)
	assert.Equal(t, int32(1), caller.calls.Load())
	assert.Contains(t, prompt, "User: My name is Ada and I like tea.\nAssistant: Nice to meet you, Ada.")
	assert.Contains(t, prompt, "concise summary")

	_, err := ulid.Parse(entry.ID)
	assert.NoError(t, err)
	require.Len(t, entry.SourceDigests, 2)
	assert.Equal(t, span()[0].Digest(), entry.SourceDigests[0])
	assert.WithinDuration(t, time.Now(), entry.CreatedAt, 5*time.Second)
}

func TestSummarizeRetriesOnce(t *testing.T) {
	caller := &fakeCaller{}
	caller.fn = func(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error) {
		if caller.calls.Load() == 1 {
			return nil, errors.New("boom")
		}
		return &llm.CompletionResponse{Content: "second try"}, nil
	}
	s := New(caller, Config{MaxChars: 100}, nil, silentLog())

	entry := s.Summarize(context.Background(), session, span())
	assert.Equal(t, "second try", entry.SummaryText)
	assert.Equal(t, int32(2), caller.calls.Load())
}

func TestSummarizeFallsBackToTruncation(t *testing.T) {
	caller := &fakeCaller{fn: func(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error) {
		return nil, errors.New("model down")
	}}
	s := New(caller, Config{MaxChars: 20}, nil, silentLog())

	entry := s.Summarize(context.Background(), session, span())

	assert.Equal(t, int32(2), caller.calls.Load())
	assert.Equal(t, 20, len([]rune(entry.SummaryText)))
	assert.True(t, strings.HasSuffix(entry.SummaryText, "…"))
	assert.True(t, strings.HasPrefix(entry.SummaryText, "User: My name is"))
	assert.NotEmpty(t, entry.ID)
	assert.Len(t, entry.SourceDigests, 2)
}

func TestSummarizeEmptyOutputFallsBack(t *testing.T) {
	caller := &fakeCaller{fn: func(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: ""}, nil
	}}
	s := New(caller, Config{MaxChars: 1000}, nil, silentLog())

	entry := s.Summarize(context.Background(), session, span())
	assert.Equal(t, Render(span()), entry.SummaryText, "short spans are kept whole")
}

func TestSummarizeCancelledSkipsModel(t *testing.T) {
	caller := &fakeCaller{fn: func(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "never"}, nil
	}}
	s := New(caller, Config{MaxChars: 1000}, nil, silentLog())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry := s.Summarize(ctx, session, span())
	assert.Equal(t, int32(0), caller.calls.Load())
	assert.NotEmpty(t, entry.SummaryText)
}

func TestSummarizeAlwaysOneEntryWithUniqueIDs(t *testing.T) {
	caller := &fakeCaller{fn: func(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error) {
		return nil, errors.New("down")
	}}
	s := New(caller, Config{MaxChars: 50}, nil, silentLog())

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		e := s.Summarize(context.Background(), session, span())
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
}

func TestSummarizeTextShortIsUnchanged(t *testing.T) {
	caller := &fakeCaller{fn: func(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error) {
		t.Fatal("model should not be called")
		return nil, nil
	}}
	s := New(caller, Config{MaxChars: 100}, nil, silentLog())
	assert.Equal(t, "short", s.SummarizeText(context.Background(), "short"))
}

func TestSummarizeTextCondensesLong(t *testing.T) {
	caller := &fakeCaller{fn: func(ctx context.Context, msgs []llm.Message) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "condensed"}, nil
	}}
	s := New(caller, Config{MaxChars: 10}, nil, silentLog())
	assert.Equal(t, "condensed", s.SummarizeText(context.Background(), strings.Repeat("x", 50)))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab…", Truncate("abcd", 3))
	assert.Equal(t, "…", Truncate("abcd", 1))
	assert.Equal(t, "héé…", Truncate("hééllo", 4))
}

func TestRender(t *testing.T) {
	out := Render([]domain.Turn{
		{Role: domain.RoleUser, Content: "q"},
		{Role: domain.RoleTool, Content: "r"},
		{Role: domain.RoleAssistant, Content: "a"},
	})
	assert.Equal(t, "User: q\nTool: r\nAssistant: a", out)
}
