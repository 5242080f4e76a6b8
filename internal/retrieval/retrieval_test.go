package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/soyeahso/recall/internal/metrics"
	"github.com/soyeahso/recall/internal/store"
	"github.com/soyeahso/recall/internal/vectormem"
)

func silentLog() *logging.Logger {
	return logging.Nop()
}

type stubQuerier struct {
	result domain.RetrievalResult
	texts  []string
}

func (s *stubQuerier) Query(_ context.Context, text string, k int, _ ...vectormem.QueryOption) domain.RetrievalResult {
	s.texts = append(s.texts, text)
	if len(s.result) > k {
		return s.result[:k]
	}
	return s.result
}

type stubUsers struct {
	user *domain.UserInfo
	err  error
}

func (s stubUsers) Get(_ context.Context, _ string) (*domain.UserInfo, error) {
	return s.user, s.err
}

func turn(r domain.Role, content string) domain.Turn {
	return domain.Turn{Role: r, Content: content, Timestamp: time.Now()}
}

func scored(id, session, text string, score float64, digests ...string) domain.ScoredEntry {
	return domain.ScoredEntry{
		Entry: domain.MemoryEntry{ID: id, SourceSession: session, SummaryText: text, SourceDigests: digests},
		Score: score,
	}
}

var session = domain.SessionRef{ID: "s1", UserID: "alice"}

func TestBuildContext_MemoriesFirstThenLive(t *testing.T) {
	q := &stubQuerier{result: domain.RetrievalResult{
		scored("m1", "old", "alice likes green tea", 0.9),
		scored("m2", "old", "alice lives in Paris", 0.4),
	}}
	a := New(q, nil, Config{K: 3}, silentLog())

	live := []domain.Turn{
		turn(domain.RoleUser, "hi"),
		turn(domain.RoleAssistant, "hello"),
		turn(domain.RoleUser, "what tea do I like?"),
	}
	pc := a.BuildContext(context.Background(), session, live)

	require.Equal(t, []string{"what tea do I like?"}, q.texts)
	require.Len(t, pc.Memories, 2)

	msgs := pc.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, memoriesHeader+"\n- alice likes green tea\n- alice lives in Paris", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "what tea do I like?", msgs[3].Content)
}

func TestBuildContext_NoUserTurnNoQuery(t *testing.T) {
	q := &stubQuerier{result: domain.RetrievalResult{scored("m1", "old", "x", 1)}}
	a := New(q, nil, Config{K: 3}, silentLog())

	pc := a.BuildContext(context.Background(), session, []domain.Turn{turn(domain.RoleAssistant, "welcome")})
	assert.Empty(t, q.texts)
	assert.Empty(t, pc.Memories)
	assert.Len(t, pc.Messages(), 1)
}

func TestBuildContext_DedupLiveSpans(t *testing.T) {
	live := []domain.Turn{
		turn(domain.RoleUser, "I like tea"),
		turn(domain.RoleAssistant, "noted"),
		turn(domain.RoleUser, "and coffee?"),
	}
	d0, d1 := live[0].Digest(), live[1].Digest()

	q := &stubQuerier{result: domain.RetrievalResult{
		scored("same-live", "s1", "user likes tea", 0.9, d0, d1),
		scored("same-partial", "s1", "older tea talk", 0.8, d0, "gone"),
		scored("other-session", "s2", "tea elsewhere", 0.7, d0, d1),
		scored("no-digests", "s1", "legacy", 0.6),
	}}
	a := New(q, nil, Config{K: 10}, silentLog())

	pc := a.BuildContext(context.Background(), session, live)
	ids := make([]string, 0, len(pc.Memories))
	for _, m := range pc.Memories {
		ids = append(ids, m.Entry.ID)
	}
	assert.Equal(t, []string{"same-partial", "other-session", "no-digests"}, ids)
}

func TestBuildContext_UserLookup(t *testing.T) {
	q := &stubQuerier{}
	live := []domain.Turn{turn(domain.RoleUser, "hi")}

	a := New(q, stubUsers{user: &domain.UserInfo{ID: "alice", Name: "Alice"}}, Config{K: 3}, silentLog())
	pc := a.BuildContext(context.Background(), session, live)
	require.NotNil(t, pc.User)
	assert.Equal(t, "You are helpful.\n\nWhat you know about the user:\nName: Alice", pc.System("You are helpful."))

	a = New(q, stubUsers{err: store.ErrNotFound}, Config{K: 3}, silentLog())
	pc = a.BuildContext(context.Background(), session, live)
	assert.Nil(t, pc.User)
	assert.Equal(t, "base", pc.System("base"))

	a = New(q, stubUsers{err: errors.New("db locked")}, Config{K: 3}, silentLog())
	pc = a.BuildContext(context.Background(), session, live)
	assert.Nil(t, pc.User)
}

// failingEmbedder makes the real store degrade to an empty result.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding provider unavailable")
}

func TestBuildContext_FailingEmbedderYieldsLiveOnly(t *testing.T) {
	backend := vectormem.NewMemoryBackend()
	require.NoError(t, backend.Append(context.Background(), domain.MemoryEntry{
		ID: "m1", UserID: "alice", SourceSession: "old", SummaryText: "alice likes tea",
		Embedding: []float32{1, 0}, CreatedAt: time.Now(),
	}))
	vs := vectormem.New(backend, failingEmbedder{}, vectormem.Config{Collection: "chat_memory"},
		metrics.New("test", prometheus.NewRegistry()), silentLog())

	a := New(vs, nil, Config{K: 3}, silentLog())
	live := []domain.Turn{
		turn(domain.RoleUser, "what do I drink?"),
	}
	pc := a.BuildContext(context.Background(), session, live)

	assert.Empty(t, pc.Memories)
	msgs := pc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "what do I drink?"}, msgs[0])
}

func TestMessages_ToolTurnsAsUser(t *testing.T) {
	pc := PromptContext{Turns: []domain.Turn{turn(domain.RoleTool, "Function call successful.")}}
	assert.Equal(t, llm.RoleUser, pc.Messages()[0].Role)
}
