// Package vectormem is the append-only long-term memory: embedded summaries
// of evicted conversation spans, ranked by cosine similarity.
package vectormem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/soyeahso/recall/internal/metrics"
)

// Embedder turns text into a vector. The model gateway satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds store settings.
type Config struct {
	Collection     string
	EmbeddingModel string
	Workers        int // InsertMany concurrency
	MinScore       float64
}

// PersistenceError reports an entry that could not be stored after retrying.
// The entry is lost.
type PersistenceError struct {
	EntryID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("memory entry %s dropped: %v", e.EntryID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store embeds and ranks memory entries over a Backend.
type Store struct {
	backend  Backend
	embedder Embedder
	cfg      Config
	metrics  *metrics.Metrics
	log      *logging.Logger
}

// New creates a Store.
func New(backend Backend, embedder Embedder, cfg Config, m *metrics.Metrics, log *logging.Logger) *Store {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Store{
		backend:  backend,
		embedder: embedder,
		cfg:      cfg,
		metrics:  m,
		log:      log.Sub("vectormem"),
	}
}

// Config returns the store settings.
func (s *Store) Config() Config { return s.cfg }

// Insert embeds the entry's summary and appends it. Each failure is retried
// once; a second failure drops the entry and returns a *PersistenceError.
func (s *Store) Insert(ctx context.Context, entry domain.MemoryEntry) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = s.insertOnce(ctx, entry); err == nil {
			s.metrics.ObserveInsert("ok")
			s.log.Debug().Str("id", entry.ID).Str("session", entry.SourceSession).Msg("memory entry stored")
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		s.log.Warn().Err(err).Str("id", entry.ID).Int("attempt", attempt+1).Msg("memory insert failed")
	}

	s.metrics.ObserveInsert("dropped")
	s.log.Error().Err(err).
		Str("id", entry.ID).
		Str("session", entry.SourceSession).
		Str("summary", entry.SummaryText).
		Msg("memory entry dropped")
	return &PersistenceError{EntryID: entry.ID, Err: err}
}

func (s *Store) insertOnce(ctx context.Context, entry domain.MemoryEntry) error {
	if len(entry.Embedding) == 0 {
		vec, err := s.embedder.Embed(ctx, entry.SummaryText)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		if len(vec) == 0 {
			return errors.New("embed: empty vector")
		}
		entry.Embedding = vec
	}
	if err := s.backend.Append(ctx, entry); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// InsertMany inserts entries concurrently on a bounded worker pool. The
// returned slice is parallel to entries; nil means stored.
func (s *Store) InsertMany(ctx context.Context, entries []domain.MemoryEntry) []error {
	errs := make([]error, len(entries))
	if len(entries) == 0 {
		return errs
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(s.cfg.Workers, func(arg any) {
		defer wg.Done()
		i := arg.(int)
		errs[i] = s.Insert(ctx, entries[i])
	})
	if err != nil {
		for i := range errs {
			errs[i] = fmt.Errorf("create worker pool: %w", err)
		}
		return errs
	}
	defer pool.Release()

	for i := range entries {
		wg.Add(1)
		if err := pool.Invoke(i); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit entry %s: %w", entries[i].ID, err)
		}
	}
	wg.Wait()
	return errs
}

// QueryOption narrows a query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	userID   string
	minScore float64
	hasMin   bool
}

// WithUser restricts results to one user's entries.
func WithUser(id string) QueryOption {
	return func(o *queryOptions) { o.userID = id }
}

// WithMinScore drops results scoring below x.
func WithMinScore(x float64) QueryOption {
	return func(o *queryOptions) { o.minScore, o.hasMin = x, true }
}

// Query returns at most k entries ranked by similarity to text, highest
// first, newest first on equal scores. Failures produce an empty result.
func (s *Store) Query(ctx context.Context, text string, k int, opts ...QueryOption) domain.RetrievalResult {
	if k <= 0 {
		return nil
	}
	o := queryOptions{minScore: s.cfg.MinScore, hasMin: s.cfg.MinScore != 0}
	for _, opt := range opts {
		opt(&o)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		s.metrics.ObserveRetrievalMiss("embed")
		s.log.Warn().Err(err).Msg("query embedding failed, returning no memories")
		return nil
	}

	entries, err := s.backend.Snapshot(ctx)
	if err != nil {
		s.metrics.ObserveRetrievalMiss("backend")
		s.log.Warn().Err(err).Msg("memory snapshot failed, returning no memories")
		return nil
	}

	scored := make(domain.RetrievalResult, 0, len(entries))
	for _, e := range entries {
		if o.userID != "" && e.UserID != o.userID {
			continue
		}
		score := Cosine(vec, e.Embedding)
		if o.hasMin && score < o.minScore {
			continue
		}
		scored = append(scored, domain.ScoredEntry{Entry: e, Score: score})
	}

	Rank(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	if len(scored) == 0 {
		s.metrics.ObserveRetrievalMiss("empty")
		return nil
	}
	return scored
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.backend.Count(ctx)
}

// Snapshot returns every stored entry, oldest first.
func (s *Store) Snapshot(ctx context.Context) ([]domain.MemoryEntry, error) {
	return s.backend.Snapshot(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Rank sorts by descending score, then newer CreatedAt, then larger ID.
func Rank(r domain.RetrievalResult) {
	sort.SliceStable(r, func(i, j int) bool {
		a, b := r[i], r[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.CreatedAt.Equal(b.Entry.CreatedAt) {
			return a.Entry.CreatedAt.After(b.Entry.CreatedAt)
		}
		return a.Entry.ID > b.Entry.ID
	})
}

// Cosine returns the cosine similarity of a and b, or 0 when the
// dimensions differ or either vector has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
