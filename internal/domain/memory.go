package domain

import "time"

// MemoryEntry is an embedded summary of evicted conversation content.
// Entries are never mutated once stored.
type MemoryEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId,omitempty"`
	SourceSession string    `json:"sourceSession"`
	SummaryText   string    `json:"summaryText"`
	Embedding     []float32 `json:"embedding,omitempty"`
	SourceDigests []string  `json:"sourceDigests,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ScoredEntry pairs a memory entry with its similarity to a query.
type ScoredEntry struct {
	Entry MemoryEntry `json:"entry"`
	Score float64     `json:"score"`
}

// RetrievalResult is ordered by descending score, newest first on ties.
type RetrievalResult []ScoredEntry
