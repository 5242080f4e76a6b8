package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/soyeahso/recall/internal/agent"
	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/vectormem"
)

const maxSearchK = 50

var errEmptyBody = errors.New("empty body")

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type createSessionRequest struct {
	UserID string `json:"userId"`
}

type turnRequest struct {
	UserID string `json:"userId,omitempty"`
	Text   string `json:"text"`
}

// MemoryHit is one memory search result. Embeddings are not exposed.
type MemoryHit struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Summary   string    `json:"summary"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

// handleHealth exposes liveness only; details are behind the RPC health method.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	ref, err := s.resolveSession(r.Context(), "", strings.TrimSpace(req.UserID))
	if err != nil {
		s.log.Error().Err(err).Msg("creating session")
		respondError(w, http.StatusInternalServerError, "store_error", "could not create session")
		return
	}
	respondJSON(w, http.StatusCreated, ref)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_body", "text is required")
		return
	}

	ref, err := s.resolveSession(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.UserID))
	if err != nil {
		s.log.Error().Err(err).Msg("resolving session")
		respondError(w, http.StatusInternalServerError, "store_error", "could not load session")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), turnTimeout)
	defer cancel()

	result, err := s.runTurn(ctx, ref, req.Text)
	if err != nil {
		status, code := turnErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, ok := s.runner.Stats(id)
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no live session "+id)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleEndSession drops a session's live history. Memories it produced
// stay searchable.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.runner.End(id) {
		respondError(w, http.StatusNotFound, "not_found", "no live session "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "memory search is not enabled")
		return
	}
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_query", "q is required")
		return
	}
	k, err := s.searchK(q.Get("k"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	hits := s.searchMemory(r.Context(), text, k, q.Get("user"))
	respondJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func (s *Server) searchK(raw string) (int, error) {
	if raw == "" {
		return s.cfg.Memory.K, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil || k < 1 {
		return 0, errors.New("k must be a positive integer")
	}
	return min(k, maxSearchK), nil
}

func (s *Server) searchMemory(ctx context.Context, text string, k int, userID string) []MemoryHit {
	var opts []vectormem.QueryOption
	if userID != "" {
		opts = append(opts, vectormem.WithUser(userID))
	}
	res := s.memory.Query(ctx, text, k, opts...)
	hits := make([]MemoryHit, 0, len(res))
	for _, se := range res {
		hits = append(hits, MemoryHit{
			ID:        se.Entry.ID,
			SessionID: se.Entry.SourceSession,
			UserID:    se.Entry.UserID,
			Summary:   se.Entry.SummaryText,
			Score:     se.Score,
			CreatedAt: se.Entry.CreatedAt,
		})
	}
	return hits
}

// resolveSession loads or creates the session with id. An empty id
// starts a new session.
func (s *Server) resolveSession(ctx context.Context, id, userID string) (domain.SessionRef, error) {
	if s.sessions == nil {
		if id == "" {
			id = uuid.New().String()
		}
		return domain.SessionRef{ID: id, UserID: userID}, nil
	}
	if id == "" {
		rec, err := s.sessions.Create(ctx, userID)
		if err != nil {
			return domain.SessionRef{}, err
		}
		return rec.SessionRef, nil
	}
	rec, err := s.sessions.GetOrCreate(ctx, id, userID)
	if err != nil {
		return domain.SessionRef{}, err
	}
	return rec.SessionRef, nil
}

func (s *Server) runTurn(ctx context.Context, ref domain.SessionRef, text string) (*agent.TurnResult, error) {
	result, err := s.runner.Turn(ctx, ref, text)
	if err != nil {
		return nil, err
	}
	if s.sessions != nil {
		if err := s.sessions.Touch(ctx, ref.ID); err != nil {
			s.log.Warn().Err(err).Str("session", ref.ID).Msg("touching session")
		}
	}
	return result, nil
}

func turnErrorStatus(err error) (int, string) {
	var up *llm.UpstreamError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &up):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "agent_error"
	}
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
