package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/retrieval"
	"github.com/soyeahso/recall/internal/vectormem"
)

type sessionKey struct{}

// WithSession attaches the session a tool call runs for.
func WithSession(ctx context.Context, s domain.SessionRef) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session attached by WithSession.
func SessionFrom(ctx context.Context) (domain.SessionRef, bool) {
	s, ok := ctx.Value(sessionKey{}).(domain.SessionRef)
	return s, ok
}

var errNoUser = errors.New("no user is associated with this session")

// UserWriter stores user profile fields.
type UserWriter interface {
	Upsert(ctx context.Context, id string, fields map[string]any) error
}

// UserInfoTool records profile details the user shares in conversation.
type UserInfoTool struct {
	users UserWriter
}

// NewUserInfoTool creates the add_user_info_to_database tool.
func NewUserInfoTool(users UserWriter) *UserInfoTool {
	return &UserInfoTool{users: users}
}

func (t *UserInfoTool) Name() string { return "add_user_info_to_database" }

func (t *UserInfoTool) Description() string {
	return "Update the user's information in the database. Use this when the user shares or changes " +
		"personal details. Only include the fields that need to be updated; all parameters are optional."
}

func (t *UserInfoTool) InputSchema() string {
	return `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "User's first name"},
    "last_name": {"type": "string", "description": "User's last name"},
    "age": {"type": "integer", "minimum": 0, "description": "User's age"},
    "gender": {"type": "string", "description": "User's gender"},
    "location": {"type": "string", "description": "User's location"},
    "occupation": {"type": "string", "description": "User's occupation"},
    "interests": {"type": ["array", "string"], "items": {"type": "string"}, "description": "User's interests"}
  },
  "additionalProperties": false
}`
}

func (t *UserInfoTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	s, ok := SessionFrom(ctx)
	if !ok || s.UserID == "" {
		return "", errNoUser
	}
	if len(args) == 0 {
		return "", errors.New("no user information provided to update")
	}
	if err := t.users.Upsert(ctx, s.UserID, args); err != nil {
		return "", fmt.Errorf("update user: %w", err)
	}
	return "User information updated.", nil
}

// ChatSearcher finds logged exchanges containing a term.
type ChatSearcher interface {
	Search(ctx context.Context, userID, term string, limit int) ([]domain.ChatRecord, error)
}

// errNoResults is reported to the model so it can retry with another term.
var errNoResults = errors.New("No results found. Please try again with a different word.")

// SearchTool looks through earlier conversations: summaries in the vector
// memory first, then the verbatim chat log.
type SearchTool struct {
	memory retrieval.Querier
	chats  ChatSearcher
	k      int
}

// NewSearchTool creates the search_chat_history tool. chats may be nil.
func NewSearchTool(memory retrieval.Querier, chats ChatSearcher, k int) *SearchTool {
	if k <= 0 {
		k = 3
	}
	return &SearchTool{memory: memory, chats: chats, k: k}
}

func (t *SearchTool) Name() string { return "search_chat_history" }

func (t *SearchTool) Description() string {
	return "Search through the user's previous conversations. Use this when the user asks what was " +
		"discussed before, or when context from past chats is needed. The search_term should be a " +
		"clear, specific keyword or phrase."
}

func (t *SearchTool) InputSchema() string {
	return `{
  "type": "object",
  "properties": {
    "search_term": {"type": "string", "minLength": 1, "description": "The term or phrase to search for"}
  },
  "required": ["search_term"],
  "additionalProperties": false
}`
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	term, _ := args["search_term"].(string)
	term = strings.TrimSpace(term)
	if term == "" {
		return "", errors.New("search_term is required")
	}

	s, _ := SessionFrom(ctx)
	var opts []vectormem.QueryOption
	if s.UserID != "" {
		opts = append(opts, vectormem.WithUser(s.UserID))
	}

	var lines []string
	for _, se := range t.memory.Query(ctx, term, t.k, opts...) {
		lines = append(lines, fmt.Sprintf("%.2f | %s | %s",
			se.Score, se.Entry.CreatedAt.Format("2006-01-02 15:04"), se.Entry.SummaryText))
	}

	if t.chats != nil {
		records, err := t.chats.Search(ctx, s.UserID, term, t.k)
		if err != nil && len(lines) == 0 {
			return "", fmt.Errorf("search chat log: %w", err)
		}
		for _, r := range records {
			lines = append(lines, fmt.Sprintf("chat | %s | User: %s / Assistant: %s",
				r.Timestamp.Format("2006-01-02 15:04"), r.Question, r.Answer))
		}
	}

	if len(lines) == 0 {
		return "", errNoResults
	}
	return strings.Join(lines, "\n"), nil
}

// RegisterBuiltins adds the standard tools to r. users and chats may be nil,
// in which case the tools depending on them are skipped.
func RegisterBuiltins(r *ToolRegistry, users UserWriter, memory retrieval.Querier, chats ChatSearcher, k int) error {
	if users != nil {
		if err := r.Register(NewUserInfoTool(users)); err != nil {
			return err
		}
	}
	if memory != nil {
		if err := r.Register(NewSearchTool(memory, chats, k)); err != nil {
			return err
		}
	}
	return nil
}
