package domain

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// Role tags the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Turn is a single message in a conversation. Turns are immutable once
// appended to a history buffer.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens"`
	Chars     int       `json:"chars"`
	Oversize  bool      `json:"oversize,omitempty"` // exceeds a history limit on its own
}

// Digest returns a hex blake3 digest of the turn's role and content.
// Timestamps and counts are not part of the digest.
func (t Turn) Digest() string {
	h := blake3.New()
	h.Write([]byte(t.Role))
	h.Write([]byte{0})
	h.Write([]byte(t.Content))
	return hex.EncodeToString(h.Sum(nil))
}

// ToolCall is a model-issued request to invoke a tool.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	CallIndex int            `json:"callIndex"`
}
