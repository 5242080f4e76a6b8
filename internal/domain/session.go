package domain

// SessionRef identifies a conversation session and the user it belongs to.
type SessionRef struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// String returns a canonical string form of the session reference.
func (s SessionRef) String() string {
	if s.UserID == "" {
		return s.ID
	}
	return s.UserID + ":" + s.ID
}
