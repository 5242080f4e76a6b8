package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UserInfo is the identity record written by the add_user_info_to_database tool.
type UserInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	LastName   string    `json:"lastName,omitempty"`
	Age        int       `json:"age,omitempty"`
	Gender     string    `json:"gender,omitempty"`
	Location   string    `json:"location,omitempty"`
	Occupation string    `json:"occupation,omitempty"`
	Interests  string    `json:"interests,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Empty reports whether no profile field is set.
func (u UserInfo) Empty() bool {
	return u.Name == "" && u.LastName == "" && u.Age == 0 && u.Gender == "" &&
		u.Location == "" && u.Occupation == "" && u.Interests == ""
}

// ChatRecord is one logged question/answer exchange.
type ChatRecord struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// Profile renders the known fields as "Field: value" lines.
func (u UserInfo) Profile() string {
	var b strings.Builder
	add := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	add("Name", strings.TrimSpace(u.Name+" "+u.LastName))
	if u.Age > 0 {
		add("Age", strconv.Itoa(u.Age))
	}
	add("Gender", u.Gender)
	add("Location", u.Location)
	add("Occupation", u.Occupation)
	add("Interests", u.Interests)
	return strings.TrimSuffix(b.String(), "\n")
}
