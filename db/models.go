package db

import (
	"errors"
	"time"
)

// DefaultChatTitle is the placeholder title of a chat that was never renamed
const DefaultChatTitle = "New Chat"

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// legacyBotRole is how older clients stored assistant messages
const legacyBotRole = "bot"

var (
	// ErrNotFound is returned when a chat does not exist
	ErrNotFound = errors.New("not found")
	// ErrConstraintViolation is returned when a write would break the schema
	// invariants, e.g. appending to a chat that does not exist
	ErrConstraintViolation = errors.New("store constraint violation")
	// ErrAlreadyBound is returned when a chat already has a different session
	ErrAlreadyBound = errors.New("chat already bound to a session")
)

// Chat represents a conversation
type Chat struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	SessionID string    `json:"session_id"` // remote thread id, empty until bound
	CreatedAt time.Time `json:"created_at"`
}

// Bound reports whether the chat has a remote session
func (c *Chat) Bound() bool {
	return c.SessionID != ""
}

// Message represents a single message in a chat
type Message struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	AttachmentURLs []string  `json:"attachment_urls"`
	Prompt         string    `json:"prompt"` // what generated the attachments, if anything
	CreatedAt      time.Time `json:"created_at"`
}

func parseRole(s string) Role {
	switch s {
	case string(RoleAssistant), legacyBotRole:
		return RoleAssistant
	default:
		return RoleUser
	}
}
