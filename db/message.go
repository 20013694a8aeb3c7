package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

const messageColumns = "id, chat_id, COALESCE(role, ''), content, attachment_urls, COALESCE(prompt, ''), created_at"

// AppendMessage inserts msg at the end of the chat. The chat must exist.
func (db *DB) AppendMessage(chatID int64, msg *Message) (*Message, error) {
	urls := msg.AttachmentURLs
	if urls == nil {
		urls = []string{}
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachment urls: %w", err)
	}

	role := msg.Role
	if role == "" {
		role = RoleUser
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM chats WHERE id = ?", chatID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check chat: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("append to chat %d: %w", chatID, ErrConstraintViolation)
	}

	result, err := tx.Exec(
		"INSERT INTO messages (chat_id, role, content, attachment_urls, prompt, created_at) VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)",
		chatID, string(role), msg.Content, string(encoded), msg.Prompt,
	)
	if err != nil {
		return nil, wrapConstraint(fmt.Sprintf("append to chat %d", chatID), err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message ID: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapConstraint("commit message", err)
	}

	return &Message{
		ID:             id,
		ChatID:         chatID,
		Role:           role,
		Content:        msg.Content,
		AttachmentURLs: urls,
		Prompt:         msg.Prompt,
		CreatedAt:      time.Now(),
	}, nil
}

// ListMessages returns the messages of a chat in insertion order. A chat
// without messages, or one that does not exist, yields an empty slice.
func (db *DB) ListMessages(chatID int64) ([]*Message, error) {
	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages WHERE chat_id = ? ORDER BY id ASC",
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var role, urls string
	if err := row.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &urls, &msg.Prompt, &msg.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Role = parseRole(role)
	msg.AttachmentURLs = []string{}
	if urls != "" {
		if err := json.Unmarshal([]byte(urls), &msg.AttachmentURLs); err != nil {
			// Older rows kept a single bare URL
			msg.AttachmentURLs = []string{urls}
		}
	}

	return &msg, nil
}

// wrapConstraint maps sqlite constraint failures onto ErrConstraintViolation
func wrapConstraint(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %v: %w", op, err, ErrConstraintViolation)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
