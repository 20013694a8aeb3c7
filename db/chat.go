package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const chatColumns = "id, title, COALESCE(thread_id, ''), created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	if err := row.Scan(&chat.ID, &chat.Title, &chat.SessionID, &chat.CreatedAt); err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateChat creates a new chat. An empty title becomes DefaultChatTitle and
// an empty sessionID leaves the chat unbound.
func (db *DB) CreateChat(title, sessionID string) (*Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultChatTitle
	}

	result, err := db.conn.Exec(
		"INSERT INTO chats (title, thread_id, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		title, nullString(sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get chat ID: %w", err)
	}

	return &Chat{
		ID:        id,
		Title:     title,
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}, nil
}

// GetChat retrieves a chat by ID
func (db *DB) GetChat(id int64) (*Chat, error) {
	chat, err := scanChat(db.conn.QueryRow("SELECT "+chatColumns+" FROM chats WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

// ListChats returns every chat, most recently created first
func (db *DB) ListChats() ([]*Chat, error) {
	rows, err := db.conn.Query("SELECT " + chatColumns + " FROM chats ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []*Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	return chats, nil
}

// RenameChat updates a chat's title
func (db *DB) RenameChat(id int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultChatTitle
	}
	result, err := db.conn.Exec("UPDATE chats SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return fmt.Errorf("failed to rename chat: %w", err)
	}
	return requireRow(result, id)
}

// DeleteChat deletes a chat and, through the foreign key, all its messages
func (db *DB) DeleteChat(id int64) error {
	result, err := db.conn.Exec("DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return requireRow(result, id)
}

// BindSession records the remote session of an unbound chat. Binding the
// session the chat already has is a no-op; any other binding is refused.
func (db *DB) BindSession(id int64, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("bind chat %d: empty session id: %w", id, ErrConstraintViolation)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow("SELECT COALESCE(thread_id, '') FROM chats WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read session binding: %w", err)
	}

	switch current {
	case sessionID:
		return nil
	case "":
	default:
		return fmt.Errorf("chat %d bound to %s: %w", id, current, ErrAlreadyBound)
	}

	if _, err := tx.Exec("UPDATE chats SET thread_id = ? WHERE id = ?", sessionID, id); err != nil {
		return fmt.Errorf("failed to bind session: %w", err)
	}

	return tx.Commit()
}

func requireRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
