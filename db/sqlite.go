package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the schema version this build migrates to
const SchemaVersion = 3

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and migrates it to SchemaVersion
func New(dbPath string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes every write
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migration is one schema version. Every step must be safe to re-run.
type migration struct {
	version int
	steps   []func(tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, steps: []func(tx *sql.Tx) error{createChatsTable, createMessagesTable}},
	{version: 2, steps: []func(tx *sql.Tx) error{addChatThreadColumn}},
	{version: 3, steps: []func(tx *sql.Tx) error{
		addChatCreatedAtColumn,
		addMessageAttachmentsColumn,
		addMessagePromptColumn,
		addMessageCreatedAtColumn,
		createMessagesChatIndex,
		requireColumns,
	}},
}

// requiredColumns is the layout every query of this package relies on
var requiredColumns = map[string][]string{
	"chats":    {"id", "title", "thread_id", "created_at"},
	"messages": {"id", "chat_id", "role", "content", "attachment_urls", "prompt", "created_at"},
}

// migrate applies pending migrations in ascending order. The version marker
// is written in the same transaction as the steps of that version.
func (db *DB) migrate() error {
	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.applyMigration(m); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", m.version, err)
		}
		current = m.version
	}

	return nil
}

func (db *DB) applyMigration(m migration) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, step := range m.steps {
		if err := step(tx); err != nil {
			return err
		}
	}

	// PRAGMA does not accept bound parameters
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return tx.Commit()
}

// SchemaVersion returns the stored schema version marker
func (db *DB) SchemaVersion() (int, error) {
	var version int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func tableExists(tx *sql.Tx, name string) (bool, error) {
	var count int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return count > 0, nil
}

func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	var count int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}

func createChatsTable(tx *sql.Tx) error {
	exists, err := tableExists(tx, "chats")
	if err != nil || exists {
		return err
	}
	_, err = tx.Exec(`CREATE TABLE chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create chats table: %w", err)
	}
	return nil
}

func createMessagesTable(tx *sql.Tx) error {
	exists, err := tableExists(tx, "messages")
	if err != nil || exists {
		return err
	}
	_, err = tx.Exec(`CREATE TABLE messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		attachment_urls TEXT NOT NULL DEFAULT '[]',
		prompt TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
	)`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return nil
}

func addChatThreadColumn(tx *sql.Tx) error {
	exists, err := columnExists(tx, "chats", "thread_id")
	if err != nil || exists {
		return err
	}
	if _, err := tx.Exec(`ALTER TABLE chats ADD COLUMN thread_id TEXT`); err != nil {
		return fmt.Errorf("failed to add thread_id column: %w", err)
	}
	return nil
}

func createMessagesChatIndex(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id, id)`)
	if err != nil {
		return fmt.Errorf("failed to create messages index: %w", err)
	}
	return nil
}

// addColumn adds table.column when it is missing, then runs backfill. ALTER
// TABLE only takes constant defaults, so timestamps are filled in afterwards.
func addColumn(tx *sql.Tx, table, column, decl string, backfill ...string) error {
	exists, err := columnExists(tx, table, column)
	if err != nil || exists {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s.%s column: %w", table, column, err)
	}
	for _, stmt := range backfill {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to backfill %s.%s: %w", table, column, err)
		}
	}
	return nil
}

func addChatCreatedAtColumn(tx *sql.Tx) error {
	return addColumn(tx, "chats", "created_at", "DATETIME",
		"UPDATE chats SET created_at = CURRENT_TIMESTAMP WHERE created_at IS NULL")
}

// addMessageAttachmentsColumn upgrades stores of the mobile client, which kept
// at most one attachment per message in imageUrl
func addMessageAttachmentsColumn(tx *sql.Tx) error {
	hasImageURL, err := columnExists(tx, "messages", "imageUrl")
	if err != nil {
		return err
	}
	var backfill []string
	if hasImageURL {
		backfill = append(backfill,
			"UPDATE messages SET attachment_urls = json_array(imageUrl) WHERE imageUrl IS NOT NULL AND imageUrl != ''")
	}
	return addColumn(tx, "messages", "attachment_urls", "TEXT NOT NULL DEFAULT '[]'", backfill...)
}

func addMessagePromptColumn(tx *sql.Tx) error {
	return addColumn(tx, "messages", "prompt", "TEXT NOT NULL DEFAULT ''")
}

func addMessageCreatedAtColumn(tx *sql.Tx) error {
	return addColumn(tx, "messages", "created_at", "DATETIME",
		"UPDATE messages SET created_at = CURRENT_TIMESTAMP WHERE created_at IS NULL")
}

// requireColumns fails the migration when a table that existed before it
// still lacks a column the store reads or writes
func requireColumns(tx *sql.Tx) error {
	for _, table := range []string{"chats", "messages"} {
		for _, column := range requiredColumns[table] {
			exists, err := columnExists(tx, table, column)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("table %s has no column %s", table, column)
			}
		}
	}
	return nil
}
