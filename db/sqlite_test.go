package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func schemaOf(t *testing.T, database *DB) []string {
	t.Helper()
	rows, err := database.conn.Query("SELECT type || ':' || name || ':' || COALESCE(sql, '') FROM sqlite_master ORDER BY type, name")
	require.NoError(t, err)
	defer rows.Close()

	var schema []string
	for rows.Next() {
		var entry string
		require.NoError(t, rows.Scan(&entry))
		schema = append(schema, entry)
	}
	require.NoError(t, rows.Err())
	return schema
}

func TestNew_MigratesToLatestVersion(t *testing.T) {
	database := newTestDB(t)

	version, err := database.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	tx, err := database.conn.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	hasThread, err := columnExists(tx, "chats", "thread_id")
	require.NoError(t, err)
	assert.True(t, hasThread)
}

func TestMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")

	first, err := New(path)
	require.NoError(t, err)
	before := schemaOf(t, first)
	require.NoError(t, first.migrate())
	assert.Equal(t, before, schemaOf(t, first))
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, before, schemaOf(t, second))
}

func TestMigrate_RerunsStepsAfterInterruptedUpgrade(t *testing.T) {
	database := newTestDB(t)

	// Simulate a process killed after the steps ran but before the marker moved
	_, err := database.conn.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	before := schemaOf(t, database)

	require.NoError(t, database.migrate())

	version, err := database.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
	assert.Equal(t, before, schemaOf(t, database))
}

// mobileClientSchema is the layout the mobile client leaves at user_version 2
var mobileClientSchema = []string{
	`CREATE TABLE chats (
		id INTEGER PRIMARY KEY NOT NULL,
		title TEXT NOT NULL,
		thread_id TEXT
	)`,
	`CREATE TABLE messages (
		id INTEGER PRIMARY KEY NOT NULL,
		chat_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		imageUrl TEXT,
		role TEXT,
		prompt TEXT,
		FOREIGN KEY (chat_id) REFERENCES chats (id) ON DELETE CASCADE
	)`,
}

func createRawStore(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err := conn.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, conn.Close())
	return path
}

func TestMigrate_UpgradesMobileClientStore(t *testing.T) {
	path := createRawStore(t, append(mobileClientSchema,
		`INSERT INTO chats (title, thread_id) VALUES ('old chat', NULL), ('bound chat', 'thread_old')`,
		`INSERT INTO messages (chat_id, content, role, imageUrl, prompt) VALUES
			(1, 'what is this?', 'user', 'file:///photo.jpg', ''),
			(1, 'a cat', 'bot', '', ''),
			(2, 'draw a cat', 'user', '', NULL)`,
		`PRAGMA user_version = 2`,
	)...)

	database, err := New(path)
	require.NoError(t, err)
	defer database.Close()

	version, err := database.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	chats, err := database.ListChats()
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "bound chat", chats[0].Title)
	assert.Equal(t, "thread_old", chats[0].SessionID)
	assert.False(t, chats[1].Bound())
	assert.False(t, chats[1].CreatedAt.IsZero())

	messages, err := database.ListMessages(1)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, []string{"file:///photo.jpg"}, messages[0].AttachmentURLs)
	assert.Equal(t, RoleAssistant, messages[1].Role)
	assert.Empty(t, messages[1].AttachmentURLs)
	assert.False(t, messages[1].CreatedAt.IsZero())

	messages, err = database.ListMessages(2)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Empty(t, messages[0].Prompt)

	saved, err := database.AppendMessage(1, &Message{Role: RoleUser, Content: "thanks", AttachmentURLs: []string{"/tmp/x.png"}})
	require.NoError(t, err)
	messages, err = database.ListMessages(1)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, saved.ID, messages[2].ID)
	assert.Equal(t, []string{"/tmp/x.png"}, messages[2].AttachmentURLs)
	assert.False(t, messages[2].CreatedAt.IsZero())

	fresh, err := database.CreateChat("", "")
	require.NoError(t, err)
	got, err := database.GetChat(fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, database.BindSession(1, "thread_new"))

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.UserMessages)
	assert.EqualValues(t, 1, stats.AssistantMessages)

	activity, err := database.GetDailyActivity(1)
	require.NoError(t, err)
	var total int64
	for _, day := range activity {
		total += day.MessageCount
	}
	assert.EqualValues(t, 4, total)
}

func TestMigrate_UpgradesMobileClientStoreWithoutThreads(t *testing.T) {
	path := createRawStore(t,
		`CREATE TABLE chats (id INTEGER PRIMARY KEY NOT NULL, title TEXT NOT NULL)`,
		mobileClientSchema[1],
		`INSERT INTO chats (title) VALUES ('first')`,
		`INSERT INTO messages (chat_id, content, role) VALUES (1, 'hi', 'user')`,
		`PRAGMA user_version = 1`,
	)

	database, err := New(path)
	require.NoError(t, err)
	defer database.Close()

	chat, err := database.GetChat(1)
	require.NoError(t, err)
	assert.False(t, chat.Bound())
	require.NoError(t, database.BindSession(1, "thread_1"))
}

func TestMigrate_FailsOnUnusableLayout(t *testing.T) {
	path := createRawStore(t,
		`CREATE TABLE chats (id INTEGER PRIMARY KEY NOT NULL, title TEXT NOT NULL, thread_id TEXT)`,
		`CREATE TABLE messages (id INTEGER PRIMARY KEY NOT NULL, chat_id INTEGER NOT NULL, content TEXT NOT NULL)`,
		`PRAGMA user_version = 2`,
	)

	database, err := New(path)
	require.Error(t, err)
	assert.Nil(t, database)
	assert.ErrorContains(t, err, "table messages has no column role")

	// The failed upgrade leaves the store as it was
	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer conn.Close()
	var version int
	require.NoError(t, conn.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, 2, version)
}

func TestGetStats(t *testing.T) {
	database := newTestDB(t)

	chat, err := database.CreateChat("", "thread_1")
	require.NoError(t, err)
	_, err = database.CreateChat("", "")
	require.NoError(t, err)
	_, err = database.AppendMessage(chat.ID, &Message{Role: RoleUser, Content: "q"})
	require.NoError(t, err)
	_, err = database.AppendMessage(chat.ID, &Message{Role: RoleAssistant, Content: "a"})
	require.NoError(t, err)

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, stats.SchemaVersion)
	assert.EqualValues(t, 2, stats.ChatCount)
	assert.EqualValues(t, 1, stats.BoundChatCount)
	assert.EqualValues(t, 1, stats.UserMessages)
	assert.EqualValues(t, 1, stats.AssistantMessages)
	assert.Positive(t, stats.DBSizeBytes)

	activity, err := database.GetDailyActivity(7)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.EqualValues(t, 2, activity[0].MessageCount)

	require.NoError(t, database.Vacuum())
}
