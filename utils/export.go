package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"askdan/db"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
)

// ParseExportFormat accepts "json", "markdown" or "md"
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(s) {
	case "json", "":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ChatSource is the read side of the store used by exports
type ChatSource interface {
	GetChat(id int64) (*db.Chat, error)
	ListChats() ([]*db.Chat, error)
	ListMessages(chatID int64) ([]*db.Message, error)
}

// ChatSink is the write side of the store used by imports
type ChatSink interface {
	CreateChat(title, sessionID string) (*db.Chat, error)
	AppendMessage(chatID int64, msg *db.Message) (*db.Message, error)
	DeleteChat(id int64) error
}

// ChatExport represents a chat export structure
type ChatExport struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	SessionID string            `json:"session_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Messages  []MessageExport   `json:"messages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MessageExport represents a message export structure
type MessageExport struct {
	ID             int64     `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	AttachmentURLs []string  `json:"attachment_urls,omitempty"`
	Prompt         string    `json:"prompt,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func exportMetadata() map[string]string {
	return map[string]string{
		"export_version": "1.0",
		"export_date":    time.Now().Format(time.RFC3339),
		"app_name":       "askdan",
	}
}

func buildChatExport(source ChatSource, chat *db.Chat) (*ChatExport, error) {
	messages, err := source.ListMessages(chat.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	export := &ChatExport{
		ID:        chat.ID,
		Title:     chat.Title,
		SessionID: chat.SessionID,
		CreatedAt: chat.CreatedAt,
		Messages:  make([]MessageExport, 0, len(messages)),
	}
	for _, msg := range messages {
		export.Messages = append(export.Messages, MessageExport{
			ID:             msg.ID,
			Role:           string(msg.Role),
			Content:        msg.Content,
			AttachmentURLs: msg.AttachmentURLs,
			Prompt:         msg.Prompt,
			CreatedAt:      msg.CreatedAt,
		})
	}
	return export, nil
}

// WriteChatJSON writes a single chat as indented JSON
func WriteChatJSON(w io.Writer, source ChatSource, chatID int64) error {
	chat, err := source.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("failed to get chat: %w", err)
	}

	export, err := buildChatExport(source, chat)
	if err != nil {
		return err
	}
	export.Metadata = exportMetadata()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}

// WriteChatMarkdown writes a single chat as Markdown
func WriteChatMarkdown(w io.Writer, source ChatSource, chatID int64) error {
	chat, err := source.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("failed to get chat: %w", err)
	}

	messages, err := source.ListMessages(chatID)
	if err != nil {
		return fmt.Errorf("failed to get messages: %w", err)
	}

	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# %s\n\n", chat.Title))
	sb.WriteString(fmt.Sprintf("**Created**: %s\n", chat.CreatedAt.Format("2006-01-02 15:04:05")))
	if chat.SessionID != "" {
		sb.WriteString(fmt.Sprintf("**Thread**: `%s`\n", chat.SessionID))
	}
	sb.WriteString("\n---\n\n")

	for i, msg := range messages {
		roleName := "You"
		if msg.Role == db.RoleAssistant {
			roleName = "Dan"
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", roleName))

		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")

		for _, url := range msg.AttachmentURLs {
			sb.WriteString(fmt.Sprintf("- attachment: %s\n", url))
		}
		if len(msg.AttachmentURLs) > 0 {
			sb.WriteString("\n")
		}

		// Separator (except for last message)
		if i < len(messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	// Footer
	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported %s by askdan*\n", time.Now().Format("2006-01-02 15:04:05")))

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}
	return nil
}

// ExportChat exports a single chat to path in the given format
func ExportChat(source ChatSource, chatID int64, format ExportFormat, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch format {
	case FormatMarkdown:
		err = WriteChatMarkdown(file, source, chatID)
	default:
		err = WriteChatJSON(file, source, chatID)
	}
	if err != nil {
		return err
	}
	return file.Close()
}

// ExportAllChats exports all chats to a single JSON file
func ExportAllChats(source ChatSource, path string) (int, error) {
	chats, err := source.ListChats()
	if err != nil {
		return 0, fmt.Errorf("failed to list chats: %w", err)
	}

	exports := make([]*ChatExport, 0, len(chats))
	for _, chat := range chats {
		export, err := buildChatExport(source, chat)
		if err != nil {
			return 0, fmt.Errorf("chat %d: %w", chat.ID, err)
		}
		exports = append(exports, export)
	}

	metadata := exportMetadata()
	metadata["total_count"] = fmt.Sprintf("%d", len(exports))
	wrapper := map[string]interface{}{
		"metadata": metadata,
		"chats":    exports,
	}

	data, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return len(exports), nil
}

// ImportChat imports a chat from a JSON export. The chat gets a new id and
// is left unbound, so the next message starts a fresh remote thread.
func ImportChat(sink ChatSink, path string) (*db.Chat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var export ChatExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	if len(export.Messages) == 0 {
		return nil, fmt.Errorf("invalid export: no messages")
	}

	chat, err := sink.CreateChat(export.Title, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	for _, m := range export.Messages {
		role := db.RoleUser
		if m.Role == string(db.RoleAssistant) || m.Role == "bot" {
			role = db.RoleAssistant
		}
		_, err := sink.AppendMessage(chat.ID, &db.Message{
			Role:           role,
			Content:        m.Content,
			AttachmentURLs: m.AttachmentURLs,
			Prompt:         m.Prompt,
		})
		if err != nil {
			// drop the partial chat
			if delErr := sink.DeleteChat(chat.ID); delErr != nil {
				return nil, fmt.Errorf("failed to create message: %w (removing chat %d: %v)", err, chat.ID, delErr)
			}
			return nil, fmt.Errorf("failed to create message: %w", err)
		}
	}

	return chat, nil
}

// GenerateExportFilename generates a filename for export
func GenerateExportFilename(title string, format ExportFormat) string {
	// Sanitize title for filename
	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			return '_'
		}
		return r
	}, title)

	// Truncate if too long
	if runes := []rune(sanitized); len(runes) > 50 {
		sanitized = string(runes[:50])
	}

	// Add timestamp and extension
	timestamp := time.Now().Format("20060102_150405")
	ext := string(format)
	if format == FormatMarkdown {
		ext = "md"
	}

	return fmt.Sprintf("%s_%s.%s", sanitized, timestamp, ext)
}

// GetDefaultExportPath returns the default export directory
func GetDefaultExportPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	exportDir := filepath.Join(homeDir, "Documents", "askdan")

	// Create directory if it doesn't exist
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", err
	}

	return exportDir, nil
}
