package assistant

import (
	"context"
	"time"
)

// Remote roles as reported by the session API
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Config represents remote session configuration
type Config struct {
	APIKey         string
	Organization   string
	AssistantID    string
	BaseURL        string
	ProxyURL       string
	RequestTimeout time.Duration // applies to each transport call separately
	PollInterval   time.Duration
	MaxPolls       int
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 60
	}
	return c
}

// Validate reports the credentials that are missing
func (c Config) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.Organization == "" {
		missing = append(missing, "organization")
	}
	if c.AssistantID == "" {
		missing = append(missing, "assistant_id")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// Input is what one exchange submits to the session
type Input struct {
	Text  string
	Files []string // remote file handles, in attachment order
}

// Empty reports whether there is nothing to submit
func (in Input) Empty() bool {
	return in.Text == "" && len(in.Files) == 0
}

// Reply is the outcome of a completed exchange
type Reply struct {
	SessionID string
	RunID     string
	Text      string
}

// RemoteMessage is one entry of a session's message list
type RemoteMessage struct {
	ID        string
	Role      string
	RunID     string
	CreatedAt int64
	Text      string
}

// Run is a snapshot of a run
type Run struct {
	ID        string
	Status    Status
	LastError string
}

// Profile is an assistant profile available to the account
type Profile struct {
	ID    string
	Name  string
	Model string
}

// Transport is the remote conversational-session API
type Transport interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID string, in Input) error
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	// ListMessages returns the thread's messages; order is not guaranteed
	ListMessages(ctx context.Context, threadID string) ([]RemoteMessage, error)
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	ListAssistants(ctx context.Context) ([]Profile, error)
}

// Binder persists the session a chat is bound to
type Binder interface {
	BindSession(chatID int64, sessionID string) error
}
