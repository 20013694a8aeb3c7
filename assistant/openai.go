package assistant

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// attachmentTool is the tool remote files are attached for. It accepts any
// file type, images included.
const attachmentTool = "code_interpreter"

// messagePageSize bounds how many messages are fetched to find the reply
const messagePageSize = 20

// OpenAITransport implements Transport over the OpenAI Assistants API
type OpenAITransport struct {
	client *openai.Client
	config Config
}

// NewOpenAITransport creates a new OpenAI transport
func NewOpenAITransport(config Config) (*OpenAITransport, error) {
	// Allow empty credentials - validation happens per exchange
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.OrgID = config.Organization

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	// Per-call deadlines come from the context, not from the client
	clientConfig.HTTPClient = &http.Client{Transport: transport}

	return &OpenAITransport{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// CreateThread creates an empty thread
func (t *OpenAITransport) CreateThread(ctx context.Context) (string, error) {
	thread, err := t.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	return thread.ID, nil
}

// AddMessage appends the user's input to the thread
func (t *OpenAITransport) AddMessage(ctx context.Context, threadID string, in Input) error {
	req := openai.MessageRequest{
		Role:    RoleUser,
		Content: in.Text,
	}
	for _, fileID := range in.Files {
		req.Attachments = append(req.Attachments, openai.ThreadAttachment{
			FileID: fileID,
			Tools:  []openai.ThreadAttachmentTool{{Type: attachmentTool}},
		})
	}

	if _, err := t.client.CreateMessage(ctx, threadID, req); err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

// CreateRun starts the assistant over the thread
func (t *OpenAITransport) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	run, err := t.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return convertRun(run), nil
}

// GetRun fetches the run's current status
func (t *OpenAITransport) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	run, err := t.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve run: %w", err)
	}
	return convertRun(run), nil
}

func convertRun(run openai.Run) *Run {
	r := &Run{ID: run.ID, Status: Status(run.Status)}
	if run.LastError != nil {
		r.LastError = run.LastError.Message
	}
	return r
}

// ListMessages fetches the most recent messages of the thread
func (t *OpenAITransport) ListMessages(ctx context.Context, threadID string) ([]RemoteMessage, error) {
	limit := messagePageSize
	order := "desc"
	list, err := t.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]RemoteMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		msg := RemoteMessage{
			ID:        m.ID,
			Role:      m.Role,
			CreatedAt: int64(m.CreatedAt),
			Text:      messageText(m.Content),
		}
		if m.RunID != nil {
			msg.RunID = *m.RunID
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// messageText joins the text parts of a message, skipping images
func messageText(content []openai.MessageContent) string {
	var parts []string
	for _, c := range content {
		if c.Text != nil && c.Text.Value != "" {
			parts = append(parts, c.Text.Value)
		}
	}
	return strings.Join(parts, "\n")
}

// UploadFile uploads a prepared attachment
func (t *OpenAITransport) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	file, err := t.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return file.ID, nil
}

// ListAssistants lists the assistant profiles of the organization
func (t *OpenAITransport) ListAssistants(ctx context.Context) ([]Profile, error) {
	limit := 100
	order := "desc"
	list, err := t.client.ListAssistants(ctx, &limit, &order, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list assistants: %w", err)
	}

	profiles := make([]Profile, 0, len(list.Assistants))
	for _, a := range list.Assistants {
		profile := Profile{ID: a.ID, Model: a.Model}
		if a.Name != nil {
			profile.Name = *a.Name
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

var _ Transport = (*OpenAITransport)(nil)
