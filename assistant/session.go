package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"askdan/utils"
)

// ErrSessionBusy is returned when a chat already has an exchange in flight
var ErrSessionBusy = errors.New("session busy")

// Session is the in-memory state of one chat's remote session. Only the
// thread id outlives the process, through the chat's stored binding.
type Session struct {
	ChatID   int64
	ThreadID string
	RunID    string
	State    State
	Polls    int
	busy     bool
}

// Client drives remote sessions, one per chat
type Client struct {
	transport Transport
	binder    Binder
	config    Config
	logger    *utils.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewClient creates a new session client
func NewClient(transport Transport, binder Binder, config Config, logger *utils.Logger) *Client {
	return &Client{
		transport: transport,
		binder:    binder,
		config:    config.withDefaults(),
		logger:    logger,
		sessions:  make(map[int64]*Session),
	}
}

// Config returns the effective configuration
func (c *Client) Config() Config {
	return c.config
}

// ValidateConfig validates the configuration
func (c *Client) ValidateConfig() error {
	return c.config.Validate()
}

// Session returns a copy of the chat's in-memory session, if any
func (c *Client) Session(chatID int64) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Forget discards the chat's in-memory session
func (c *Client) Forget(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, chatID)
}

// acquire returns the chat's session, rebuilt from the stored binding when
// needed, and marks it busy
func (c *Client) acquire(chatID int64, boundSessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[chatID]
	if ok && s.busy {
		return nil, fmt.Errorf("chat %d: %w", chatID, ErrSessionBusy)
	}
	if !ok || (boundSessionID != "" && s.ThreadID != boundSessionID) {
		s = &Session{ChatID: chatID, ThreadID: boundSessionID, State: StateUnbound}
		if boundSessionID != "" {
			s.State = StateSessionCreated
		}
		c.sessions[chatID] = s
	}
	s.busy = true
	return s, nil
}

// advance moves s to the next state if the transition table allows it
func (c *Client) advance(s *Session, to State, update func(s *Session)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !CanTransition(s.State, to) {
		return fmt.Errorf("chat %d: invalid session transition %s -> %s", s.ChatID, s.State, to)
	}
	s.State = to
	if update != nil {
		update(s)
	}
	return nil
}

func (c *Client) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.busy = false
}

// call runs one transport operation under its own timeout
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if err := fn(callCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

// Exchange submits in to the chat's session, runs the assistant and returns
// its reply. An unbound chat gets a new session, which is persisted through
// the Binder before anything is submitted.
func (c *Client) Exchange(ctx context.Context, chatID int64, boundSessionID string, in Input) (*Reply, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	s, err := c.acquire(chatID, boundSessionID)
	if err != nil {
		return nil, err
	}
	defer c.release(s)

	reply, err := c.exchange(ctx, s, in)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Info("Exchange for chat %d cancelled in state %s", chatID, s.State)
			c.Forget(chatID)
			return nil, err
		}
		if advanceErr := c.advance(s, StateFailed, nil); advanceErr != nil {
			c.logger.Error("Chat %d session left in state %s: %v", chatID, s.State, advanceErr)
		}
		c.logger.Error("Exchange for chat %d failed: %v", chatID, err)
		return nil, err
	}

	return reply, nil
}

func (c *Client) exchange(ctx context.Context, s *Session, in Input) (*Reply, error) {
	if s.ThreadID == "" {
		var threadID string
		err := c.call(ctx, "create thread", func(ctx context.Context) error {
			var err error
			threadID, err = c.transport.CreateThread(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := c.binder.BindSession(s.ChatID, threadID); err != nil {
			return nil, fmt.Errorf("failed to bind session: %w", err)
		}
		err = c.advance(s, StateSessionCreated, func(s *Session) { s.ThreadID = threadID })
		if err != nil {
			return nil, err
		}
		c.logger.Info("Created thread %s for chat %d", threadID, s.ChatID)
	}

	if in.Empty() {
		return &Reply{SessionID: s.ThreadID}, nil
	}

	err := c.call(ctx, "add message", func(ctx context.Context) error {
		return c.transport.AddMessage(ctx, s.ThreadID, in)
	})
	if err != nil {
		return nil, err
	}
	if err := c.advance(s, StateMessageSubmitted, nil); err != nil {
		return nil, err
	}

	var run *Run
	err = c.call(ctx, "create run", func(ctx context.Context) error {
		var err error
		run, err = c.transport.CreateRun(ctx, s.ThreadID, c.config.AssistantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = c.advance(s, StateRunStarted, func(s *Session) {
		s.RunID = run.ID
		s.Polls = 0
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Started run %s on thread %s", run.ID, s.ThreadID)

	if err := c.poll(ctx, s); err != nil {
		return nil, err
	}

	var messages []RemoteMessage
	err = c.call(ctx, "list messages", func(ctx context.Context) error {
		var err error
		messages, err = c.transport.ListMessages(ctx, s.ThreadID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := c.advance(s, StateCompleted, nil); err != nil {
		return nil, err
	}

	return &Reply{
		SessionID: s.ThreadID,
		RunID:     s.RunID,
		Text:      latestAssistantText(messages, s.RunID),
	}, nil
}

// poll waits for the run to reach a terminal status, at most MaxPolls checks
func (c *Client) poll(ctx context.Context, s *Session) error {
	if err := c.advance(s, StatePolling, nil); err != nil {
		return err
	}

	for polls := 1; ; polls++ {
		var run *Run
		err := c.call(ctx, "get run", func(ctx context.Context) error {
			var err error
			run, err = c.transport.GetRun(ctx, s.ThreadID, s.RunID)
			return err
		})
		if err != nil {
			return err
		}
		if err := c.advance(s, StatePolling, func(s *Session) { s.Polls = polls }); err != nil {
			return err
		}

		switch run.Status.Outcome() {
		case OutcomeSucceeded:
			return nil
		case OutcomeFailed:
			return &RunError{RunID: run.ID, Status: run.Status, Polls: polls, Reason: run.LastError}
		}

		if polls >= c.config.MaxPolls {
			return &RunError{RunID: run.ID, Status: run.Status, Polls: polls}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.PollInterval):
		}
	}
}

// Profiles lists the assistant profiles available to the account
func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	if c.config.APIKey == "" {
		return nil, &ConfigError{Missing: []string{"api_key"}}
	}

	var profiles []Profile
	err := c.call(ctx, "list assistants", func(ctx context.Context) error {
		var err error
		profiles, err = c.transport.ListAssistants(ctx)
		return err
	})
	return profiles, err
}

// latestAssistantText picks the newest assistant-authored message, preferring
// those produced by runID. No assistant message yields an empty reply.
func latestAssistantText(messages []RemoteMessage, runID string) string {
	var latest *RemoteMessage
	fromRun := false
	for i := range messages {
		m := &messages[i]
		if m.Role != RoleAssistant {
			continue
		}
		mine := runID != "" && m.RunID == runID
		switch {
		case latest == nil,
			mine && !fromRun,
			mine == fromRun && m.CreatedAt > latest.CreatedAt:
			latest, fromRun = m, mine
		}
	}
	if latest == nil {
		return ""
	}
	return strings.TrimSpace(latest.Text)
}
