package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"askdan/assistant"
	"askdan/db"
	"askdan/utils"
)

// NewChat asks SendMessage to create a chat before sending
const NewChat int64 = 0

// Store is the persistence the orchestrator needs
type Store interface {
	CreateChat(title, sessionID string) (*db.Chat, error)
	GetChat(id int64) (*db.Chat, error)
	ListChats() ([]*db.Chat, error)
	ListMessages(chatID int64) ([]*db.Message, error)
	AppendMessage(chatID int64, msg *db.Message) (*db.Message, error)
	RenameChat(id int64, title string) error
	DeleteChat(id int64) error
}

// Assistant drives the remote session of a chat
type Assistant interface {
	ValidateConfig() error
	Exchange(ctx context.Context, chatID int64, boundSessionID string, in assistant.Input) (*assistant.Reply, error)
	Forget(chatID int64)
	Profiles(ctx context.Context) ([]assistant.Profile, error)
}

// Uploader turns local attachments into remote file handles
type Uploader interface {
	UploadAll(ctx context.Context, resources []string) ([]string, error)
}

// Orchestrator turns user input into a persisted conversation with the
// remote assistant
type Orchestrator struct {
	store     Store
	assistant Assistant
	uploader  Uploader
	logger    *utils.Logger
	reveal    RevealOptions

	mu       sync.Mutex
	inflight map[int64]bool
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(store Store, assistant Assistant, uploader Uploader, logger *utils.Logger, reveal RevealOptions) *Orchestrator {
	return &Orchestrator{
		store:     store,
		assistant: assistant,
		uploader:  uploader,
		logger:    logger,
		reveal:    reveal.withDefaults(),
		inflight:  make(map[int64]bool),
	}
}

// Send is one outgoing message in flight
type Send struct {
	chatID      int64
	userMessage *db.Message
	frames      chan Frame
	cancel      context.CancelFunc

	done  chan struct{}
	reply *db.Message
	err   error
}

// ChatID returns the chat the message was sent to
func (s *Send) ChatID() int64 { return s.chatID }

// UserMessage returns the persisted user message
func (s *Send) UserMessage() *db.Message { return s.userMessage }

// Frames returns the reveal stream. It is closed after the last frame, or
// early when the send is cancelled. Callers that do not read it must Cancel
// once Wait returns so the chat is released.
func (s *Send) Frames() <-chan Frame { return s.frames }

// Wait blocks until the reply is persisted or the send failed
func (s *Send) Wait() (*db.Message, error) {
	<-s.done
	return s.reply, s.err
}

// Cancel stops the send. Before the reply is persisted this abandons the
// remote run; afterwards it only stops the reveal.
func (s *Send) Cancel() { s.cancel() }

func (s *Send) finish(reply *db.Message, err error) {
	s.reply, s.err = reply, err
	close(s.done)
}

func (o *Orchestrator) claim(chatID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[chatID] {
		return false
	}
	o.inflight[chatID] = true
	return true
}

func (o *Orchestrator) release(chatID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, chatID)
}

// Busy reports whether the chat has a send in flight
func (o *Orchestrator) Busy(chatID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[chatID]
}

// SendMessage persists the user's message and starts the remote exchange in
// the background. The returned Send reports the outcome; the user message is
// kept whatever happens afterwards.
func (o *Orchestrator) SendMessage(ctx context.Context, chatID int64, text string, attachments []string) (*Send, error) {
	if err := o.assistant.ValidateConfig(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	var chat *db.Chat
	if chatID == NewChat {
		created, err := o.store.CreateChat(db.DefaultChatTitle, "")
		if err != nil {
			return nil, errors.Wrap(err, "failed to create chat")
		}
		chat = created
		o.claim(chat.ID)
		o.logger.Info("Created chat %d", chat.ID)
	} else {
		if !o.claim(chatID) {
			return nil, errors.Wrapf(ErrBusy, "chat %d", chatID)
		}
		existing, err := o.store.GetChat(chatID)
		if err != nil {
			o.release(chatID)
			return nil, errors.Wrapf(err, "failed to load chat %d", chatID)
		}
		chat = existing
	}

	userMessage, err := o.store.AppendMessage(chat.ID, &db.Message{
		Role:           db.RoleUser,
		Content:        text,
		AttachmentURLs: attachments,
	})
	if err != nil {
		o.release(chat.ID)
		return nil, errors.Wrap(err, "failed to save message")
	}

	sendCtx, cancel := context.WithCancel(ctx)
	send := &Send{
		chatID:      chat.ID,
		userMessage: userMessage,
		frames:      make(chan Frame),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	utils.SafeGo(o.logger, "send message", func() {
		o.run(sendCtx, send, chat, text, attachments)
	})

	return send, nil
}

func (o *Orchestrator) run(ctx context.Context, send *Send, chat *db.Chat, text string, attachments []string) {
	defer close(send.frames)
	defer o.release(chat.ID)
	defer send.cancel()

	finished := false
	defer func() {
		// a panic below must still unblock Wait
		if !finished {
			send.finish(nil, errors.Errorf("send to chat %d aborted", chat.ID))
		}
	}()

	reply, err := o.complete(ctx, chat, text, attachments)
	send.finish(reply, err)
	finished = true

	if err != nil {
		o.logger.Error("Send to chat %d failed (%s): %v", chat.ID, Classify(err), err)
		select {
		case send.frames <- Frame{Done: true, Err: err}:
		case <-ctx.Done():
		}
		return
	}

	if !reveal(ctx, reply.Content, o.reveal, send.frames) {
		o.logger.Debug("Reveal for chat %d cancelled", chat.ID)
	}
}

// complete uploads the attachments, runs the exchange and persists the reply
func (o *Orchestrator) complete(ctx context.Context, chat *db.Chat, text string, attachments []string) (*db.Message, error) {
	var handles []string
	if len(attachments) > 0 {
		if o.uploader == nil {
			return nil, errors.New("attachments are not supported")
		}
		var err error
		handles, err = o.uploader.UploadAll(ctx, attachments)
		if err != nil {
			return nil, errors.Wrap(err, "failed to upload attachments")
		}
	}

	reply, err := o.assistant.Exchange(ctx, chat.ID, chat.SessionID, assistant.Input{Text: text, Files: handles})
	if err != nil {
		return nil, errors.Wrap(err, "assistant exchange failed")
	}

	msg, err := o.store.AppendMessage(chat.ID, &db.Message{
		Role:    db.RoleAssistant,
		Content: reply.Text,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to save reply")
	}
	o.logger.Info("Saved reply %d for chat %d (run %s)", msg.ID, chat.ID, reply.RunID)
	return msg, nil
}

// LoadHistory returns the chat's messages in the order they were written
func (o *Orchestrator) LoadHistory(chatID int64) ([]*db.Message, error) {
	messages, err := o.store.ListMessages(chatID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load history of chat %d", chatID)
	}
	return messages, nil
}

// ListChats returns all chats, most recent first
func (o *Orchestrator) ListChats() ([]*db.Chat, error) {
	chats, err := o.store.ListChats()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chats")
	}
	return chats, nil
}

// RenameChat changes a chat's title
func (o *Orchestrator) RenameChat(chatID int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = db.DefaultChatTitle
	}
	return errors.Wrapf(o.store.RenameChat(chatID, title), "failed to rename chat %d", chatID)
}

// DeleteChat deletes a chat with its messages. A chat with a send in flight
// cannot be deleted.
func (o *Orchestrator) DeleteChat(chatID int64) error {
	if !o.claim(chatID) {
		return errors.Wrapf(ErrBusy, "chat %d", chatID)
	}
	defer o.release(chatID)

	if err := o.store.DeleteChat(chatID); err != nil {
		return errors.Wrapf(err, "failed to delete chat %d", chatID)
	}
	o.assistant.Forget(chatID)
	o.logger.Info("Deleted chat %d", chatID)
	return nil
}

// Profiles lists the assistant profiles available to the account
func (o *Orchestrator) Profiles(ctx context.Context) ([]assistant.Profile, error) {
	profiles, err := o.assistant.Profiles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list profiles")
	}
	return profiles, nil
}
