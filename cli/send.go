package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"askdan/chat"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		chatID      int64
		attachments []string
		noReveal    bool
	)

	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send one message and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(opts, func(a *app) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()
				_, err := sendAndShow(ctx, cmd.OutOrStdout(), a.orch, chatID, text, attachments, !noReveal)
				return err
			})
		},
	}

	cmd.Flags().Int64VarP(&chatID, "chat", "c", chat.NewChat, "chat to send to (0 starts a new chat)")
	cmd.Flags().StringArrayVarP(&attachments, "attach", "a", nil, "file to attach, may be repeated")
	cmd.Flags().BoolVar(&noReveal, "no-reveal", false, "print the reply at once")
	return cmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var chatID int64

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat",
		Long: "Interactive chat. Type a message and press enter to send it.\n" +
			"/attach PATH queues an attachment for the next message, /quit leaves.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				return runChat(cmd.Context(), cmd.OutOrStdout(), a, chatID)
			})
		},
	}

	cmd.Flags().Int64VarP(&chatID, "chat", "c", chat.NewChat, "chat to resume (0 starts a new chat)")
	return cmd
}

// sendAndShow sends one message and prints the reply as it is revealed. It
// returns the chat the message went to.
func sendAndShow(ctx context.Context, w io.Writer, orch *chat.Orchestrator, chatID int64, text string, attachments []string, reveal bool) (int64, error) {
	send, err := orch.SendMessage(ctx, chatID, text, attachments)
	if err != nil {
		return chatID, describe(err)
	}
	defer send.Cancel()

	if chatID == chat.NewChat {
		info(w, "Started chat %d", send.ChatID())
	}
	assistantColor.Fprint(w, "Dan: ")

	if !reveal {
		reply, err := send.Wait()
		if err != nil {
			fmt.Fprintln(w)
			return send.ChatID(), describe(err)
		}
		assistantColor.Fprintln(w, reply.Content)
		return send.ChatID(), nil
	}

	printed := 0
	for frame := range send.Frames() {
		if frame.Err != nil {
			fmt.Fprintln(w)
			return send.ChatID(), describe(frame.Err)
		}
		assistantColor.Fprint(w, frame.Text[printed:])
		printed = len(frame.Text)
	}
	fmt.Fprintln(w)

	_, err = send.Wait()
	return send.ChatID(), describe(err)
}

// describe adds what the user can do about a failed send
func describe(err error) error {
	if err == nil {
		return nil
	}
	kind := chat.Classify(err)
	switch kind {
	case chat.FailureConfiguration:
		return errors.Wrap(err, "set OPENAI_API_KEY, OPENAI_ORGANIZATION and OPENAI_ASSISTANT_ID or edit the config file")
	case chat.FailureCancelled:
		return errors.New("cancelled")
	case chat.FailureBusy:
		return errors.Wrap(err, "a reply is still on its way; send again once it is shown")
	case chat.FailureUpload:
		return errors.Wrap(err, "message saved without a reply; check the attachment and send again")
	}
	if kind.Retryable() {
		return errors.Wrap(err, "message saved without a reply; send again to retry")
	}
	return err
}

func runChat(ctx context.Context, w io.Writer, a *app, chatID int64) error {
	if chatID != chat.NewChat {
		c, err := a.store.GetChat(chatID)
		if err != nil {
			return err
		}
		title(w, "%s (#%d)", c.Title, c.ID)
		messages, err := a.orch.LoadHistory(chatID)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			printMessage(w, msg)
		}
	} else {
		title(w, "New chat")
	}

	rl, err := newPrompt()
	if err != nil {
		return errors.Wrap(err, "failed to start prompt")
	}
	defer rl.Close()

	var pending []string
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			pending = append(pending, path)
			info(w, "Attached %s (%d pending)", path, len(pending))
			continue
		case line == "/send":
			// attachments only
			line = ""
		}

		sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		id, err := sendAndShow(sendCtx, w, a.orch, chatID, line, pending, true)
		stop()
		chatID = id
		pending = nil
		if err != nil {
			printError(w, err)
		}
		separator(w)
	}
}
