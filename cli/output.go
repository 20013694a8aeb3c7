package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/buger/goterm"
	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"askdan/db"
)

var (
	userColor      = color.New(color.FgWhite, color.Bold)
	assistantColor = color.New(color.FgCyan)
	titleColor     = color.New(color.FgMagenta, color.Bold)
	separatorColor = color.New(color.FgHiBlack)
	infoColor      = color.New(color.FgGreen)
	errorColor     = color.New(color.FgRed)
	promptColor    = color.New(color.FgHiBlue)
)

// terminalWidth falls back to 80 columns when stdout is not a terminal
func terminalWidth() int {
	if w := goterm.Width(); w > 0 {
		return w
	}
	return 80
}

func separator(w io.Writer) {
	separatorColor.Fprintln(w, strings.Repeat("-", terminalWidth()))
}

func title(w io.Writer, text string, args ...any) {
	width := terminalWidth()
	t := "   " + fmt.Sprintf(text, args...) + "   "
	left := (width - len(t)) / 2
	if left < 0 {
		left = 0
	}
	right := width - len(t) - left
	if right < 0 {
		right = 0
	}
	titleColor.Fprintln(w, strings.Repeat("-", left)+t+strings.Repeat("-", right))
}

func info(w io.Writer, text string, args ...any) {
	infoColor.Fprintf(w, text+"\n", args...)
}

func printError(w io.Writer, err error) {
	errorColor.Fprintf(w, "error: %v\n", err)
}

// printMessage prints a stored message with its author
func printMessage(w io.Writer, msg *db.Message) {
	if msg.Role == db.RoleAssistant {
		assistantColor.Fprint(w, "Dan: ")
		assistantColor.Fprintln(w, msg.Content)
		return
	}
	userColor.Fprint(w, "> ")
	userColor.Fprintln(w, msg.Content)
	for _, url := range msg.AttachmentURLs {
		infoColor.Fprintf(w, "  [attachment] %s\n", url)
	}
}

// newPrompt creates the line editor used by the chat loop
func newPrompt() (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:            promptColor.Sprint("> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistoryFile:       filepath.Join(historyDir(), "askdan.history"),
		HistorySearchFold: true,
	})
}

// confirm asks a yes/no question on the terminal
func confirm(question string) (bool, error) {
	ok := false
	err := survey.AskOne(&survey.Confirm{Message: question}, &ok)
	return ok, err
}
