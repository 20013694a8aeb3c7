package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"askdan/utils"
)

func parseChatID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid chat id %q", arg)
	}
	return id, nil
}

func newChatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				chats, err := a.orch.ListChats()
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(chats) == 0 {
					info(w, "No chats yet")
					return nil
				}
				for _, c := range chats {
					thread := "-"
					if c.Bound() {
						thread = c.SessionID
					}
					fmt.Fprintf(w, "%5d  %-40s  %s  %s\n", c.ID, c.Title, c.CreatedAt.Local().Format("2006-01-02 15:04"), thread)
				}
				return nil
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history CHAT_ID",
		Short: "Print the messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				c, err := a.store.GetChat(chatID)
				if err != nil {
					return err
				}
				messages, err := a.orch.LoadHistory(chatID)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				title(w, "%s (#%d)", c.Title, c.ID)
				for _, msg := range messages {
					printMessage(w, msg)
				}
				return nil
			})
		},
	}
}

func newRenameCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename CHAT_ID TITLE",
		Short: "Rename a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			newTitle := strings.Join(args[1:], " ")
			return withApp(opts, func(a *app) error {
				if err := a.orch.RenameChat(chatID, newTitle); err != nil {
					return err
				}
				info(cmd.OutOrStdout(), "Renamed chat %d", chatID)
				return nil
			})
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete CHAT_ID",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				c, err := a.store.GetChat(chatID)
				if err != nil {
					return err
				}
				if !yes {
					ok, err := confirm(fmt.Sprintf("Delete chat %d %q?", c.ID, c.Title))
					if err != nil {
						return err
					}
					if !ok {
						return nil
					}
				}
				if err := a.orch.DeleteChat(chatID); err != nil {
					return err
				}
				info(cmd.OutOrStdout(), "Deleted chat %d", chatID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newProfilesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the assistant profiles of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				profiles, err := a.orch.Profiles(cmd.Context())
				if err != nil {
					return describe(err)
				}
				w := cmd.OutOrStdout()
				for _, p := range profiles {
					marker := " "
					if p.ID == a.config.Assistant.AssistantID {
						marker = "*"
					}
					fmt.Fprintf(w, "%s %-32s  %-24s  %s\n", marker, p.ID, p.Name, p.Model)
				}
				return nil
			})
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		output string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "export [CHAT_ID]",
		Short: "Export a chat, or every chat with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportFormat, err := utils.ParseExportFormat(format)
			if err != nil {
				return err
			}
			if all == (len(args) == 1) {
				return errors.New("give either a chat id or --all")
			}

			return withApp(opts, func(a *app) error {
				w := cmd.OutOrStdout()
				if all {
					path := output
					if path == "" {
						path = utils.GenerateExportFilename("askdan_chats", utils.FormatJSON)
					}
					count, err := utils.ExportAllChats(a.store, path)
					if err != nil {
						return err
					}
					info(w, "Exported %d chats to %s", count, path)
					return nil
				}

				chatID, err := parseChatID(args[0])
				if err != nil {
					return err
				}
				c, err := a.store.GetChat(chatID)
				if err != nil {
					return err
				}
				if output == "-" {
					if exportFormat == utils.FormatMarkdown {
						return utils.WriteChatMarkdown(w, a.store, chatID)
					}
					return utils.WriteChatJSON(w, a.store, chatID)
				}
				path := output
				if path == "" {
					path = utils.GenerateExportFilename(c.Title, exportFormat)
				}
				if err := utils.ExportChat(a.store, chatID, exportFormat, path); err != nil {
					return err
				}
				info(w, "Exported chat %d to %s", chatID, path)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "json or markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout")
	cmd.Flags().BoolVar(&all, "all", false, "export every chat as JSON")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import a chat from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				c, err := utils.ImportChat(a.store, args[0])
				if err != nil {
					return err
				}
				info(cmd.OutOrStdout(), "Imported %s as chat %d", filepath.Base(args[0]), c.ID)
				return nil
			})
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var (
		days   int
		vacuum bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if vacuum {
					if err := a.store.Vacuum(); err != nil {
						return err
					}
				}
				stats, err := a.store.GetStats()
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "schema version:     %d\n", stats.SchemaVersion)
				fmt.Fprintf(w, "chats:              %d (%d bound)\n", stats.ChatCount, stats.BoundChatCount)
				fmt.Fprintf(w, "user messages:      %d\n", stats.UserMessages)
				fmt.Fprintf(w, "assistant messages: %d\n", stats.AssistantMessages)
				fmt.Fprintf(w, "store size:         %s\n", utils.FormatFileSize(stats.DBSizeBytes))

				if days > 0 {
					activity, err := a.store.GetDailyActivity(days)
					if err != nil {
						return err
					}
					for _, day := range activity {
						fmt.Fprintf(w, "%s  %d\n", day.Date.Format("2006-01-02"), day.MessageCount)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "also show messages per day for the last N days")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "compact the store first")
	return cmd
}
