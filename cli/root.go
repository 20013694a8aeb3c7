package cli

import (
	"github.com/spf13/cobra"

	"askdan/utils"
)

type rootOptions struct {
	configPath string
	logPath    string
	verbose    bool
}

// NewRootCmd builds the askdan command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "askdan",
		Short:         "Chat with an OpenAI assistant from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default is the user config dir)")
	flags.StringVar(&opts.logPath, "log", "", "log file (default is ./logs/askdan-DATE.log)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "echo log lines to stderr")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if opts.configPath != "" {
			return nil
		}
		path, err := utils.EnsureDefaultConfig("")
		if err != nil {
			return err
		}
		opts.configPath = path
		return nil
	}

	cmd.AddCommand(
		newSendCmd(opts),
		newChatCmd(opts),
		newChatsCmd(opts),
		newHistoryCmd(opts),
		newRenameCmd(opts),
		newDeleteCmd(opts),
		newProfilesCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newStatsCmd(opts),
	)
	return cmd
}

// Execute runs the root command, printing any error
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		printError(cmd.ErrOrStderr(), err)
	}
	return err
}

// withApp opens the application for the duration of fn
func withApp(opts *rootOptions, fn func(a *app) error) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
