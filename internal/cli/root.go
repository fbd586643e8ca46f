package cli

import (
	"log/slog"
	"os"

	"github.com/me/agentq/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking AGENTQ_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("AGENTQ_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8090"
}

// NewRootCmd creates the root cobra command for the agentq CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentq",
		Short: "agentq: priority task queue for local model agents",
		Long:  "agentq submits, inspects, and cancels agent tasks on an agentq server and tunes its limits.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			if err := logging.ValidFormat(flagLogFormat); err != nil {
				return err
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "agentq server URL (or AGENTQ_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newSubmitCmd(),
		newGetCmd(),
		newCancelCmd(),
		newPositionCmd(),
		newStatusCmd(),
		newLimitsCmd(),
		newModelsCmd(),
		newWatchCmd(),
		newHistoryCmd(),
	)

	return root
}
