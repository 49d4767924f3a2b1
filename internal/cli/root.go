// Package cli provides the viewbot command-line interface.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// ErrDeliveryFailed is returned by run when some items failed. main maps it
// to exit code 2.
var ErrDeliveryFailed = errors.New("delivery had failures")

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "viewbot",
		Short: "Deliver database views to chat as interactive messages",
		Long: `viewbot runs configured views against a row source and posts the
results to Slack or Telegram, one message per row or as a digest.
Buttons on those messages are answered from the metadata the message carries.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./viewbot.yaml", "path to config (yaml or json)")

	root.AddCommand(
		newRunCommand(opts),
		newServeCommand(opts),
		newHistoryCommand(opts),
		newValidateCommand(opts),
	)
	return root
}
