package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "grouplog",
		Short:         "Keep bounded, transcript-ready logs of OneBot group chats",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file path (JSON or YAML).")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newTranscriptCmd(opts))
	cmd.AddCommand(newResetCmd(opts))

	return cmd
}
