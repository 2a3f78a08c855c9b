package cmd

import (
	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string
	app := &app{}

	rootCmd := &cobra.Command{
		Use:           "msd",
		Short:         "Multi-session messaging daemon (msd): pair, supervise and inspect sessions",
		Long:          "msd keeps any number of messaging sessions connected. It hands out pairing codes over HTTP, reconnects dropped sessions, cleans up logged-out ones and answers chat commands.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			wired, err := wireApp(configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			*app = *wired
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $HOME/.msd/config.toml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newPairCmd(app),
		newHealthCmd(app),
		newSessionsCmd(app),
		newTokenCmd(app),
	)

	return rootCmd
}
