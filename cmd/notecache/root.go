package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandwichfarm/notecache/internal/config"
)

const appName = "notecache"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "notecache - a caching Nostr client core",
		Long:          "notecache keeps a live, bounded cache of one account's Nostr world and the relay subscriptions that feed it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(appName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().StringP("config", "c", "", "path to configuration file")

	cmd.AddCommand(
		newInitCmd(),
		newVersionCmd(),
		newRunCmd(),
		newThreadCmd(),
	)
	return cmd
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Print an example configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exampleConfig, err := config.GetExampleConfig()
			if err != nil {
				return fmt.Errorf("read example config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(exampleConfig)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", appName, version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
			fmt.Fprintf(out, "  by:     %s\n", builtBy)
		},
	}
}

func configPath(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("no configuration file specified, use --config <path> or run '%s init' for an example", appName)
	}
	return path, nil
}
