// Package main is the converge CLI: it runs the Slack assistant and its
// operator commands.
//
// Start the assistant:
//
//	converge serve --config converge.yaml
//
// Inspect the tool catalog for a scope set:
//
//	converge tools list --scopes mail.read,memory.read
//
// Approve a user waiting on a pairing code:
//
//	converge pairing approve K7QX2MPA
//
// The configuration path can also be set with CONVERGE_CONFIG.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "converge.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Separate from main for tests.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "converge",
		Short: "Converge - a Slack assistant with mail, calendar, memory and workspace tools",
		Long: `Converge answers Slack mentions and direct messages with a tool-using
language model. It can read and send mail, manage calendar events, remember
facts, schedule reminders, and search the workspace's message history.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
		buildPairingCmd(),
		buildIndexCmd(),
		buildGoogleCmd(),
	)
	return root
}

// configPathFlag registers --config on cmd, defaulting to CONVERGE_CONFIG.
func configPathFlag(cmd *cobra.Command, target *string) {
	def := os.Getenv("CONVERGE_CONFIG")
	if def == "" {
		def = defaultConfigPath
	}
	cmd.Flags().StringVarP(target, "config", "c", def, "Path to the YAML or JSON5 configuration file")
}
