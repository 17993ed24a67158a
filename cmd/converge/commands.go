package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Slack and answer messages",
		Long: `Connect to Slack over Socket Mode and answer mentions and direct messages.

The server loads the configuration, opens the configured stores, registers
the tools the configuration and granted Google scopes allow, and runs until
SIGINT or SIGTERM. Changes to the access section are applied without a restart.`,
		Example: `  converge serve
  converge serve --config /etc/converge/converge.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	configPathFlag(cmd, &configPath)
	return cmd
}

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	var (
		configPath string
		scopes     []string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered tools and the scopes they require",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, configPath, scopes)
		},
	}
	configPathFlag(list, &configPath)
	list.Flags().StringSliceVar(&scopes, "scopes", nil, "Only show tools callable with these scopes")
	cmd.AddCommand(list)
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate the configuration or print its schema",
	}
	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	configPathFlag(validate, &configPath)

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
	cmd.AddCommand(validate, schema)
	return cmd
}

func buildPairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage users waiting for direct message access",
	}
	var configPath string
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (default $CONVERGE_CONFIG or converge.yaml)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending pairing codes and approved users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairingList(cmd, configPath)
		},
	}
	approve := &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairingApprove(cmd, configPath, args[0])
		},
	}
	deny := &cobra.Command{
		Use:   "deny <code>",
		Short: "Deny a pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairingDeny(cmd, configPath, args[0])
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Remove an approved user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairingRevoke(cmd, configPath, args[0])
		},
	}
	cmd.AddCommand(list, approve, deny, revoke)
	return cmd
}

func buildIndexCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run one pass of the workspace history indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, configPath)
		},
	}
	configPathFlag(cmd, &configPath)
	return cmd
}

func buildGoogleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "google",
		Short: "Manage the Google account connection",
	}
	var configPath string
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Gmail and Calendar access and store the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoogleAuth(cmd, configPath)
		},
	}
	configPathFlag(auth, &configPath)
	cmd.AddCommand(auth)
	return cmd
}
