// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/wsrelay/wsrelay/internal/config"
)

// NewRootCmd creates the root command for the wsrelay CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wsrelay",
		Short: "wsrelay - a multi-tenant Pusher-compatible websocket relay",
		Long: `wsrelay accepts Pusher protocol websocket connections for many apps,
fans channel events out to subscribers and accepts server-side events over
an HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/wsrelay/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewAppsCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// newLoader builds a config loader from the command's flags.
func newLoader(cmd *cobra.Command) *config.Loader {
	path, _ := cmd.Flags().GetString("config") //nolint:errcheck // flag is always registered
	return config.NewLoader(path, cmd.Flags())
}
