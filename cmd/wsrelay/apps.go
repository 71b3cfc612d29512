// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wsrelay/wsrelay/internal/config"
	"github.com/wsrelay/wsrelay/internal/tenant"
)

// NewAppsCmd creates the apps command group.
func NewAppsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Inspect configured apps",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List apps as YAML, without secrets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAppsList(cmd.Context(), newLoader(cmd), cmd, openDirectory)
		},
	})
	return cmd
}

func runAppsList(
	ctx context.Context,
	loader *config.Loader,
	cmd *cobra.Command,
	open func(context.Context, *config.Config) (tenant.Directory, func(), error),
) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loader.Load()
	if err != nil {
		return oops.With("operation", "load config").Wrap(err)
	}

	dir, closeDir, err := open(ctx, cfg)
	if err != nil {
		return oops.With("operation", "open app directory").Wrap(err)
	}
	defer closeDir()

	apps, err := dir.All(ctx)
	if err != nil {
		return oops.With("operation", "list apps").Wrap(err)
	}
	if apps == nil {
		apps = []tenant.App{}
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(apps); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return oops.Code("OUTPUT_FAILED").Wrap(enc.Close())
}
