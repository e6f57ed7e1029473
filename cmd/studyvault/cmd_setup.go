// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"storj.io/common/cfgstruct"
	"storj.io/common/process"
)

// newSetupCmd creates a new setup command.
func newSetupCmd(f *Factory) *cobra.Command {
	var setupCfg Config

	cmd := &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		Annotations: map[string]string{"type": "setup"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdSetup(cmd, f)
		},
	}

	process.Bind(cmd, &setupCfg, f.Defaults, cfgstruct.ConfDir(f.ConfDir), cfgstruct.SetupMode())

	return cmd
}

func cmdSetup(cmd *cobra.Command, f *Factory) (err error) {
	setupDir, err := filepath.Abs(f.ConfDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(setupDir, 0700); err != nil {
		return err
	}

	overrides := map[string]interface{}{
		"log.level": "info",
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"), process.SaveConfigWithOverrides(overrides))
}
