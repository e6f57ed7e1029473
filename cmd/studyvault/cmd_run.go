// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"net"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/process"
	"storj.io/studyvault/packager"
	"storj.io/studyvault/web"
)

// newRunCmd creates a new run command.
func newRunCmd(f *Factory) *cobra.Command {
	var runCfg Config

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve search and study packages over http",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdRun(cmd, &runCfg)
		},
	}

	process.Bind(cmd, &runCfg, f.Defaults, cfgstruct.ConfDir(f.ConfDir))

	return cmd
}

func cmdRun(cmd *cobra.Command, cfg *Config) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := openCatalog(ctx, log, cfg.Catalog)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	cache, err := packager.NewCache(log.Named("packager"), cfg.Packages)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cache.Close()) }()

	listener, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return errs.New("Error creating listener: %+v", err)
	}

	server := web.NewServer(log.Named("web"), listener, db, cache, cfg.Server)
	return server.Run(ctx)
}
