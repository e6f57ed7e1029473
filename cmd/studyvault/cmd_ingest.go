// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/process"
	"storj.io/studyvault/filestore"
	"storj.io/studyvault/header/dicomparse"
	"storj.io/studyvault/ingest"
)

// newIngestCmd creates a new ingest command.
func newIngestCmd(f *Factory) *cobra.Command {
	var ingestCfg Config

	cmd := &cobra.Command{
		Use:   "ingest <dir> [<dir>...]",
		Short: "Copy imaging files into the store and record them in the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdIngest(cmd, &ingestCfg, args)
		},
	}

	process.Bind(cmd, &ingestCfg, f.Defaults, cfgstruct.ConfDir(f.ConfDir))

	return cmd
}

func cmdIngest(cmd *cobra.Command, cfg *Config, roots []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := openCatalog(ctx, log, cfg.Catalog)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	var store *filestore.Dir
	if !cfg.Ingest.InPlace {
		store, err = filestore.NewDir(log.Named("filestore"), cfg.Store)
		if err != nil {
			return err
		}
	}

	service := ingest.NewService(log.Named("ingest"), dicomparse.New(), store, db, cfg.Ingest)

	total := ingest.Summary{}
	for _, root := range roots {
		summary, err := service.IngestTree(ctx, root)
		for outcome, n := range summary {
			total[outcome] += n
		}
		if err != nil {
			return err
		}
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), total.String())
	if err != nil {
		return err
	}
	if failed := total.Failed(); failed > 0 {
		return errs.New("%d files could not be stored or catalogued", failed)
	}
	return nil
}
