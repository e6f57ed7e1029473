// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/studyvault/catalog/catalogdb"
	"storj.io/studyvault/filestore"
	"storj.io/studyvault/ingest"
	"storj.io/studyvault/packager"
	"storj.io/studyvault/web"
)

// Config contains the configuration of every component.
type Config struct {
	Catalog  catalogdb.Config
	Store    filestore.Config
	Ingest   ingest.Config
	Packages packager.Config
	Server   web.Config
}

// Factory contains default values for configuration flags.
type Factory struct {
	Defaults cfgstruct.BindOpt
	ConfDir  string
}

// newRootCmd creates a new root command.
func newRootCmd(setDefaults bool) (*cobra.Command, *Factory) {
	cmd := &cobra.Command{
		Use:   "studyvault",
		Short: "Imaging study ingestion, search and packaging",
	}

	factory := &Factory{}

	if setDefaults {
		defaultConfDir := fpath.ApplicationDir("storj", "studyvault")
		cfgstruct.SetupFlag(zap.L(), cmd, &factory.ConfDir, "config-dir", defaultConfDir, "main directory for studyvault configuration")
		factory.Defaults = cfgstruct.DefaultsFlag(cmd)
	}

	cmd.AddCommand(
		newSetupCmd(factory),
		newRunCmd(factory),
		newIngestCmd(factory),
		newSearchCmd(factory),
		newPackageCmd(factory),
		newVerifyCmd(factory),
	)

	return cmd, factory
}

// openCatalog opens the catalog and brings its schema up to date.
func openCatalog(ctx context.Context, log *zap.Logger, config catalogdb.Config) (*catalogdb.DB, error) {
	db, err := catalogdb.Open(ctx, log.Named("catalog"), config)
	if err != nil {
		return nil, errs.New("Error opening catalog: %+v", err)
	}
	if err := db.MigrateToLatest(ctx); err != nil {
		return nil, errs.Combine(errs.New("Error migrating catalog: %+v", err), db.Close())
	}
	return db, nil
}
