// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/process"
	"storj.io/studyvault/catalog"
	"storj.io/studyvault/packager"
)

// newPackageCmd creates a new package command.
func newPackageCmd(f *Factory) *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "package <study-uid>",
		Short: "Build or fetch the package of a study and print its path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdPackage(cmd, &cfg, args[0])
		},
	}

	process.Bind(cmd, &cfg, f.Defaults, cfgstruct.ConfDir(f.ConfDir))

	return cmd
}

func cmdPackage(cmd *cobra.Command, cfg *Config, study string) (err error) {
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

	members, err := studyMembers(ctx, db, study)
	if err != nil {
		return err
	}

	pkg, err := cache.BuildOrFetch(ctx, study, members)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), pkg.Path)
	return err
}

// newVerifyCmd creates a new verify command.
func newVerifyCmd(f *Factory) *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "verify <study-uid>",
		Short: "Check whether the cached package of a study still matches the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdVerify(cmd, &cfg, args[0])
		},
	}

	process.Bind(cmd, &cfg, f.Defaults, cfgstruct.ConfDir(f.ConfDir))

	return cmd
}

func cmdVerify(cmd *cobra.Command, cfg *Config, study string) (err error) {
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

	members, err := studyMembers(ctx, db, study)
	if err != nil {
		return err
	}

	stale, err := cache.Stale(ctx, study, members)
	if err != nil {
		return err
	}

	status := "up to date"
	if stale {
		status = "stale"
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cache.Path(study), status)
	return err
}

func studyMembers(ctx context.Context, db catalog.DB, study string) ([]packager.Member, error) {
	files, err := db.StudyFiles(ctx, study)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, catalog.ErrNotFound.New("study %q", study)
	}

	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}
	return packager.StudyMembers(paths), nil
}
