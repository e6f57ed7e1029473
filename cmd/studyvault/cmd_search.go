// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/memory"
	"storj.io/common/process"
	"storj.io/studyvault/catalog"
)

type searchCfg struct {
	Config

	Name      string `help:"patient name, compared after normalization" default:""`
	BirthDate string `help:"patient birth date, as recorded (YYYYMMDD)" default:""`
	Sex       string `help:"restrict to patients with this sex" default:""`
	Year      int    `help:"restrict to studies of this year" default:"0"`
}

// newSearchCmd creates a new search command.
func newSearchCmd(f *Factory) *cobra.Command {
	var cfg searchCfg

	cmd := &cobra.Command{
		Use:   "search",
		Short: "List the studies of a patient, largest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdSearch(cmd, &cfg)
		},
	}

	process.Bind(cmd, &cfg, f.Defaults, cfgstruct.ConfDir(f.ConfDir))

	return cmd
}

func cmdSearch(cmd *cobra.Command, cfg *searchCfg) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	if cfg.Name == "" || cfg.BirthDate == "" {
		return errs.New("--name and --birth-date are required")
	}

	db, err := openCatalog(ctx, log, cfg.Catalog)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	summaries, err := db.Search(ctx, catalog.Query{
		Name:      cfg.Name,
		BirthDate: cfg.BirthDate,
		Sex:       cfg.Sex,
		Year:      cfg.Year,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STUDY\tDATE\tFILES\tSIZE")
	for _, summary := range summaries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", summary.StudyUID, summary.StudyDate, summary.Files, memory.Size(summary.TotalBytes).Base10String())
	}
	return w.Flush()
}
