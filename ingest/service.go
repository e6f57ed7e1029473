// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package ingest walks directory trees of imaging files, copies accepted
// files into the store and records them in the catalog.
package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/studyvault/catalog"
	"storj.io/studyvault/filestore"
	"storj.io/studyvault/header"
)

var (
	mon = monkit.Package()

	// Error is the default ingest errs class.
	Error = errs.Class("ingest")
)

const lockStripes = 256

// Config configures ingestion.
type Config struct {
	Workers    int           `help:"number of files ingested in parallel" default:"8"`
	InPlace    bool          `help:"catalog files at their source path instead of copying them into the store" default:"false"`
	TempMaxAge time.Duration `help:"age after which leftover temporary copies in the store are removed" default:"24h"`
}

// Service ingests files into the store and the catalog.
type Service struct {
	log    *zap.Logger
	reader header.Reader
	store  *filestore.Dir
	db     catalog.DB
	config Config

	locks *stripes
}

// NewService returns a new ingest service.
func NewService(log *zap.Logger, reader header.Reader, store *filestore.Dir, db catalog.DB, config Config) *Service {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Service{
		log:    log,
		reader: reader,
		store:  store,
		db:     db,
		config: config,
		locks:  newStripes(lockStripes),
	}
}

// IngestTree ingests every regular file under root. Failures of individual
// files are counted in the summary; only an unreadable root or a canceled
// context is returned as an error.
func (service *Service) IngestTree(ctx context.Context, root string) (_ Summary, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := os.Stat(root); err != nil {
		return nil, Error.Wrap(err)
	}

	if !service.config.InPlace && service.config.TempMaxAge > 0 {
		removed, err := service.store.CleanTemp(ctx, service.config.TempMaxAge)
		if err != nil {
			service.log.Warn("unable to clean temporary files", zap.Error(err))
		} else if removed > 0 {
			service.log.Info("removed leftover temporary files", zap.Int("count", removed))
		}
	}

	var mu sync.Mutex
	summary := Summary{}
	record := func(outcome Outcome) {
		mon.Counter("ingest_outcome", monkit.NewSeriesTag("outcome", string(outcome))).Inc(1)
		mu.Lock()
		summary[outcome]++
		mu.Unlock()
	}

	limiter := sync2.NewLimiter(service.config.Workers)

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			service.log.Warn("unable to walk", zap.String("path", path), zap.Error(err))
			record(ReadError)
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		if !isRegular(path, entry) {
			service.log.Debug("skipping non-regular file", zap.String("path", path))
			return nil
		}

		started := limiter.Go(ctx, func() {
			outcome, err := service.IngestFile(ctx, path)
			if err != nil {
				service.log.Error("unable to ingest file",
					zap.String("path", path),
					zap.Stringer("outcome", outcome),
					zap.Error(err))
			}
			record(outcome)
		})
		if !started {
			return ctx.Err()
		}
		return nil
	})
	limiter.Wait()

	mu.Lock()
	defer mu.Unlock()

	if walkErr != nil {
		return summary, Error.Wrap(walkErr)
	}

	service.log.Info("ingest finished",
		zap.String("root", root),
		zap.Int64("files", summary.Total()),
		zap.Int64("added", summary[Added]),
		zap.Int64("skipped_duplicate", summary[SkippedDuplicate]),
		zap.Int64("failed", summary.Failed()))

	return summary, nil
}

// IngestFile ingests a single file. The returned error is only set for store
// and catalog failures; rejected files return their outcome without error.
func (service *Service) IngestFile(ctx context.Context, path string) (_ Outcome, err error) {
	defer mon.Task()(&ctx)(&err)

	log := service.log.With(zap.String("path", path))

	tags, err := service.reader.ReadTags(ctx, path)
	if err != nil {
		if header.ErrNotDICOM.Has(err) {
			log.Debug("rejected", zap.Stringer("reason", InvalidFormat))
			return InvalidFormat, nil
		}
		log.Debug("rejected", zap.Stringer("reason", ReadError), zap.Error(err))
		return ReadError, nil
	}

	if missing := tags.MissingRequired(); len(missing) > 0 {
		log.Debug("rejected", zap.Stringer("reason", MissingRequiredTags), zap.Strings("missing", missing))
		return MissingRequiredTags, nil
	}

	ref := filestore.ObjectRef{
		Study:  tags.StudyInstanceUID.String(),
		Series: tags.SeriesInstanceUID.String(),
		Object: tags.SOPInstanceUID.String(),
	}
	if err := ref.Validate(); err != nil {
		log.Debug("rejected", zap.Stringer("reason", InvalidIdentifier), zap.Error(err))
		return InvalidIdentifier, nil
	}

	unlock := service.locks.Lock(ref.Object)
	defer unlock()

	exists, err := service.db.HasInstance(ctx, ref.Object)
	if err != nil {
		return CatalogError, Error.Wrap(err)
	}
	if exists {
		return SkippedDuplicate, nil
	}

	placement, err := service.place(ctx, ref, path)
	if err != nil {
		return StoreError, Error.Wrap(err)
	}

	var created bool
	err = service.db.WithTx(ctx, func(ctx context.Context, tx catalog.Writer) error {
		patient, err := tx.UpsertPatient(ctx, catalog.IdentityFromTags(tags))
		if err != nil {
			return err
		}
		_, err = tx.FindOrCreateStudy(ctx, catalog.Study{
			UID:       ref.Study,
			PatientID: patient.ID,
			StudyDate: tags.StudyDate,
			Modality:  tags.Modality,
		})
		if err != nil {
			return err
		}
		_, err = tx.FindOrCreateSeries(ctx, catalog.Series{
			UID:      ref.Series,
			StudyUID: ref.Study,
		})
		if err != nil {
			return err
		}
		created, err = tx.FindOrCreateInstance(ctx, catalog.Instance{
			ObjectUID:      ref.Object,
			SeriesUID:      ref.Series,
			TransferSyntax: tags.TransferSyntaxUID,
			Path:           placement.Path,
			Size:           placement.Size,
		})
		return err
	})
	if err != nil {
		// the stored copy stays in place and is reused by the next attempt.
		return CatalogError, Error.Wrap(err)
	}
	if !created {
		return SkippedDuplicate, nil
	}

	log.Debug("added", zap.String("object", ref.Object), zap.Int64("size", placement.Size))
	return Added, nil
}

// place returns where the catalog should point for the file at path.
func (service *Service) place(ctx context.Context, ref filestore.ObjectRef, path string) (filestore.Placement, error) {
	if !service.config.InPlace {
		return service.store.Place(ctx, ref, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return filestore.Placement{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return filestore.Placement{}, err
	}
	return filestore.Placement{Path: abs, Size: info.Size()}, nil
}

func isRegular(path string, entry fs.DirEntry) bool {
	if entry.Type().IsRegular() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
