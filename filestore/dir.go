// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package filestore implements the fan-out directory tree that ingested
// files are copied into.
package filestore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
)

var (
	mon = monkit.Package()

	// Error is the default filestore errs class.
	Error = errs.Class("filestore")
	// ErrInvalidRef is returned when an identifier cannot be used as a path element.
	ErrInvalidRef = errs.Class("invalid object reference")
)

const (
	objectPermission = 0644
	dirPermission    = 0755

	tempPattern = "object-*.partial"
)

// Config configures the fan-out store.
type Config struct {
	Dir       string `help:"root directory of the fan-out store" default:"$CONFDIR/store"`
	Extension string `help:"file extension of stored objects" default:"dcm"`
}

// ObjectRef identifies a stored object by the identifiers of its study,
// series and instance.
type ObjectRef struct {
	Study  string
	Series string
	Object string
}

// Validate checks that every identifier is usable as a single path element.
func (ref ObjectRef) Validate() error {
	for _, id := range []string{ref.Study, ref.Series, ref.Object} {
		if err := ValidateID(id); err != nil {
			return err
		}
	}
	return nil
}

// ValidateID checks that id is usable as a single path element.
func ValidateID(id string) error {
	switch {
	case id == "":
		return ErrInvalidRef.New("empty identifier")
	case id == "." || id == "..":
		return ErrInvalidRef.New("%q is not a valid identifier", id)
	case strings.ContainsAny(id, "/\\\x00"):
		return ErrInvalidRef.New("%q contains a path separator", id)
	}
	return nil
}

// Placement describes where an object was placed.
type Placement struct {
	Path string
	Size int64
	// Created is false when the object already existed and was reused.
	Created bool
}

// Dir is the root of the fan-out store.
type Dir struct {
	log    *zap.Logger
	path   string
	suffix string
}

// NewDir returns the store rooted at config.Dir, creating it when needed.
func NewDir(log *zap.Logger, config Config) (*Dir, error) {
	dir := &Dir{
		log:    log,
		path:   config.Dir,
		suffix: "." + strings.TrimPrefix(config.Extension, "."),
	}
	if config.Extension == "" {
		dir.suffix = ""
	}
	return dir, Error.Wrap(errs.Combine(
		os.MkdirAll(dir.studiesdir(), dirPermission),
		os.MkdirAll(dir.tempdir(), dirPermission),
	))
}

// Path returns the root of the store.
func (dir *Dir) Path() string { return dir.path }

func (dir *Dir) studiesdir() string { return filepath.Join(dir.path, "studies") }
func (dir *Dir) tempdir() string    { return filepath.Join(dir.path, "tmp") }

// StudyDir returns the directory holding the series of a study.
func (dir *Dir) StudyDir(study string) string {
	sum := sha1.Sum([]byte(study))
	hash := hex.EncodeToString(sum[:])
	return filepath.Join(dir.studiesdir(), hash[0:2], hash[2:4], study)
}

// ObjectPath returns the path of the object; the object need not exist.
func (dir *Dir) ObjectPath(ref ObjectRef) string {
	return filepath.Join(dir.StudyDir(ref.Study), ref.Series, ref.Object+dir.suffix)
}

// Exists returns whether the object is already stored.
func (dir *Dir) Exists(ref ObjectRef) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	_, err := os.Stat(dir.ObjectPath(ref))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, Error.Wrap(err)
	}
}

// Place copies source into the store under ref. The source is never
// modified. An object that is already stored is never replaced; its
// placement is returned with Created set to false.
func (dir *Dir) Place(ctx context.Context, ref ObjectRef, source string) (_ Placement, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ref.Validate(); err != nil {
		return Placement{}, err
	}

	target := dir.ObjectPath(ref)
	if info, err := os.Stat(target); err == nil {
		return Placement{Path: target, Size: info.Size()}, nil
	}

	src, err := os.Open(source)
	if err != nil {
		return Placement{}, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(src.Close())) }()

	info, err := src.Stat()
	if err != nil {
		return Placement{}, Error.Wrap(err)
	}

	file, err := os.CreateTemp(dir.tempdir(), tempPattern)
	if err != nil {
		return Placement{}, Error.Wrap(err)
	}
	// the temporary name is always removed: either it was linked into place
	// or the copy failed.
	defer func() { err = errs.Combine(err, ignoreNotExist(os.Remove(file.Name()))) }()

	size, err := sync2.Copy(ctx, file, src)
	if err != nil {
		return Placement{}, Error.Wrap(errs.Combine(err, file.Close()))
	}

	syncErr := file.Sync()
	var chmodErr error
	if runtime.GOOS != "windows" {
		chmodErr = file.Chmod(objectPermission)
	}
	closeErr := file.Close()
	if err := errs.Combine(syncErr, chmodErr, closeErr); err != nil {
		return Placement{}, Error.Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPermission); err != nil {
		return Placement{}, Error.Wrap(err)
	}

	// linking fails when the target exists, so a published object is never
	// replaced by a concurrent writer.
	err = os.Link(file.Name(), target)
	if errors.Is(err, fs.ErrExist) {
		existing, statErr := os.Stat(target)
		if statErr != nil {
			return Placement{}, Error.Wrap(statErr)
		}
		return Placement{Path: target, Size: existing.Size()}, nil
	}
	if err != nil {
		return Placement{}, Error.Wrap(err)
	}

	// keep the source modification time, as a plain copy with metadata would.
	if err := os.Chtimes(target, time.Now(), info.ModTime()); err != nil {
		dir.log.Debug("unable to preserve modification time", zap.String("path", target), zap.Error(err))
	}

	return Placement{Path: target, Size: size, Created: true}, nil
}

// CleanTemp removes temporary files older than olderThan, left behind by
// interrupted copies.
func (dir *Dir) CleanTemp(ctx context.Context, olderThan time.Duration) (removed int, err error) {
	defer mon.Task()(&ctx)(&err)

	entries, err := os.ReadDir(dir.tempdir())
	if err != nil {
		return 0, Error.Wrap(err)
	}

	cutoff := time.Now().Add(-olderThan)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir.tempdir(), entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			dir.log.Warn("unable to remove temporary file", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func ignoreNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
