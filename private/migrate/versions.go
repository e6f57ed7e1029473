// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package migrate applies ordered, versioned schema changes to a database.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// Error is the default migrate errs class.
	Error = errs.Class("migrate")
	// ErrValidateVersionMismatch is when the migration version does not match the current database version.
	ErrValidateVersionMismatch = errs.Class("validate db version mismatch")
)

// DB is a database that migrations can be applied to.
type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	// Rebind converts ? placeholders into the placeholder syntax of the database.
	Rebind(query string) string
}

// Migration describes a migration steps.
type Migration struct {
	Table string
	Steps []*Step
}

// Step describes a single step in migration.
type Step struct {
	DB          DB
	Description string
	Version     int // Versions should start at 0
	Action      Action
}

// Action is something that needs to be done.
type Action interface {
	Run(ctx context.Context, log *zap.Logger, db DB, tx *sql.Tx) error
}

// ValidTableName checks whether the specified table name is valid.
func (migration *Migration) ValidTableName() error {
	matched, err := regexp.MatchString(`^[a-z_]+$`, migration.Table)
	if !matched || err != nil {
		return Error.New("invalid table name: %v", migration.Table)
	}
	return nil
}

// ValidateSteps checks that the version for each migration step increments in order.
func (migration *Migration) ValidateSteps() error {
	sorted := sort.SliceIsSorted(migration.Steps, func(i, j int) bool {
		return migration.Steps[i].Version <= migration.Steps[j].Version
	})
	if !sorted {
		return Error.New("steps have incorrect order")
	}
	return nil
}

// ValidateVersions checks that the version of the migration matches the state of the database.
func (migration *Migration) ValidateVersions(ctx context.Context, log *zap.Logger) error {
	for _, step := range migration.Steps {
		dbVersion, err := migration.CurrentVersion(ctx, log, step.DB)
		if err != nil {
			return err
		}
		if step.Version > dbVersion {
			return ErrValidateVersionMismatch.New("expected %d <= %d", step.Version, dbVersion)
		}
	}
	return nil
}

// Run runs the migration steps that have not been applied yet.
func (migration *Migration) Run(ctx context.Context, log *zap.Logger) error {
	if err := migration.ValidTableName(); err != nil {
		return err
	}
	if err := migration.ValidateSteps(); err != nil {
		return err
	}

	initialSetup := false
	for i, step := range migration.Steps {
		if step.DB == nil {
			return Error.New("step.DB is nil for step %d", step.Version)
		}

		version, err := migration.CurrentVersion(ctx, log, step.DB)
		if err != nil {
			return err
		}
		if i == 0 && version < 0 {
			initialSetup = true
		}
		if step.Version <= version {
			continue
		}

		stepLog := log.Named(strconv.Itoa(step.Version))
		if !initialSetup {
			stepLog.Info(step.Description)
		}

		err = WithTx(ctx, step.DB, func(ctx context.Context, tx *sql.Tx) error {
			if err := step.Action.Run(ctx, stepLog, step.DB, tx); err != nil {
				return err
			}
			return migration.addVersion(ctx, tx, step.DB, step.Version)
		})
		if err != nil {
			return Error.Wrap(err)
		}
	}

	if len(migration.Steps) > 0 {
		last := migration.Steps[len(migration.Steps)-1]
		if initialSetup {
			log.Info("Database Created", zap.Int("version", last.Version))
		} else {
			log.Debug("Database Version", zap.Int("version", last.Version))
		}
	}

	return nil
}

// CurrentVersion finds the latest applied version, or -1 for an empty database.
func (migration *Migration) CurrentVersion(ctx context.Context, log *zap.Logger, db DB) (int, error) {
	if err := migration.ensureVersionTable(ctx, db); err != nil {
		return -1, Error.Wrap(err)
	}
	return migration.getLatestVersion(ctx, db)
}

func (migration *Migration) ensureVersionTable(ctx context.Context, db DB) error {
	return WithTx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migration.Table+` (version int, committed_at text)`)
		return err
	})
}

func (migration *Migration) getLatestVersion(ctx context.Context, db DB) (int, error) {
	var version sql.NullInt64
	err := WithTx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM `+migration.Table).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return -1, Error.Wrap(err)
	}
	if !version.Valid {
		return -1, nil
	}
	return int(version.Int64), nil
}

func (migration *Migration) addVersion(ctx context.Context, tx *sql.Tx, db DB, version int) error {
	_, err := tx.ExecContext(ctx, db.Rebind(`
		INSERT INTO `+migration.Table+` (version, committed_at) VALUES (?, ?)`),
		version, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SQL statements that are executed on the database.
type SQL []string

// Run runs the SQL statements.
func (statements SQL) Run(ctx context.Context, log *zap.Logger, db DB, tx *sql.Tx) (err error) {
	for _, query := range statements {
		if _, err := tx.ExecContext(ctx, db.Rebind(query)); err != nil {
			return errs.Wrap(err)
		}
	}
	return nil
}

// Func is an arbitrary operation.
type Func func(ctx context.Context, log *zap.Logger, db DB, tx *sql.Tx) error

// Run runs the migration.
func (fn Func) Run(ctx context.Context, log *zap.Logger, db DB, tx *sql.Tx) error {
	return fn(ctx, log, db, tx)
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func WithTx(ctx context.Context, db DB, fn func(context.Context, *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
		} else {
			err = errs.Combine(err, tx.Rollback())
		}
	}()
	return fn(ctx, tx)
}
