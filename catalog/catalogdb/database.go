// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package catalogdb implements the catalog on sqlite3 or postgres.
package catalogdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver.
	_ "github.com/mattn/go-sqlite3"    // registers the sqlite3 driver.
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/studyvault/catalog"
	"storj.io/studyvault/private/migrate"
)

var (
	mon = monkit.Package()

	// Error is the default catalogdb errs class.
	Error = errs.Class("catalogdb")
)

const (
	// DriverSQLite is the embedded sqlite3 driver.
	DriverSQLite = "sqlite3"
	// DriverPostgres is the postgres driver.
	DriverPostgres = "pgx"
)

// Config configures the catalog database.
type Config struct {
	Driver       string `help:"database driver, sqlite3 or pgx" default:"sqlite3"`
	URL          string `help:"database location, a file path for sqlite3 or a connection string for pgx" default:"$CONFDIR/catalog.db"`
	Identity     string `help:"fields that identify the same patient, name-dob or id-name-dob" default:"name-dob"`
	MaxOpenConns int    `help:"maximum number of open database connections" default:"10"`
}

// DB is the catalog database.
type DB struct {
	*writer

	log    *zap.Logger
	driver string
	db     *sql.DB
}

var _ catalog.DB = (*DB)(nil)

// Open opens the catalog database described by config.
func Open(ctx context.Context, log *zap.Logger, config Config) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	mode, err := catalog.ParseIdentityMode(config.Identity)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var source string
	switch config.Driver {
	case DriverSQLite, "":
		config.Driver = DriverSQLite
		if err := os.MkdirAll(filepath.Dir(config.URL), 0700); err != nil {
			return nil, Error.Wrap(err)
		}
		source = "file:" + config.URL + "?_busy_timeout=10000&_journal=WAL&_txlock=immediate&_foreign_keys=1"
	case DriverPostgres:
		source = config.URL
	default:
		return nil, Error.New("unsupported driver %q", config.Driver)
	}

	sqlDB, err := sql.Open(config.Driver, source)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, Error.Wrap(errs.Combine(err, sqlDB.Close()))
	}

	db := &DB{
		log:    log,
		driver: config.Driver,
		db:     sqlDB,
	}
	db.writer = &writer{
		q:      sqlDB,
		rebind: db.Rebind,
		mode:   mode,
		now:    time.Now,
	}

	log.Debug("catalog opened", zap.String("driver", config.Driver))
	return db, nil
}

// BeginTx starts a transaction.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return db.db.BeginTx(ctx, opts)
}

// Rebind converts ? placeholders to the placeholder syntax of the driver.
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	return rebindNumbered(query)
}

// WithTx runs fn in a single transaction.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx catalog.Writer) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	return Error.Wrap(migrate.WithTx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &writer{
			q:      tx,
			rebind: db.Rebind,
			mode:   db.writer.mode,
			now:    db.writer.now,
		})
	}))
}

// Close closes the database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// rebindNumbered replaces ? outside of quoted strings with $1, $2, ...
func rebindNumbered(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
