// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package catalogdbtest runs tests against every supported catalog database.
package catalogdbtest

import (
	"database/sql"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/studyvault/catalog"
	"storj.io/studyvault/catalog/catalogdb"
)

// PostgresEnv names the environment variable holding a postgres connection
// string for tests. Postgres tests are skipped when it is empty.
const PostgresEnv = "STUDYVAULT_TEST_POSTGRES"

// Run runs test against every configured database with the default identity mode.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB)) {
	RunWithMode(t, catalog.IdentityNameBirthDate, test)
}

// RunWithMode runs test against every configured database with the identity mode.
func RunWithMode(t *testing.T, mode catalog.IdentityMode, test func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB)) {
	t.Run("sqlite3", func(t *testing.T) {
		ctx := testcontext.New(t)

		run(ctx, t, catalogdb.Config{
			Driver:   catalogdb.DriverSQLite,
			URL:      ctx.File("catalog.db"),
			Identity: string(mode),
		}, test)
	})

	t.Run("postgres", func(t *testing.T) {
		connstr := os.Getenv(PostgresEnv)
		if connstr == "" {
			t.Skipf("postgres not configured, example:\n%s=postgres://postgres@localhost/teststudyvault?sslmode=disable", PostgresEnv)
		}
		ctx := testcontext.New(t)

		schema := "test_" + strconv.FormatInt(time.Now().UnixNano(), 36)
		admin, err := sql.Open(catalogdb.DriverPostgres, connstr)
		require.NoError(t, err)
		defer ctx.Check(admin.Close)

		_, err = admin.ExecContext(ctx, `CREATE SCHEMA `+schema)
		require.NoError(t, err)
		defer func() {
			_, err := admin.ExecContext(ctx, `DROP SCHEMA `+schema+` CASCADE`)
			require.NoError(t, err)
		}()

		run(ctx, t, catalogdb.Config{
			Driver:   catalogdb.DriverPostgres,
			URL:      withSearchPath(t, connstr, schema),
			Identity: string(mode),
		}, test)
	})
}

func run(ctx *testcontext.Context, t *testing.T, config catalogdb.Config, test func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB)) {
	db, err := catalogdb.Open(ctx, zaptest.NewLogger(t), config)
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	require.NoError(t, db.MigrateToLatest(ctx))

	test(ctx, t, db)
}

func withSearchPath(t *testing.T, connstr, schema string) string {
	u, err := url.Parse(connstr)
	require.NoError(t, err)
	query := u.Query()
	query.Set("search_path", schema)
	u.RawQuery = query.Encode()
	return u.String()
}
