// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/studyvault/catalog"
	"storj.io/studyvault/catalog/catalogdb"
	"storj.io/studyvault/catalog/catalogdbtest"
	"storj.io/studyvault/filestore"
	"storj.io/studyvault/header"
	"storj.io/studyvault/header/headertest"
	"storj.io/studyvault/ingest"
)

func newService(t *testing.T, ctx *testcontext.Context, db catalog.DB, config ingest.Config) (*ingest.Service, *filestore.Dir) {
	store, err := filestore.NewDir(zaptest.NewLogger(t), filestore.Config{Dir: ctx.Dir("store"), Extension: "dcm"})
	require.NoError(t, err)
	return ingest.NewService(zaptest.NewLogger(t), headertest.Reader{}, store, db, config), store
}

func writeInstance(t *testing.T, ctx *testcontext.Context, rel string, tags header.Tags, size int) string {
	path := filepath.Join(ctx.Dir("input"), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, headertest.Write(path, tags, testrand.BytesInt(size)))
	return path
}

func TestIngestTree(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		service, store := newService(t, ctx, db, ingest.Config{Workers: 4})

		a := writeInstance(t, ctx, "a.dcm", headertest.Instance("DOE^JOHN", "19700101", "1.1", "1.1.1", "1.1.1.1"), 100)
		writeInstance(t, ctx, "nested/b.dcm", headertest.Instance("doe john", "19700101", "1.1", "1.1.2", "1.1.2.1"), 200)
		writeInstance(t, ctx, "nested/deeper/c", headertest.Instance("Doe^John", "19700101", "1.2", "1.2.1", "1.2.1.1"), 300)

		// same object uid as a.dcm in another file.
		writeInstance(t, ctx, "copy-of-a.dcm", headertest.Instance("DOE^JOHN", "19700101", "1.1", "1.1.1", "1.1.1.1"), 100)

		missing := headertest.Instance("DOE^JOHN", "19700101", "1.1", "1.1.1", "")
		writeInstance(t, ctx, "missing.dcm", missing, 10)

		invalid := headertest.Instance("DOE^JOHN", "19700101", "1.1", "../1", "1.9")
		writeInstance(t, ctx, "invalid.dcm", invalid, 10)

		require.NoError(t, os.WriteFile(ctx.File("input", "notes.txt"), []byte("not an image"), 0644))
		require.NoError(t, os.WriteFile(ctx.File("input", "broken.dcm"), []byte("STUDYVAULT-TEST\n{broken json\n"), 0644))

		summary, err := service.IngestTree(ctx, filepath.Join(ctx.Dir(), "input"))
		require.NoError(t, err)
		require.Equal(t, ingest.Summary{
			ingest.Added:               3,
			ingest.SkippedDuplicate:    1,
			ingest.MissingRequiredTags: 1,
			ingest.InvalidIdentifier:   1,
			ingest.InvalidFormat:       1,
			ingest.ReadError:           1,
		}, summary)
		require.EqualValues(t, 8, summary.Total())

		// every accepted file was copied and its source kept.
		for _, ref := range []filestore.ObjectRef{
			{Study: "1.1", Series: "1.1.1", Object: "1.1.1.1"},
			{Study: "1.1", Series: "1.1.2", Object: "1.1.2.1"},
			{Study: "1.2", Series: "1.2.1", Object: "1.2.1.1"},
		} {
			exists, err := store.Exists(ref)
			require.NoError(t, err)
			require.True(t, exists, "%+v", ref)
		}
		_, err = os.Stat(a)
		require.NoError(t, err)

		// differently formatted names resolve to one patient.
		patients, err := db.FindPatients(ctx, catalog.Query{Name: "DOE^JOHN", BirthDate: "19700101"})
		require.NoError(t, err)
		require.Len(t, patients, 1)

		summaries, err := db.Search(ctx, catalog.Query{Name: "doe john", BirthDate: "19700101"})
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		require.Equal(t, "1.1", summaries[0].StudyUID)
		require.EqualValues(t, 2, summaries[0].Files)

		// a second run adds nothing.
		summary, err = service.IngestTree(ctx, filepath.Join(ctx.Dir(), "input"))
		require.NoError(t, err)
		require.EqualValues(t, 0, summary[ingest.Added])
		require.EqualValues(t, 4, summary[ingest.SkippedDuplicate])
	})
}

func TestIngestConcurrentDuplicates(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		service, store := newService(t, ctx, db, ingest.Config{Workers: 8})

		const copies = 16
		tags := headertest.Instance("ROE^JANE", "19800101", "2.1", "2.1.1", "2.1.1.1")
		for i := range copies {
			writeInstance(t, ctx, filepath.Join("dir"+strconv.Itoa(i), "x.dcm"), tags, 64)
		}

		summary, err := service.IngestTree(ctx, filepath.Join(ctx.Dir(), "input"))
		require.NoError(t, err)
		require.EqualValues(t, 1, summary[ingest.Added])
		require.EqualValues(t, copies-1, summary[ingest.SkippedDuplicate])

		entries, err := os.ReadDir(filepath.Dir(store.ObjectPath(filestore.ObjectRef{Study: "2.1", Series: "2.1.1", Object: "2.1.1.1"})))
		require.NoError(t, err)
		require.Len(t, entries, 1)

		files, err := db.StudyFiles(ctx, "2.1")
		require.NoError(t, err)
		require.Len(t, files, 1)
	})
}

func TestIngestInPlace(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		service, store := newService(t, ctx, db, ingest.Config{Workers: 2, InPlace: true})

		source := writeInstance(t, ctx, "a.dcm", headertest.Instance("DOE^JOHN", "19700101", "3.1", "3.1.1", "3.1.1.1"), 100)

		summary, err := service.IngestTree(ctx, filepath.Join(ctx.Dir(), "input"))
		require.NoError(t, err)
		require.EqualValues(t, 1, summary[ingest.Added])

		files, err := db.StudyFiles(ctx, "3.1")
		require.NoError(t, err)
		require.Len(t, files, 1)

		abs, err := filepath.Abs(source)
		require.NoError(t, err)
		require.Equal(t, abs, files[0].Path)

		exists, err := store.Exists(filestore.ObjectRef{Study: "3.1", Series: "3.1.1", Object: "3.1.1.1"})
		require.NoError(t, err)
		require.False(t, exists)
	})
}

func TestIngestMissingRoot(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		service, _ := newService(t, ctx, db, ingest.Config{Workers: 1})

		_, err := service.IngestTree(ctx, filepath.Join(ctx.Dir(), "does-not-exist"))
		require.Error(t, err)
	})
}

func TestSummaryString(t *testing.T) {
	summary := ingest.Summary{ingest.Added: 2, ingest.ReadError: 1}
	require.Equal(t, "added=2 skipped_duplicate=0 invalid_format=0 missing_required_tags=0 read_error=1 invalid_identifier=0 store_error=0 catalog_error=0", summary.String())
	require.EqualValues(t, 3, summary.Total())
	require.Zero(t, summary.Failed())
}

type failingDB struct {
	catalog.DB
	fail atomic.Bool
}

func (db *failingDB) WithTx(ctx context.Context, fn func(ctx context.Context, tx catalog.Writer) error) error {
	if db.fail.Load() {
		return errors.New("injected failure")
	}
	return db.DB.WithTx(ctx, fn)
}

func TestIngestCatalogFailureIsRetried(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		failing := &failingDB{DB: db}
		failing.fail.Store(true)
		service, store := newService(t, ctx, failing, ingest.Config{Workers: 1})

		writeInstance(t, ctx, "a.dcm", headertest.Instance("DOE^JOHN", "19700101", "4.1", "4.1.1", "4.1.1.1"), 100)
		ref := filestore.ObjectRef{Study: "4.1", Series: "4.1.1", Object: "4.1.1.1"}

		summary, err := service.IngestTree(ctx, filepath.Join(ctx.Dir(), "input"))
		require.NoError(t, err)
		require.EqualValues(t, 1, summary[ingest.CatalogError])

		files, err := db.StudyFiles(ctx, "4.1")
		require.NoError(t, err)
		require.Empty(t, files)

		failing.fail.Store(false)
		summary, err = service.IngestTree(ctx, filepath.Join(ctx.Dir(), "input"))
		require.NoError(t, err)
		require.EqualValues(t, 1, summary[ingest.Added])

		files, err = db.StudyFiles(ctx, "4.1")
		require.NoError(t, err)
		require.Len(t, files, 1)
		require.Equal(t, store.ObjectPath(ref), files[0].Path)
	})
}
