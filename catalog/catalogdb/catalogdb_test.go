// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package catalogdb_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"storj.io/common/testcontext"
	"storj.io/studyvault/catalog"
	"storj.io/studyvault/catalog/catalogdb"
	"storj.io/studyvault/catalog/catalogdbtest"
	"storj.io/studyvault/header"
)

func identity(name, dob string) catalog.Identity {
	return catalog.Identity{
		PatientID: header.Present("PID-" + name),
		Name:      header.Present(name),
		BirthDate: header.Present(dob),
		Sex:       header.Present(""),
	}
}

// addInstance records one instance with all of its parents in one transaction.
func addInstance(ctx context.Context, t *testing.T, db *catalogdb.DB, who catalog.Identity, study, studyDate, series, object string, size int64) bool {
	var created bool
	err := db.WithTx(ctx, func(ctx context.Context, tx catalog.Writer) error {
		patient, err := tx.UpsertPatient(ctx, who)
		if err != nil {
			return err
		}
		if _, err := tx.FindOrCreateStudy(ctx, catalog.Study{
			UID:       study,
			PatientID: patient.ID,
			StudyDate: header.Present(studyDate),
			Modality:  header.Present("CT"),
		}); err != nil {
			return err
		}
		if _, err := tx.FindOrCreateSeries(ctx, catalog.Series{UID: series, StudyUID: study}); err != nil {
			return err
		}
		created, err = tx.FindOrCreateInstance(ctx, catalog.Instance{
			ObjectUID:      object,
			SeriesUID:      series,
			TransferSyntax: header.Missing(),
			Path:           "/store/" + object + ".dcm",
			Size:           size,
		})
		return err
	})
	require.NoError(t, err)
	return created
}

func TestUpsertIsIdempotent(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		first, err := db.UpsertPatient(ctx, identity("DOE^JOHN", "19700101"))
		require.NoError(t, err)
		second, err := db.UpsertPatient(ctx, identity("doe  john", "19700101"))
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		require.Equal(t, "doe john", second.NameNorm)
		require.Equal(t, header.Present("DOE^JOHN"), second.Name)

		other, err := db.UpsertPatient(ctx, identity("DOE^JOHN", "19700102"))
		require.NoError(t, err)
		require.NotEqual(t, first.ID, other.ID)

		study, err := db.FindOrCreateStudy(ctx, catalog.Study{UID: "1.1", PatientID: first.ID, StudyDate: header.Present("20230105")})
		require.NoError(t, err)
		require.True(t, study.Modality.IsMissing())

		// an existing study is never reassigned.
		again, err := db.FindOrCreateStudy(ctx, catalog.Study{UID: "1.1", PatientID: other.ID, StudyDate: header.Present("19990101")})
		require.NoError(t, err)
		require.Equal(t, study, again)

		_, err = db.FindOrCreateSeries(ctx, catalog.Series{UID: "1.1.1", StudyUID: "1.1"})
		require.NoError(t, err)

		instance := catalog.Instance{ObjectUID: "1.1.1.1", SeriesUID: "1.1.1", Path: "/a.dcm", Size: 10}
		created, err := db.FindOrCreateInstance(ctx, instance)
		require.NoError(t, err)
		require.True(t, created)

		created, err = db.FindOrCreateInstance(ctx, instance)
		require.NoError(t, err)
		require.False(t, created)

		exists, err := db.HasInstance(ctx, "1.1.1.1")
		require.NoError(t, err)
		require.True(t, exists)

		exists, err = db.HasInstance(ctx, "9.9")
		require.NoError(t, err)
		require.False(t, exists)
	})
}

func TestPatientBackfill(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		who := identity("ROE^JANE", "19800101")
		patient, err := db.UpsertPatient(ctx, who)
		require.NoError(t, err)
		require.True(t, patient.Sex.IsBlank())

		who.Sex = header.Present("F")
		patient, err = db.UpsertPatient(ctx, who)
		require.NoError(t, err)
		require.Equal(t, header.Present("F"), patient.Sex)

		// once set, a field is never overwritten.
		who.Sex = header.Present("M")
		patient, err = db.UpsertPatient(ctx, who)
		require.NoError(t, err)
		require.Equal(t, header.Present("F"), patient.Sex)
	})
}

func TestPatientNameKeptFromFirstFile(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		first, err := db.UpsertPatient(ctx, identity("Roe^Jane", "19800101"))
		require.NoError(t, err)

		// same normalized name, different raw spelling.
		second, err := db.UpsertPatient(ctx, identity("ROE^JANE", "19800101"))
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		require.Equal(t, header.Present("Roe^Jane"), second.Name)
		require.Equal(t, "roe jane", second.NameNorm)
	})
}

func TestStrictIdentity(t *testing.T) {
	catalogdbtest.RunWithMode(t, catalog.IdentityStrict, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		a := identity("DOE^JOHN", "19700101")
		b := a
		b.PatientID = header.Present("OTHER")

		pa, err := db.UpsertPatient(ctx, a)
		require.NoError(t, err)
		pb, err := db.UpsertPatient(ctx, b)
		require.NoError(t, err)
		require.NotEqual(t, pa.ID, pb.ID)

		// both are still found by name and birth date.
		ids, err := db.FindPatients(ctx, catalog.Query{Name: "Doe^John", BirthDate: "19700101"})
		require.NoError(t, err)
		require.ElementsMatch(t, []int64{pa.ID, pb.ID}, ids)
	})
}

func TestConcurrentUpsertPatient(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		const workers = 8
		ids := make([]int64, workers)

		// ctx must stay usable for the lookup below; ctx.Wait cancels it.
		var group errgroup.Group
		for i := range workers {
			group.Go(func() error {
				patient, err := db.UpsertPatient(ctx, identity("DOE^JOHN", "19700101"))
				ids[i] = patient.ID
				return err
			})
		}
		require.NoError(t, group.Wait())

		for _, id := range ids {
			require.Equal(t, ids[0], id)
		}

		found, err := db.FindPatients(ctx, catalog.Query{Name: "doe john", BirthDate: "19700101"})
		require.NoError(t, err)
		require.Equal(t, []int64{ids[0]}, found)
	})
}

func TestWithTxRollsBack(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		failure := errors.New("failure")
		err := db.WithTx(ctx, func(ctx context.Context, tx catalog.Writer) error {
			patient, err := tx.UpsertPatient(ctx, identity("DOE^JOHN", "19700101"))
			if err != nil {
				return err
			}
			if _, err := tx.FindOrCreateStudy(ctx, catalog.Study{UID: "1.1", PatientID: patient.ID}); err != nil {
				return err
			}
			return failure
		})
		require.ErrorIs(t, err, failure)

		ids, err := db.FindPatients(ctx, catalog.Query{Name: "DOE^JOHN", BirthDate: "19700101"})
		require.NoError(t, err)
		require.Empty(t, ids)
	})
}

func TestSearch(t *testing.T) {
	catalogdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *catalogdb.DB) {
		john := identity("DOE^JOHN", "19700101")
		jane := identity("DOE^JANE", "19700101")

		// study A: 5 bytes, study B: 50 bytes, study C: 10 bytes.
		require.True(t, addInstance(ctx, t, db, john, "A", "20230105", "A.1", "A.1.1", 5))
		for i := range 5 {
			require.True(t, addInstance(ctx, t, db, john, "B", "20240210", "B."+strconv.Itoa(i%2), "B.x."+strconv.Itoa(i), 10))
		}
		require.True(t, addInstance(ctx, t, db, john, "C", "20230301", "C.1", "C.1.1", 10))
		require.True(t, addInstance(ctx, t, db, jane, "D", "20230301", "D.1", "D.1.1", 1000))

		// a duplicate does not count twice.
		require.False(t, addInstance(ctx, t, db, john, "A", "20230105", "A.1", "A.1.1", 5))

		summaries, err := db.Search(ctx, catalog.Query{Name: " doe^john ", BirthDate: "19700101"})
		require.NoError(t, err)
		require.Equal(t, []catalog.StudySummary{
			{StudyUID: "B", StudyDate: "20240210", Files: 5, TotalBytes: 50},
			{StudyUID: "C", StudyDate: "20230301", Files: 1, TotalBytes: 10},
			{StudyUID: "A", StudyDate: "20230105", Files: 1, TotalBytes: 5},
		}, summaries)

		summaries, err = db.Search(ctx, catalog.Query{Name: "DOE^JOHN", BirthDate: "19700101", Year: 2023})
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		require.Equal(t, "C", summaries[0].StudyUID)
		require.Equal(t, "A", summaries[1].StudyUID)

		summaries, err = db.Search(ctx, catalog.Query{Name: "DOE^JOHN", BirthDate: "19700101", Sex: "M"})
		require.NoError(t, err)
		require.Empty(t, summaries)

		summaries, err = db.Search(ctx, catalog.Query{Name: "nobody", BirthDate: "19700101"})
		require.NoError(t, err)
		require.Empty(t, summaries)

		files, err := db.StudyFiles(ctx, "B")
		require.NoError(t, err)
		require.Len(t, files, 5)
		for _, file := range files {
			require.EqualValues(t, 10, file.Size)
		}

		files, err = db.StudyFiles(ctx, "missing")
		require.NoError(t, err)
		require.Empty(t, files)
	})
}

func TestOpenRejectsUnknownConfig(t *testing.T) {
	ctx := testcontext.New(t)

	_, err := catalogdb.Open(ctx, nil, catalogdb.Config{Driver: "mysql", URL: ctx.File("x.db")})
	require.Error(t, err)

	_, err = catalogdb.Open(ctx, nil, catalogdb.Config{Driver: catalogdb.DriverSQLite, URL: ctx.File("x.db"), Identity: "fuzzy"})
	require.Error(t, err)
}
