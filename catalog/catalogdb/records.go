// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"storj.io/studyvault/catalog"
)

// FindOrCreateStudy finds or creates a study. An existing study is returned
// unchanged.
func (w *writer) FindOrCreateStudy(ctx context.Context, study catalog.Study) (_ catalog.Study, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = w.q.ExecContext(ctx, w.rebind(`
		INSERT INTO studies (study_uid, patient_ref, study_date, modality)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (study_uid) DO NOTHING`),
		study.UID, study.PatientID, nullable(study.StudyDate), nullable(study.Modality),
	)
	if err != nil {
		return catalog.Study{}, Error.Wrap(err)
	}

	var (
		found              catalog.Study
		studyDate, modality sql.NullString
	)
	err = w.q.QueryRowContext(ctx, w.rebind(`
		SELECT study_uid, patient_ref, study_date, modality FROM studies WHERE study_uid = ?`), study.UID,
	).Scan(&found.UID, &found.PatientID, &studyDate, &modality)
	if err != nil {
		return catalog.Study{}, Error.Wrap(err)
	}
	found.StudyDate = value(studyDate)
	found.Modality = value(modality)
	return found, nil
}

// FindOrCreateSeries finds or creates a series. An existing series is
// returned unchanged.
func (w *writer) FindOrCreateSeries(ctx context.Context, series catalog.Series) (_ catalog.Series, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = w.q.ExecContext(ctx, w.rebind(`
		INSERT INTO series (series_uid, study_uid) VALUES (?, ?)
		ON CONFLICT (series_uid) DO NOTHING`),
		series.UID, series.StudyUID,
	)
	if err != nil {
		return catalog.Series{}, Error.Wrap(err)
	}

	var found catalog.Series
	err = w.q.QueryRowContext(ctx, w.rebind(`
		SELECT series_uid, study_uid FROM series WHERE series_uid = ?`), series.UID,
	).Scan(&found.UID, &found.StudyUID)
	if err != nil {
		return catalog.Series{}, Error.Wrap(err)
	}
	return found, nil
}

// FindOrCreateInstance records an instance unless its object uid exists.
func (w *writer) FindOrCreateInstance(ctx context.Context, instance catalog.Instance) (created bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := w.q.ExecContext(ctx, w.rebind(`
		INSERT INTO instances (sop_uid, series_uid, transfer_syntax, path, size)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (sop_uid) DO NOTHING`),
		instance.ObjectUID, instance.SeriesUID, nullable(instance.TransferSyntax), instance.Path, instance.Size,
	)
	if err != nil {
		return false, Error.Wrap(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, Error.Wrap(err)
	}
	return affected > 0, nil
}

// HasInstance returns whether an instance with the object uid exists.
func (db *DB) HasInstance(ctx context.Context, objectUID string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var one int
	err = db.db.QueryRowContext(ctx, db.Rebind(`SELECT 1 FROM instances WHERE sop_uid = ?`), objectUID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

// StudyFiles returns the stored files of a study ordered by path.
func (db *DB) StudyFiles(ctx context.Context, studyUID string) (files []catalog.StudyFile, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, db.Rebind(`
		SELECT i.sop_uid, i.path, i.size
		FROM instances i
		JOIN series se ON se.series_uid = i.series_uid
		WHERE se.study_uid = ?
		ORDER BY i.path`), studyUID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		var file catalog.StudyFile
		if err := rows.Scan(&file.ObjectUID, &file.Path, &file.Size); err != nil {
			return nil, Error.Wrap(err)
		}
		files = append(files, file)
	}
	return files, Error.Wrap(rows.Err())
}
