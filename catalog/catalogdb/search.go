// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/zeebo/errs"

	"storj.io/studyvault/catalog"
)

// StudiesForPatients aggregates the studies of the patients, largest first.
func (db *DB) StudiesForPatients(ctx context.Context, patients []int64, year int) (summaries []catalog.StudySummary, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(patients) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(patients)+1)
	for _, id := range patients {
		args = append(args, id)
	}

	query := `
		SELECT s.study_uid, s.study_date, COUNT(DISTINCT i.sop_uid) AS files, CAST(SUM(i.size) AS BIGINT) AS total_bytes
		FROM studies s
		JOIN series se ON se.study_uid = s.study_uid
		JOIN instances i ON i.series_uid = se.series_uid
		WHERE s.patient_ref IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(patients)), ", ") + `)`
	if year != 0 {
		query += ` AND s.study_date LIKE ?`
		args = append(args, fmt.Sprintf("%04d%%", year))
	}
	query += `
		GROUP BY s.study_uid, s.study_date
		ORDER BY total_bytes DESC, s.study_uid ASC`

	rows, err := db.db.QueryContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		var (
			summary   catalog.StudySummary
			studyDate sql.NullString
		)
		if err := rows.Scan(&summary.StudyUID, &studyDate, &summary.Files, &summary.TotalBytes); err != nil {
			return nil, Error.Wrap(err)
		}
		summary.StudyDate = studyDate.String
		summaries = append(summaries, summary)
	}
	return summaries, Error.Wrap(rows.Err())
}

// Search finds the patients matching query and aggregates their studies.
func (db *DB) Search(ctx context.Context, query catalog.Query) (_ []catalog.StudySummary, err error) {
	defer mon.Task()(&ctx)(&err)

	patients, err := db.FindPatients(ctx, query)
	if err != nil {
		return nil, err
	}
	return db.StudiesForPatients(ctx, patients, query.Year)
}
