// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"storj.io/studyvault/catalog"
	"storj.io/studyvault/header"
)

// writer implements catalog.Writer over a database or a transaction.
type writer struct {
	q      querier
	rebind func(string) string
	mode   catalog.IdentityMode
	now    func() time.Time
}

var _ catalog.Writer = (*writer)(nil)

// UpsertPatient finds or creates a patient by identity key and fills in a
// missing or empty sex once. The name is part of the identity key, so it is
// fixed when the patient is created.
func (w *writer) UpsertPatient(ctx context.Context, identity catalog.Identity) (_ catalog.Patient, err error) {
	defer mon.Task()(&ctx)(&err)

	key := identity.Key(w.mode)

	_, err = w.q.ExecContext(ctx, w.rebind(`
		INSERT INTO patients (identity_key, patient_id, name, name_norm, birth_date, sex, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity_key) DO NOTHING`),
		key, nullable(identity.PatientID), nullable(identity.Name), identity.NameNorm(),
		nullable(identity.BirthDate), nullable(identity.Sex), w.now().UTC(),
	)
	if err != nil {
		return catalog.Patient{}, Error.Wrap(err)
	}

	patient, err := w.patientByKey(ctx, key)
	if err != nil {
		return catalog.Patient{}, err
	}

	if !patient.Sex.IsBlank() || identity.Sex.IsBlank() {
		return patient, nil
	}

	_, err = w.q.ExecContext(ctx, w.rebind(`
		UPDATE patients SET sex = ? WHERE id = ? AND (sex IS NULL OR sex = '')`),
		identity.Sex.String(), patient.ID)
	if err != nil {
		return catalog.Patient{}, Error.Wrap(err)
	}

	// a concurrent writer may have filled the field first.
	return w.patientByKey(ctx, key)
}

func (w *writer) patientByKey(ctx context.Context, key string) (catalog.Patient, error) {
	var (
		patient                         catalog.Patient
		patientID, name, birthDate, sex sql.NullString
	)
	err := w.q.QueryRowContext(ctx, w.rebind(`
		SELECT id, identity_key, patient_id, name, name_norm, birth_date, sex, created_at
		FROM patients WHERE identity_key = ?`), key,
	).Scan(&patient.ID, &patient.IdentityKey, &patientID, &name, &patient.NameNorm, &birthDate, &sex, &patient.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Patient{}, catalog.ErrNotFound.New("patient %q", key)
	}
	if err != nil {
		return catalog.Patient{}, Error.Wrap(err)
	}

	patient.PatientID = value(patientID)
	patient.Name = value(name)
	patient.BirthDate = value(birthDate)
	patient.Sex = value(sex)
	return patient, nil
}

// FindPatients returns the ids of patients matching the query.
func (db *DB) FindPatients(ctx context.Context, query catalog.Query) (ids []int64, err error) {
	defer mon.Task()(&ctx)(&err)

	stmt := `SELECT id FROM patients WHERE name_norm = ? AND birth_date = ?`
	args := []any{catalog.Identity{Name: header.Present(query.Name)}.NameNorm(), query.BirthDate}
	if query.Sex != "" {
		stmt += ` AND sex = ?`
		args = append(args, query.Sex)
	}
	stmt += ` ORDER BY id`

	rows, err := db.db.QueryContext(ctx, db.Rebind(stmt), args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, Error.Wrap(err)
		}
		ids = append(ids, id)
	}
	return ids, Error.Wrap(rows.Err())
}

func nullable(v header.Value) sql.NullString {
	text, ok := v.Get()
	return sql.NullString{String: text, Valid: ok}
}

func value(ns sql.NullString) header.Value {
	if !ns.Valid {
		return header.Missing()
	}
	return header.Present(ns.String)
}
