// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package catalogdb

import (
	"context"

	"storj.io/studyvault/private/migrate"
)

// VersionTable is the table that stores the schema version.
const VersionTable = "versions"

// MigrateToLatest creates or upgrades the catalog schema.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	migration := db.Migration()
	if err := migration.Run(ctx, db.log.Named("migration")); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(migration.ValidateVersions(ctx, db.log))
}

// Migration returns the catalog migration steps.
func (db *DB) Migration() *migrate.Migration {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	return &migrate.Migration{
		Table: VersionTable,
		Steps: []*migrate.Step{
			{
				DB:          db,
				Description: "Initial setup",
				Version:     0,
				Action: migrate.SQL{
					`CREATE TABLE patients (
						id ` + serial + `,
						identity_key TEXT NOT NULL UNIQUE,
						patient_id TEXT,
						name TEXT,
						name_norm TEXT NOT NULL,
						birth_date TEXT,
						sex TEXT,
						created_at TIMESTAMP NOT NULL
					)`,
					`CREATE INDEX patients_lookup_index ON patients (name_norm, birth_date)`,
					`CREATE TABLE studies (
						study_uid TEXT PRIMARY KEY,
						patient_ref BIGINT NOT NULL REFERENCES patients (id),
						study_date TEXT,
						modality TEXT
					)`,
					`CREATE INDEX studies_patient_index ON studies (patient_ref)`,
					`CREATE TABLE series (
						series_uid TEXT PRIMARY KEY,
						study_uid TEXT NOT NULL REFERENCES studies (study_uid)
					)`,
					`CREATE INDEX series_study_index ON series (study_uid)`,
					`CREATE TABLE instances (
						sop_uid TEXT PRIMARY KEY,
						series_uid TEXT NOT NULL REFERENCES series (series_uid),
						transfer_syntax TEXT,
						path TEXT NOT NULL UNIQUE,
						size BIGINT NOT NULL
					)`,
					`CREATE INDEX instances_series_index ON instances (series_uid)`,
				},
			},
		},
	}
}
