// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package catalog defines the relational index of patients, studies, series
// and instances.
package catalog

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"storj.io/studyvault/header"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errs.Class("not found")

// Writer contains the idempotent upserts that record an ingested file.
//
// Every operation is a find-or-create: calling it again with the same
// natural key returns the existing record without modifying it.
type Writer interface {
	// UpsertPatient finds or creates the patient with the identity key of
	// the given identity.
	UpsertPatient(ctx context.Context, identity Identity) (Patient, error)
	// FindOrCreateStudy finds or creates a study by its instance uid.
	FindOrCreateStudy(ctx context.Context, study Study) (Study, error)
	// FindOrCreateSeries finds or creates a series by its instance uid.
	FindOrCreateSeries(ctx context.Context, series Series) (Series, error)
	// FindOrCreateInstance records an instance, returning false when an
	// instance with the same object uid already exists.
	FindOrCreateInstance(ctx context.Context, instance Instance) (created bool, err error)
}

// DB is the catalog store.
type DB interface {
	Writer

	// WithTx runs fn in a single transaction. Either every write made through
	// tx becomes visible or none does.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Writer) error) error

	// HasInstance returns whether an instance with the object uid exists.
	HasInstance(ctx context.Context, objectUID string) (bool, error)

	// FindPatients returns the ids of patients matching the normalized name,
	// birth date and, when set, sex of the query.
	FindPatients(ctx context.Context, query Query) ([]int64, error)
	// StudiesForPatients aggregates file counts and byte totals per study for
	// the given patients, largest first. A non-zero year keeps only studies
	// whose date starts with that year.
	StudiesForPatients(ctx context.Context, patients []int64, year int) ([]StudySummary, error)
	// Search combines FindPatients and StudiesForPatients.
	Search(ctx context.Context, query Query) ([]StudySummary, error)
	// StudyFiles returns the stored files of every instance in a study.
	StudyFiles(ctx context.Context, studyUID string) ([]StudyFile, error)

	// MigrateToLatest creates or upgrades the schema.
	MigrateToLatest(ctx context.Context) error
	// Close closes the underlying database.
	Close() error
}

// Patient is a person, deduplicated by identity key.
type Patient struct {
	ID          int64
	IdentityKey string
	PatientID   header.Value
	Name        header.Value
	NameNorm    string
	BirthDate   header.Value
	Sex         header.Value
	Created     time.Time
}

// Study is a single imaging study.
type Study struct {
	UID       string
	PatientID int64
	StudyDate header.Value
	Modality  header.Value
}

// Series is a series within a study.
type Series struct {
	UID      string
	StudyUID string
}

// Instance is a single stored file.
type Instance struct {
	ObjectUID      string
	SeriesUID      string
	TransferSyntax header.Value
	Path           string
	Size           int64
}

// StudySummary is the aggregate of the files and bytes of a study.
type StudySummary struct {
	StudyUID   string `json:"study_uid"`
	StudyDate  string `json:"study_date"`
	Files      int64  `json:"files"`
	TotalBytes int64  `json:"bytes"`
}

// StudyFile is a stored file that belongs to a study.
type StudyFile struct {
	ObjectUID string
	Path      string
	Size      int64
}

// Query selects patients by their identifying fields.
type Query struct {
	// Name is the raw name; it is normalized before matching.
	Name      string
	BirthDate string
	// Sex restricts the match when not empty.
	Sex string
	// Year restricts studies to a study date year when not zero.
	Year int
}
