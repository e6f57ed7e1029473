// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ingest

import (
	"fmt"
	"strings"
)

// Outcome is the classification of a single ingested file.
type Outcome string

const (
	// Added means the file was stored and catalogued.
	Added Outcome = "added"
	// SkippedDuplicate means an instance with the same object uid exists.
	SkippedDuplicate Outcome = "skipped_duplicate"
	// InvalidFormat means the file is not a recognized imaging container.
	InvalidFormat Outcome = "invalid_format"
	// MissingRequiredTags means a study, series or object uid is absent or empty.
	MissingRequiredTags Outcome = "missing_required_tags"
	// ReadError means the file could not be read.
	ReadError Outcome = "read_error"
	// InvalidIdentifier means an identifier cannot be used in a path.
	InvalidIdentifier Outcome = "invalid_identifier"
	// StoreError means copying into the store failed.
	StoreError Outcome = "store_error"
	// CatalogError means recording the file in the catalog failed.
	CatalogError Outcome = "catalog_error"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{
	Added, SkippedDuplicate, InvalidFormat, MissingRequiredTags,
	ReadError, InvalidIdentifier, StoreError, CatalogError,
}

// Summary counts the outcomes of a run.
type Summary map[Outcome]int64

// Total returns the number of files seen.
func (summary Summary) Total() int64 {
	var total int64
	for _, n := range summary {
		total += n
	}
	return total
}

// Failed returns the number of files that hit a store or catalog failure.
func (summary Summary) Failed() int64 {
	return summary[StoreError] + summary[CatalogError]
}

// String formats the counts in reporting order.
func (summary Summary) String() string {
	parts := make([]string, 0, len(Outcomes))
	for _, outcome := range Outcomes {
		parts = append(parts, fmt.Sprintf("%s=%d", outcome, summary[outcome]))
	}
	return strings.Join(parts, " ")
}

// String implements fmt.Stringer.
func (outcome Outcome) String() string { return string(outcome) }
