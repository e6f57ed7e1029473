// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package header defines how imaging files expose their identifying
// header fields to the rest of the system.
package header

import (
	"context"

	"github.com/zeebo/errs"
)

var (
	// ErrNotDICOM is returned when a file is not a recognized imaging container.
	ErrNotDICOM = errs.Class("not a dicom file")
	// ErrRead is returned when a recognized file could not be read.
	ErrRead = errs.Class("header read")
)

// Reader reads the bounded set of header fields from a file.
//
// Implementations must not read bulk payload data.
type Reader interface {
	ReadTags(ctx context.Context, path string) (Tags, error)
}

// Value is a header field value that distinguishes an absent field from a
// field that is present with empty content.
type Value struct {
	text    string
	present bool
}

// Present returns a value for a field that exists in the header.
func Present(text string) Value { return Value{text: text, present: true} }

// Missing returns a value for a field that is absent from the header.
func Missing() Value { return Value{} }

// Get returns the text and whether the field was present.
func (v Value) Get() (string, bool) { return v.text, v.present }

// String returns the text of the value, or "" when it is missing.
func (v Value) String() string { return v.text }

// IsMissing returns true when the field was absent.
func (v Value) IsMissing() bool { return !v.present }

// IsBlank returns true when the field is absent or present but empty.
func (v Value) IsBlank() bool { return !v.present || v.text == "" }

// Tags contains the identifying fields of a single file.
type Tags struct {
	StudyInstanceUID  Value
	SeriesInstanceUID Value
	SOPInstanceUID    Value

	PatientID        Value
	PatientName      Value
	PatientBirthDate Value
	PatientSex       Value

	StudyDate         Value
	Modality          Value
	TransferSyntaxUID Value
}

// MissingRequired returns the names of the required identifiers that are
// absent or empty.
func (tags *Tags) MissingRequired() []string {
	var missing []string
	if tags.StudyInstanceUID.IsBlank() {
		missing = append(missing, "StudyInstanceUID")
	}
	if tags.SeriesInstanceUID.IsBlank() {
		missing = append(missing, "SeriesInstanceUID")
	}
	if tags.SOPInstanceUID.IsBlank() {
		missing = append(missing, "SOPInstanceUID")
	}
	return missing
}
