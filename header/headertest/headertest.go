// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package headertest provides a small self-describing file format with a
// matching header reader, for tests that need many distinct imaging files.
package headertest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"

	"storj.io/studyvault/header"
)

// magic is the first line of every test file.
const magic = "STUDYVAULT-TEST\n"

// Reader reads files written by Write.
type Reader struct{}

var _ header.Reader = Reader{}

type fields struct {
	Study          *string `json:"study,omitempty"`
	Series         *string `json:"series,omitempty"`
	Object         *string `json:"object,omitempty"`
	PatientID      *string `json:"patient_id,omitempty"`
	PatientName    *string `json:"patient_name,omitempty"`
	BirthDate      *string `json:"birth_date,omitempty"`
	Sex            *string `json:"sex,omitempty"`
	StudyDate      *string `json:"study_date,omitempty"`
	Modality       *string `json:"modality,omitempty"`
	TransferSyntax *string `json:"transfer_syntax,omitempty"`
}

// Write writes a test file with the given tags followed by payload.
func Write(path string, tags header.Tags, payload []byte) error {
	data, err := json.Marshal(fields{
		Study:          ptr(tags.StudyInstanceUID),
		Series:         ptr(tags.SeriesInstanceUID),
		Object:         ptr(tags.SOPInstanceUID),
		PatientID:      ptr(tags.PatientID),
		PatientName:    ptr(tags.PatientName),
		BirthDate:      ptr(tags.PatientBirthDate),
		Sex:            ptr(tags.PatientSex),
		StudyDate:      ptr(tags.StudyDate),
		Modality:       ptr(tags.Modality),
		TransferSyntax: ptr(tags.TransferSyntaxUID),
	})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write(data)
	buf.WriteByte('\n')
	buf.Write(payload)
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// ReadTags implements header.Reader.
func (Reader) ReadTags(ctx context.Context, path string) (header.Tags, error) {
	if err := ctx.Err(); err != nil {
		return header.Tags{}, err
	}

	file, err := os.Open(path)
	if err != nil {
		return header.Tags{}, header.ErrRead.Wrap(err)
	}
	defer func() { _ = file.Close() }()

	r := bufio.NewReader(file)
	first, err := r.ReadString('\n')
	if err != nil || first != magic {
		return header.Tags{}, header.ErrNotDICOM.New("%s", path)
	}

	line, err := r.ReadBytes('\n')
	if err != nil {
		return header.Tags{}, header.ErrRead.Wrap(err)
	}

	var f fields
	if err := json.Unmarshal(line, &f); err != nil {
		return header.Tags{}, header.ErrRead.Wrap(err)
	}

	return header.Tags{
		StudyInstanceUID:  value(f.Study),
		SeriesInstanceUID: value(f.Series),
		SOPInstanceUID:    value(f.Object),
		PatientID:         value(f.PatientID),
		PatientName:       value(f.PatientName),
		PatientBirthDate:  value(f.BirthDate),
		PatientSex:        value(f.Sex),
		StudyDate:         value(f.StudyDate),
		Modality:          value(f.Modality),
		TransferSyntaxUID: value(f.TransferSyntax),
	}, nil
}

// Instance returns tags for a complete file of the given patient and study.
func Instance(name, birthDate, study, series, object string) header.Tags {
	return header.Tags{
		StudyInstanceUID:  header.Present(study),
		SeriesInstanceUID: header.Present(series),
		SOPInstanceUID:    header.Present(object),
		PatientID:         header.Present("PID-" + name),
		PatientName:       header.Present(name),
		PatientBirthDate:  header.Present(birthDate),
		PatientSex:        header.Present(""),
		StudyDate:         header.Present("20240101"),
		Modality:          header.Present("CT"),
		TransferSyntaxUID: header.Present("1.2.840.10008.1.2.1"),
	}
}

func ptr(v header.Value) *string {
	text, ok := v.Get()
	if !ok {
		return nil
	}
	return &text
}

func value(s *string) header.Value {
	if s == nil {
		return header.Missing()
	}
	return header.Present(*s)
}
