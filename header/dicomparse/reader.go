// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package dicomparse reads header fields from DICOM part 10 files.
package dicomparse

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"storj.io/studyvault/header"
)

var mon = monkit.Package()

const (
	preambleSize = 128
	magicWord    = "DICM"
)

// Reader reads tags with github.com/suyashkumar/dicom, skipping pixel data.
type Reader struct{}

var _ header.Reader = Reader{}

// New returns a header reader for DICOM part 10 files.
func New() Reader { return Reader{} }

// ReadTags reads the identifying fields of the file at path.
func (Reader) ReadTags(ctx context.Context, path string) (_ header.Tags, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ctx.Err(); err != nil {
		return header.Tags{}, err
	}

	if err := checkPreamble(path); err != nil {
		return header.Tags{}, err
	}

	ds, err := parse(path)
	if err != nil {
		return header.Tags{}, header.ErrRead.Wrap(err)
	}

	return header.Tags{
		StudyInstanceUID:  find(&ds, tag.StudyInstanceUID),
		SeriesInstanceUID: find(&ds, tag.SeriesInstanceUID),
		SOPInstanceUID:    find(&ds, tag.SOPInstanceUID),

		PatientID:        find(&ds, tag.PatientID),
		PatientName:      find(&ds, tag.PatientName),
		PatientBirthDate: find(&ds, tag.PatientBirthDate),
		PatientSex:       find(&ds, tag.PatientSex),

		StudyDate:         find(&ds, tag.StudyDate),
		Modality:          find(&ds, tag.Modality),
		TransferSyntaxUID: find(&ds, tag.TransferSyntaxUID),
	}, nil
}

// checkPreamble verifies the part 10 magic word follows the preamble.
func checkPreamble(path string) (err error) {
	file, err := os.Open(path)
	if err != nil {
		return header.ErrRead.Wrap(err)
	}
	defer func() { _ = file.Close() }()

	buf, err := bufio.NewReaderSize(file, preambleSize+len(magicWord)).Peek(preambleSize + len(magicWord))
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, bufio.ErrBufferFull):
		return header.ErrNotDICOM.New("%s: file too short", path)
	case err != nil:
		return header.ErrRead.Wrap(err)
	}
	if string(buf[preambleSize:]) != magicWord {
		return header.ErrNotDICOM.New("%s: magic word not found", path)
	}
	return nil
}

// parse runs the parser, turning parser panics on malformed input into errors.
func parse(path string) (ds dicom.Dataset, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = header.ErrRead.New("malformed dataset: %v", r)
		}
	}()
	return dicom.ParseFile(path, nil, dicom.SkipPixelData())
}

func find(ds *dicom.Dataset, t tag.Tag) header.Value {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return header.Missing()
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok {
		return header.Missing()
	}
	return header.Present(strings.TrimRight(strings.Join(values, `\`), " \x00"))
}
