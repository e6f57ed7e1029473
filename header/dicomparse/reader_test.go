// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dicomparse_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/studyvault/header"
	"storj.io/studyvault/header/dicomparse"
)

func TestReadTagsRejectsUnknownContainers(t *testing.T) {
	ctx := testcontext.New(t)
	reader := dicomparse.New()

	short := ctx.File("short.bin")
	require.NoError(t, writeFile(short, []byte("hello")))
	_, err := reader.ReadTags(ctx, short)
	require.True(t, header.ErrNotDICOM.Has(err), err)

	noMagic := ctx.File("random.bin")
	require.NoError(t, writeFile(noMagic, testrand.BytesInt(4096)))
	_, err = reader.ReadTags(ctx, noMagic)
	require.True(t, header.ErrNotDICOM.Has(err), err)
}

func TestReadTagsMissingFile(t *testing.T) {
	ctx := testcontext.New(t)

	_, err := dicomparse.New().ReadTags(ctx, filepath.Join(ctx.Dir(), "missing.dcm"))
	require.Error(t, err)
	require.True(t, header.ErrRead.Has(err), err)
	require.False(t, header.ErrNotDICOM.Has(err))
}
