// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package header_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/studyvault/header"
)

func TestValue(t *testing.T) {
	missing := header.Missing()
	require.True(t, missing.IsMissing())
	require.True(t, missing.IsBlank())

	empty := header.Present("")
	require.False(t, empty.IsMissing())
	require.True(t, empty.IsBlank())
	require.NotEqual(t, missing, empty)

	text, ok := header.Present("M").Get()
	require.True(t, ok)
	require.Equal(t, "M", text)
}

func TestMissingRequired(t *testing.T) {
	tags := header.Tags{
		StudyInstanceUID:  header.Present("1.2.3"),
		SeriesInstanceUID: header.Present(""),
	}
	require.Equal(t, []string{"SeriesInstanceUID", "SOPInstanceUID"}, tags.MissingRequired())

	tags.SeriesInstanceUID = header.Present("1.2.3.4")
	tags.SOPInstanceUID = header.Present("1.2.3.4.5")
	require.Empty(t, tags.MissingRequired())
}
