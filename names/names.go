// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package names implements the folding used to compare person names
// recorded by different imaging devices.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// componentSeparator separates family, given and middle name components in
// person name values.
const componentSeparator = "^"

// maxFoldPasses bounds how often folding is repeated until the text no
// longer changes.
const maxFoldPasses = 4

// Normalize folds a raw person name into its comparison form.
//
// The text is decomposed into its compatibility form with combining marks
// removed and lowercased, component separators become spaces, and
// whitespace is trimmed and collapsed to single spaces. Normalize is
// idempotent and never fails; an empty input yields an empty output.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	s := raw
	for range maxFoldPasses {
		next := fold(s)
		if next == s {
			break
		}
		s = next
	}

	s = strings.ReplaceAll(s, componentSeparator, " ")
	return strings.Join(strings.Fields(s), " ")
}

// fold runs one decomposition and lowercasing pass. Lowercasing can
// introduce combining marks (for example a dotted capital I), so the marks
// are removed once more afterwards.
func fold(s string) string {
	// transformers keep state, so a fresh chain is needed per call.
	folder := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		cases.Lower(language.Und),
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
	)
	folded, _, err := transform.String(folder, s)
	if err != nil {
		// invalid input cannot stop comparison; fall back to plain lowercasing.
		return strings.ToLower(s)
	}
	return folded
}

// Equal reports whether two raw names refer to the same person name after
// normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
