// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"strings"

	"github.com/zeebo/errs"

	"storj.io/studyvault/header"
	"storj.io/studyvault/names"
)

// IdentityMode selects which fields make two patients the same person.
type IdentityMode string

const (
	// IdentityNameBirthDate matches on normalized name and birth date.
	IdentityNameBirthDate IdentityMode = "name-dob"
	// IdentityStrict additionally requires equal patient ids.
	IdentityStrict IdentityMode = "id-name-dob"
)

// ParseIdentityMode parses a configured identity mode.
func ParseIdentityMode(s string) (IdentityMode, error) {
	switch mode := IdentityMode(s); mode {
	case IdentityNameBirthDate, IdentityStrict:
		return mode, nil
	case "":
		return IdentityNameBirthDate, nil
	default:
		return "", errs.New("unknown identity mode %q", s)
	}
}

// Identity holds the patient fields of a file header.
type Identity struct {
	PatientID header.Value
	Name      header.Value
	BirthDate header.Value
	Sex       header.Value
}

// IdentityFromTags extracts the patient identity of a file.
func IdentityFromTags(tags header.Tags) Identity {
	return Identity{
		PatientID: tags.PatientID,
		Name:      tags.PatientName,
		BirthDate: tags.PatientBirthDate,
		Sex:       tags.PatientSex,
	}
}

// NameNorm returns the normalized name of the identity.
func (identity Identity) NameNorm() string {
	return names.Normalize(identity.Name.String())
}

// Key returns the identity key used to deduplicate patients. Missing and empty
// fields produce different keys.
func (identity Identity) Key(mode IdentityMode) string {
	var b strings.Builder
	writeKeyPart(&b, identity.Name, identity.NameNorm())
	b.WriteByte('|')
	writeKeyPart(&b, identity.BirthDate, identity.BirthDate.String())
	if mode == IdentityStrict {
		b.WriteByte('|')
		writeKeyPart(&b, identity.PatientID, identity.PatientID.String())
	}
	return b.String()
}

func writeKeyPart(b *strings.Builder, v header.Value, text string) {
	if v.IsMissing() {
		b.WriteByte('!')
		return
	}
	b.WriteByte('=')
	// escape the separators so that parts cannot bleed into each other.
	b.WriteString(strings.NewReplacer(`\`, `\\`, `|`, `\|`).Replace(text))
}
