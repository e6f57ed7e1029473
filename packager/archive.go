// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packager

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/errs"

	"storj.io/common/sync2"
)

// ManifestName is the name of the manifest member at the archive root.
const ManifestName = "manifest.json"

// ManifestVersion is the version of the manifest format.
const ManifestVersion = "1"

// Manifest lists the members of an archive.
type Manifest struct {
	Version   string          `json:"version"`
	Generated int64           `json:"generated"`
	Files     []ManifestEntry `json:"files"`
}

// ManifestEntry describes one member as it was when the archive was built.
type ManifestEntry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
}

// Member is a file to include in an archive.
type Member struct {
	// Name is the name of the member below the study folder.
	Name string
	// Path is the location of the file.
	Path string
}

// writeTar writes the members under a folder named key, followed by the
// manifest, to w.
func writeTar(ctx context.Context, w io.Writer, key string, members []Member, now time.Time) (_ Manifest, err error) {
	tw := tar.NewWriter(w)

	manifest := Manifest{
		Version:   ManifestVersion,
		Generated: now.Unix(),
		Files:     make([]ManifestEntry, 0, len(members)),
	}

	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}

		name := path.Join(key, member.Name)
		entry, err := writeMember(ctx, tw, name, member.Path)
		if err != nil {
			return Manifest{}, err
		}
		manifest.Files = append(manifest.Files, entry)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, err
	}
	err = tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     ManifestName,
		Size:     int64(len(data)),
		Mode:     0644,
		ModTime:  now,
	})
	if err != nil {
		return Manifest{}, err
	}
	if _, err := tw.Write(data); err != nil {
		return Manifest{}, err
	}

	return manifest, tw.Close()
}

// writeMember copies exactly the size observed when the member was opened.
func writeMember(ctx context.Context, tw *tar.Writer, name, source string) (_ ManifestEntry, err error) {
	file, err := os.Open(source)
	if err != nil {
		return ManifestEntry{}, err
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	info, err := file.Stat()
	if err != nil {
		return ManifestEntry{}, err
	}
	if !info.Mode().IsRegular() {
		return ManifestEntry{}, Error.New("%s is not a regular file", source)
	}

	err = tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     info.Size(),
		Mode:     0644,
		ModTime:  info.ModTime(),
	})
	if err != nil {
		return ManifestEntry{}, err
	}

	n, err := sync2.Copy(ctx, tw, io.LimitReader(file, info.Size()))
	if err != nil {
		return ManifestEntry{}, err
	}
	if n != info.Size() {
		return ManifestEntry{}, Error.New("%s changed size while archiving: expected %d bytes, read %d", source, info.Size(), n)
	}

	return ManifestEntry{
		Path:  name,
		Size:  info.Size(),
		MTime: info.ModTime().Unix(),
	}, nil
}

// compress streams src into dst through a zstd encoder.
func compress(ctx context.Context, dst io.Writer, src io.Reader, level zstd.EncoderLevel) (err error) {
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(level))
	if err != nil {
		return err
	}
	if _, err := sync2.Copy(ctx, enc, src); err != nil {
		return errs.Combine(err, enc.Close())
	}
	return enc.Close()
}

// ReadManifest reads the manifest of the archive at archivePath.
func ReadManifest(archivePath string) (_ Manifest, err error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return Manifest{}, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(file.Close())) }()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return Manifest{}, Error.Wrap(err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return Manifest{}, Error.New("%s: manifest not found", archivePath)
		}
		if err != nil {
			return Manifest{}, Error.Wrap(err)
		}
		if hdr.Name != ManifestName {
			continue
		}

		var manifest Manifest
		if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
			return Manifest{}, Error.Wrap(err)
		}
		return manifest, nil
	}
}
