// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package packager builds compressed study archives and caches them on disk.
package packager

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	mon = monkit.Package()

	// Error is the default packager errs class.
	Error = errs.Class("packager")
	// ErrInvalidKey is returned for keys that cannot be used as file names.
	ErrInvalidKey = errs.Class("invalid package key")
	// ErrNoMembers is returned when a package would contain no files.
	ErrNoMembers = errs.Class("no package members")
	// ErrNotCached is returned when a package has not been built yet.
	ErrNotCached = errs.Class("package not cached")
	// ErrClosed is returned for requests made after Close.
	ErrClosed = errs.Class("package cache closed")
)

const (
	// Extension is the file extension of cached archives.
	Extension = ".tar.zst"
	// ContentType is the media type of cached archives.
	ContentType = "application/zstd"
	// Format describes the container and compression of cached archives.
	Format = "tar+zstd"

	tempDirName = ".tmp"
)

// Config configures the package cache.
type Config struct {
	Dir              string `help:"directory for cached study packages" default:"$CONFDIR/packages"`
	CompressionLevel int    `help:"zstd compression level" default:"6"`
	Concurrency      int    `help:"maximum number of concurrent package builds, 0 means number of CPUs" default:"0"`
}

// Package is a cached archive ready to be served.
type Package struct {
	Path        string
	Filename    string
	ContentType string
	Format      string
	Size        int64
	ModTime     time.Time
}

// Cache builds each package at most once and serves it from disk afterwards.
//
// Concurrent requests for the same key share one build. A build is
// canceled when every request waiting for it has gone away.
type Cache struct {
	log   *zap.Logger
	dir   string
	level zstd.EncoderLevel
	sem   *semaphore.Weighted

	// ctx is canceled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	flights map[string]*flight

	// onBuild is called before a build starts, for tests.
	onBuild func(ctx context.Context, key string)
}

// flight is a single in-progress build.
type flight struct {
	done    chan struct{}
	pkg     Package
	err     error
	waiters int
	cancel  context.CancelFunc
}

// NewCache opens the cache in config.Dir, removing temporary files left
// behind by builds that did not finish.
func NewCache(log *zap.Logger, config Config) (*Cache, error) {
	if config.Dir == "" {
		return nil, Error.New("cache directory not configured")
	}

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	level := config.CompressionLevel
	if level <= 0 {
		level = 6
	}

	cache := &Cache{
		log:     log,
		dir:     config.Dir,
		level:   zstd.EncoderLevelFromZstd(level),
		sem:     semaphore.NewWeighted(int64(concurrency)),
		flights: map[string]*flight{},
	}
	cache.ctx, cache.cancel = context.WithCancel(context.Background())

	if err := os.MkdirAll(cache.tempdir(), 0755); err != nil {
		return nil, Error.Wrap(err)
	}
	if err := removeAllContent(cache.tempdir()); err != nil {
		log.Warn("unable to remove leftover temporary files", zap.Error(err))
	}
	return cache, nil
}

func (cache *Cache) tempdir() string { return filepath.Join(cache.dir, tempDirName) }

// Path returns the canonical location of the package for key.
func (cache *Cache) Path(key string) string {
	return filepath.Join(cache.dir, key+Extension)
}

// ValidateKey checks that key can be used as a file name.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return ErrInvalidKey.New("empty key")
	case key == "." || key == ".." || strings.HasPrefix(key, "."):
		return ErrInvalidKey.New("%q", key)
	case strings.ContainsAny(key, "/\\\x00"):
		return ErrInvalidKey.New("%q contains a path separator", key)
	}
	return nil
}

// StudyMembers names each file by its base name. Files sharing a base name
// are prefixed with their parent directory, and a numeric suffix is added
// when that is still ambiguous, so every path gets exactly one member.
func StudyMembers(paths []string) []Member {
	count := make(map[string]int, len(paths))
	for _, p := range paths {
		count[filepath.Base(p)]++
	}

	used := make(map[string]bool, len(paths))
	for base, n := range count {
		if n == 1 {
			used[base] = true
		}
	}

	members := make([]Member, 0, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		if count[name] > 1 {
			if parent := filepath.Base(filepath.Dir(p)); parent != "." && parent != ".." && !strings.ContainsAny(parent, "/\\") {
				name = parent + "_" + name
			}
			name = uniqueName(used, name)
			used[name] = true
		}
		members = append(members, Member{Name: name, Path: p})
	}
	return members
}

// uniqueName returns name, or name with a numeric suffix before its
// extension when name is already taken.
func uniqueName(used map[string]bool, name string) string {
	if !used[name] {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := stem + "-" + strconv.Itoa(i) + ext
		if !used[candidate] {
			return candidate
		}
	}
}

// BuildOrFetch returns the package for key, building it from members when it
// is not cached. An existing package is returned without inspecting members.
func (cache *Cache) BuildOrFetch(ctx context.Context, key string, members []Member) (_ Package, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return Package{}, err
	}

	if pkg, ok, err := cache.lookup(key); err != nil || ok {
		if ok {
			mon.Counter("package_cache_hit").Inc(1)
		}
		return pkg, err
	}

	if len(members) == 0 {
		return Package{}, ErrNoMembers.New("%s", key)
	}
	if err := checkMembers(members); err != nil {
		return Package{}, err
	}

	f, err := cache.join(key, members)
	if err != nil {
		return Package{}, err
	}

	select {
	case <-f.done:
		return f.pkg, f.err
	case <-ctx.Done():
		cache.leave(key, f)
		return Package{}, ctx.Err()
	}
}

// join registers the caller as a waiter of the flight for key, starting a
// build when there is none.
func (cache *Cache) join(key string, members []Member) (*flight, error) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if err := cache.ctx.Err(); err != nil {
		return nil, ErrClosed.Wrap(err)
	}

	f, ok := cache.flights[key]
	if !ok {
		var buildCtx context.Context
		f = &flight{done: make(chan struct{})}
		buildCtx, f.cancel = context.WithCancel(cache.ctx)
		cache.flights[key] = f

		cache.wg.Add(1)
		go cache.run(buildCtx, key, members, f)
	}
	f.waiters++
	return f, nil
}

// leave drops a waiter, canceling the build when no waiters remain.
func (cache *Cache) leave(key string, f *flight) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	// later requests must start a fresh build.
	if cache.flights[key] == f {
		delete(cache.flights, key)
	}
}

func (cache *Cache) run(ctx context.Context, key string, members []Member, f *flight) {
	defer cache.wg.Done()
	defer close(f.done)
	defer func() {
		cache.mu.Lock()
		if cache.flights[key] == f {
			delete(cache.flights, key)
		}
		cache.mu.Unlock()
		f.cancel()
	}()

	f.pkg, f.err = cache.buildOnce(ctx, key, members)
	if f.err != nil && !errors.Is(f.err, context.Canceled) {
		cache.log.Error("package build failed", zap.String("key", key), zap.Error(f.err))
	}
}

func (cache *Cache) buildOnce(ctx context.Context, key string, members []Member) (_ Package, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := cache.sem.Acquire(ctx, 1); err != nil {
		return Package{}, err
	}
	defer cache.sem.Release(1)

	// an earlier flight may have finished while this one was starting.
	if pkg, ok, err := cache.lookup(key); err != nil || ok {
		return pkg, err
	}

	if cache.onBuild != nil {
		cache.onBuild(ctx, key)
	}

	start := time.Now()
	if err := cache.build(ctx, key, members); err != nil {
		return Package{}, err
	}

	pkg, ok, err := cache.lookup(key)
	if err != nil {
		return Package{}, err
	}
	if !ok {
		return Package{}, Error.New("%s: package missing after build", key)
	}

	mon.Counter("package_build").Inc(1)
	mon.IntVal("package_bytes").Observe(pkg.Size)
	cache.log.Info("package built",
		zap.String("key", key),
		zap.Int("files", len(members)),
		zap.Int64("bytes", pkg.Size),
		zap.Duration("duration", time.Since(start)))
	return pkg, nil
}

// build writes the archive to temporary files and publishes it at the
// canonical path. Temporary files are removed on every exit path.
func (cache *Cache) build(ctx context.Context, key string, members []Member) (err error) {
	tarFile, err := os.CreateTemp(cache.tempdir(), key+"-*.tar")
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, discard(tarFile)) }()

	if _, err := writeTar(ctx, tarFile, key, members, time.Now()); err != nil {
		return Error.Wrap(err)
	}
	if _, err := tarFile.Seek(0, 0); err != nil {
		return Error.Wrap(err)
	}

	zstFile, err := os.CreateTemp(cache.tempdir(), key+"-*"+Extension)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, discard(zstFile)) }()

	if err := compress(ctx, zstFile, tarFile, cache.level); err != nil {
		return Error.Wrap(err)
	}

	// the uncompressed copy is no longer needed.
	if err := discard(tarFile); err != nil {
		return Error.Wrap(err)
	}

	if err := zstFile.Sync(); err != nil {
		return Error.Wrap(err)
	}
	if err := zstFile.Close(); err != nil {
		return Error.Wrap(err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// linking fails when the package exists, so a published package is
	// never replaced by a concurrent build.
	err = os.Link(zstFile.Name(), cache.Path(key))
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	return Error.Wrap(err)
}

// lookup returns the cached package for key when it exists.
func (cache *Cache) lookup(key string) (Package, bool, error) {
	location := cache.Path(key)
	info, err := os.Stat(location)
	if errors.Is(err, fs.ErrNotExist) {
		return Package{}, false, nil
	}
	if err != nil {
		return Package{}, false, Error.Wrap(err)
	}
	return Package{
		Path:        location,
		Filename:    key + Extension,
		ContentType: ContentType,
		Format:      Format,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, true, nil
}

// Stale reports whether the cached package for key no longer matches the
// current sizes and set of members.
func (cache *Cache) Stale(ctx context.Context, key string, members []Member) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return false, err
	}
	pkg, ok, err := cache.lookup(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotCached.New("%s", key)
	}

	manifest, err := ReadManifest(pkg.Path)
	if err != nil {
		return false, err
	}

	archived := make(map[string]int64, len(manifest.Files))
	for _, entry := range manifest.Files {
		archived[entry.Path] = entry.Size
	}
	if len(archived) != len(members) {
		return true, nil
	}
	for _, member := range members {
		size, ok := archived[path.Join(key, member.Name)]
		if !ok {
			return true, nil
		}
		info, err := os.Stat(member.Path)
		if err != nil || info.Size() != size {
			return true, nil
		}
	}
	return false, nil
}

// Close cancels running builds and waits for them to clean up.
func (cache *Cache) Close() error {
	cache.cancel()
	cache.wg.Wait()
	return nil
}

func checkMembers(members []Member) error {
	seen := make(map[string]struct{}, len(members))
	for _, member := range members {
		if member.Name == "" || member.Name == "." || member.Name == ".." || strings.ContainsAny(member.Name, "/\\\x00") {
			return Error.New("invalid member name %q", member.Name)
		}
		if _, ok := seen[member.Name]; ok {
			return Error.New("duplicate member name %q", member.Name)
		}
		seen[member.Name] = struct{}{}
	}
	return nil
}

// discard closes and removes a temporary file; it may be called repeatedly.
func discard(file *os.File) error {
	closeErr := file.Close()
	if errors.Is(closeErr, os.ErrClosed) {
		closeErr = nil
	}
	removeErr := os.Remove(file.Name())
	if errors.Is(removeErr, fs.ErrNotExist) {
		removeErr = nil
	}
	return errs.Combine(closeErr, removeErr)
}

func removeAllContent(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var group errs.Group
	for _, entry := range entries {
		group.Add(os.RemoveAll(filepath.Join(dir, entry.Name())))
	}
	return group.Err()
}
