// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packager

import "context"

// SetBuildHook sets a func that is called with the build context before
// every build.
func SetBuildHook(cache *Cache, fn func(ctx context.Context, key string)) {
	cache.onBuild = fn
}
