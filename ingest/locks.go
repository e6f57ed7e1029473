// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ingest

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// stripes serializes work on equal keys with a fixed set of mutexes.
type stripes struct {
	mu []sync.Mutex
}

func newStripes(n int) *stripes {
	return &stripes{mu: make([]sync.Mutex, n)}
}

// Lock locks the stripe of key and returns its unlock func.
func (s *stripes) Lock(key string) func() {
	mu := &s.mu[xxhash.Sum64String(key)%uint64(len(s.mu))]
	mu.Lock()
	return mu.Unlock
}
