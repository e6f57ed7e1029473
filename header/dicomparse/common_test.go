// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dicomparse_test

import "os"

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}
