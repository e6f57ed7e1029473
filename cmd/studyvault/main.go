// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"storj.io/common/process"
)

func main() {
	rootCmd, _ := newRootCmd(true)
	process.Exec(rootCmd)
}
