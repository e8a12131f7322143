// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time.
var (
	GitCommit = "unknown"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Protocol is the gossip wire protocol revision. Bump it whenever a
// frame field changes meaning.
const Protocol = 1

// Info returns the string printed by --version.
func Info() string {
	return fmt.Sprintf("%s (%s, %s, protocol %d)", Version, GitCommit, BuildTime, Protocol)
}

// Print writes "<binary> <Info>" and the Go toolchain to stdout.
func Print(binary string) {
	fmt.Printf("%s %s\n  Go: %s %s/%s\n", binary, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
