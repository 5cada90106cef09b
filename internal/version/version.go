/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build identification.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/airwave/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the VCS revision, set at build time.
var Commit = "unknown"

// String renders the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("airwave %s (%s, %s)", Version, Commit, runtime.Version())
}
