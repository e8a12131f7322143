// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the classroom binaries
// and the gossip wire protocol revision.
//
// [GitCommit], [BuildTime] and [Version] are injected with -ldflags -X
// and default to "unknown" / "0.1.0-dev" in development builds.
// [Protocol] is the revision stamped on every gossip frame; peers drop
// frames from a different revision instead of misreading them.
package version
