// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for repotool.
//
// [Version], [GitCommit], [GitDirty] and [BuildTime] are injected with
// -ldflags -X. When a binary is built without them, [Current] falls back
// to the VCS settings the Go toolchain records in the build info.
package version
