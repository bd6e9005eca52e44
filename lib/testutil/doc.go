// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for IndieNet packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with a time.After fallback) so
// individual tests do not need direct time.After calls. These are the
// only place in the test suite where real wall-clock timeouts appear;
// everything else goes through lib/clock.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation — subscription ids, message bodies — instead of
// time.Now().
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no IndieNet-internal dependencies.
package testutil
