// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the engine's source of time. Audit records take their
// timestamp from Now; busy-retry loops wait with Sleep.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses for at least d.
	Sleep(d time.Duration)
}
