package testutil

import "time"

// Test timeout constants by test type.
// Use these with context.WithTimeout for consistent, explicit timeouts.
const (
	// TimeoutUnit is for unit tests (no I/O, no external dependencies)
	TimeoutUnit = 30 * time.Second

	// TimeoutIntegration is for integration tests that shell out to real
	// external tools (grub-install, rpm, findmnt, lsblk).
	TimeoutIntegration = 2 * time.Minute
)
