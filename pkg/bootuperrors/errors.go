// Package bootuperrors defines the sentinel error kinds surfaced across the
// engine, matching the error-kind table in the design: each is a distinct
// value so callers (and the IPC reply encoder) can classify a failure
// without parsing its text.
package bootuperrors

import "errors"

var (
	// ErrNotRoot: client is not running as uid 0.
	ErrNotRoot = errors.New("must be run as root")
	// ErrNotSupervised: no init-supervisor environment marker was found.
	ErrNotSupervised = errors.New("not running under an init supervisor")
	// ErrAuth: peer credentials failed authentication on the IPC socket.
	ErrAuth = errors.New("authentication failed")
	// ErrCorruptState: the saved state file exists but failed to parse.
	ErrCorruptState = errors.New("saved state is corrupt")
	// ErrNotAnESP: /boot/efi is not a FAT/MSDOS filesystem.
	ErrNotAnESP = errors.New("/boot/efi is not an EFI system partition")
	// ErrUnsupportedArch: a component was asked to run on an architecture
	// it does not support.
	ErrUnsupportedArch = errors.New("component not supported on this architecture")
	// ErrWouldDowngrade: the available content is older than installed.
	ErrWouldDowngrade = errors.New("update would downgrade installed content")
	// ErrInterrupted: a pending update record exists from a prior run.
	ErrInterrupted = errors.New("previous update was interrupted")
	// ErrExternalToolFailure: an external tool invocation exited nonzero.
	ErrExternalToolFailure = errors.New("external tool failed")
	// ErrIOFailure: any other I/O failure during apply.
	ErrIOFailure = errors.New("I/O failure")
)
