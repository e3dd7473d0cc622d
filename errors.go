package deimos

import "errors"

var (
	// ErrProbeUnavailable means the client did not answer on its control interface.
	ErrProbeUnavailable = errors.New("client unreachable")
	// ErrDescriptorUnresolvable means neither the remote nor the local descriptor was usable.
	ErrDescriptorUnresolvable = errors.New("descriptor unresolvable")
	ErrDownload               = errors.New("download failed")
	ErrChecksumMismatch       = errors.New("checksum mismatch")
	ErrSanityCheckFailed      = errors.New("sanity check failed")
	ErrSignatureInvalid       = errors.New("signature invalid")
	// ErrInstall covers filesystem failures while making a verified binary active.
	ErrInstall        = errors.New("install failed")
	ErrLaunchFailed   = errors.New("launch failed")
	ErrNoActiveBinary = errors.New("no active binary")
	// ErrClientStarting means a recently launched client is still inside its
	// start grace period, so no new instance was spawned.
	ErrClientStarting = errors.New("client still starting")
)
