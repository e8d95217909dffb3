package dtserr

import "errors"

var (
	// ErrTransient marks a failure a caller should retry with backoff:
	// a dropped connection, a timed-out dial, a momentarily refused admit.
	ErrTransient = errors.New("dts: transient failure")

	// ErrAdmissionRejected marks a queue or node refusing a push outright
	// (wrong password, queue paused, queue at capacity).
	ErrAdmissionRejected = errors.New("dts: admission rejected")

	// ErrProtocolViolation marks a peer that sent a malformed or
	// out-of-sequence RPC; the session is aborted, not retried.
	ErrProtocolViolation = errors.New("dts: protocol violation")

	// ErrIntegrity marks a checksum mismatch on a transferred file: a chunk
	// that still failed verification after every resend attempt, or a
	// whole-file checksum that could not be computed or did not match.
	ErrIntegrity = errors.New("dts: integrity check failed")

	// ErrDeliveryFailed marks a delivery command that exited with a
	// fatal-for-object or fatal-for-queue status.
	ErrDeliveryFailed = errors.New("dts: delivery failed")

	// ErrDiskFull marks an admission check that found insufficient free
	// space in a queue's spool directory.
	ErrDiskFull = errors.New("dts: insufficient disk space")

	// ErrInvalidQueue marks a reference to a queue name not present in the
	// daemon's configuration.
	ErrInvalidQueue = errors.New("dts: invalid queue")
)
