// Package errs defines the RAID engine's error taxonomy (spec.md §7).
// Per-sub-I/O failures are mapped to one of these kinds and aggregated
// before ever reaching a client; client-visible errors are always one
// of these typed values, never a bare errno.
package errs

import (
	"errors"
	"fmt"
)

// NotFoundError marks a referenced extent or device that vanished.
// The volume state machine maps it to Extent state MISSING.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return "not found: " + e.What }

func NotFound(what string) error {
	return &NotFoundError{What: what}
}

// IOError marks any other underlying read/write failure. The volume
// state machine maps it to Extent state FAILED.
type IOError struct {
	What string
	Err  error
}

func (e *IOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("io failure on %s: %v", e.What, e.Err)
	}
	return "io failure on " + e.What
}

func (e *IOError) Unwrap() error { return e.Err }

func IO(what string, cause error) error {
	return &IOError{What: what, Err: cause}
}

// OutOfMemoryError marks a local allocation failure. A read may retry
// another mirror; a write must invalidate the target extent because
// rollback after a partial parity commit is impossible.
type OutOfMemoryError struct {
	What string
}

func (e *OutOfMemoryError) Error() string { return "out of memory: " + e.What }

func OutOfMemory(what string) error {
	return &OutOfMemoryError{What: what}
}

// RangeError marks a block address/count outside the volume's
// data_blkno bound.
type RangeError struct {
	What string
}

func (e *RangeError) Error() string { return "range error: " + e.What }

func Range(what string) error {
	return &RangeError{What: what}
}

// InvalidArgumentError marks a malformed request (bad config, bad
// layout, zero-length operation where one isn't allowed).
type InvalidArgumentError struct {
	What string
}

func (e *InvalidArgumentError) Error() string { return "invalid argument: " + e.What }

func InvalidArgument(what string) error {
	return &InvalidArgumentError{What: what}
}

// NotSupportedError marks an operation a metadata variant or volume
// flag set refuses (e.g. save() on a read-only foreign variant,
// write_blocks on a READ_ONLY volume).
type NotSupportedError struct {
	What string
}

func (e *NotSupportedError) Error() string { return "not supported: " + e.What }

func NotSupported(what string) error {
	return &NotSupportedError{What: what}
}

// AlreadyExistsError marks a duplicate create (service-id or devname
// collision).
type AlreadyExistsError struct {
	What string
}

func (e *AlreadyExistsError) Error() string { return "already exists: " + e.What }

func AlreadyExists(what string) error {
	return &AlreadyExistsError{What: what}
}

// BusyError marks a refusal because the resource is in active use
// (e.g. Stop on a volume whose open counter is nonzero).
type BusyError struct {
	What string
}

func (e *BusyError) Error() string { return "busy: " + e.What }

func Busy(what string) error {
	return &BusyError{What: what}
}

// LimitError marks a refusal because a fixed-size bound (HR_MAX_EXTENTS,
// pool capacity) would be exceeded.
type LimitError struct {
	What string
}

func (e *LimitError) Error() string { return "limit exceeded: " + e.What }

func Limit(what string) error {
	return &LimitError{What: what}
}

// RetryError is internal-only: it drives stripe re-planning in raid5
// and is never returned to a block-device client directly. group_wait
// reports it as the terminal rc EAGAIN.
type RetryError struct {
	What string
}

func (e *RetryError) Error() string { return "retry: " + e.What }

func Retry(what string) error {
	return &RetryError{What: what}
}

// IsRetry reports whether err (or anything it wraps) is a RetryError.
func IsRetry(err error) bool {
	var r *RetryError
	return errors.As(err, &r)
}

// IsNotFound reports whether err (or anything it wraps) is a
// NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsOutOfMemory reports whether err (or anything it wraps) is an
// OutOfMemoryError.
func IsOutOfMemory(err error) bool {
	var o *OutOfMemoryError
	return errors.As(err, &o)
}
