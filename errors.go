package rowset

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a row, file, or block is absent.
	ErrNotFound = errors.New("not found")

	// ErrCorruption indicates a malformed on-disk structure, e.g. a
	// zero-length delta file or an unparseable generation suffix.
	ErrCorruption = errors.New("corruption")

	// ErrIO indicates a read, write, or open failure of durable storage.
	ErrIO = errors.New("io error")

	// ErrInvalidArgument is returned for out-of-range row indexes or
	// offsets. The caller's input is wrong; nothing was mutated.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInternal indicates a broken internal invariant, e.g. the delta
	// store list mutating underneath an in-flight flush. It signals a
	// concurrency bug and is fatal for the owning rowset.
	ErrInternal = errors.New("internal invariant violation")
)

// CorruptionError describes a structurally invalid durable file.
//
// The original underlying error (if any) can be accessed via errors.Unwrap;
// errors.Is(err, ErrCorruption) holds for every CorruptionError.
type CorruptionError struct {
	Path   string
	Reason string
	cause  error
}

// NewCorruptionError builds a CorruptionError for path. cause may be nil.
func NewCorruptionError(path, reason string, cause error) *CorruptionError {
	return &CorruptionError{Path: path, Reason: reason, cause: cause}
}

func (e *CorruptionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("corrupt file %s: %s: %v", e.Path, e.Reason, e.cause)
	}
	return fmt.Sprintf("corrupt file %s: %s", e.Path, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return e.cause }

func (e *CorruptionError) Is(target error) bool { return target == ErrCorruption }

// ChecksumMismatchError is returned when block checksum verification fails.
// It is a corruption error: errors.Is(err, ErrCorruption) holds.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Is(target error) bool { return target == ErrCorruption }
