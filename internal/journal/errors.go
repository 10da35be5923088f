package journal

import "errors"

// Sentinel errors surfaced across the journal's public contract (spec.md §7).
var (
	// ErrPreconditionViolation covers synchronous, non-retriable rejections
	// such as an atomic write spanning more than two partitions. A delete
	// request when deletes are disabled fails with ErrDeletesUnsupported
	// instead, which does not wrap this error.
	ErrPreconditionViolation = errors.New("journal: precondition violation")

	// ErrDeletesUnsupported is returned by DeleteTo when support_deletes is false.
	ErrDeletesUnsupported = errors.New("journal: deletes are not supported by this configuration")

	// ErrBackpressure is returned by DeleteTo when the per-PID pending-delete
	// queue is already at max_concurrent_deletes.
	ErrBackpressure = errors.New("journal: delete queue backpressure")

	// ErrEmptyAtomicWrite is returned when an AtomicWrite carries zero events.
	ErrEmptyAtomicWrite = errors.New("journal: atomic write must contain at least one event")

	// ErrShutdown is returned to any caller whose request arrives after a
	// fatal error has put the controller into a stopped state (spec.md §4.9).
	ErrShutdown = errors.New("journal: controller has shut down after a fatal error")

	// ErrNonContiguousSequence is returned when an atomic write's events do
	// not carry strictly contiguous sequence numbers.
	ErrNonContiguousSequence = errors.New("journal: atomic write sequence numbers are not contiguous")

	// ErrNotAttempted is returned for a batch whose group was never sent
	// because an earlier group in the same write_atomic_batches call failed;
	// groups execute sequentially and the call stops at the first failure
	// (spec.md §4.4 step 4).
	ErrNotAttempted = errors.New("journal: batch not attempted, an earlier group in this call failed")
)

// PreconditionError wraps ErrPreconditionViolation with the detail that
// triggered it, so callers can log a specific reason while still matching
// on errors.Is(err, ErrPreconditionViolation).
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "journal: precondition violation: " + e.Reason
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionViolation }

func preconditionf(reason string) error {
	return &PreconditionError{Reason: reason}
}
