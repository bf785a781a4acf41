// Package asyncsched surfaces every scheduler-fatal condition through
// Trap, with cause-chain support, in the same style as the teacher
// package's ES2022-flavored error types.
package asyncsched

import (
	"errors"
	"fmt"
)

// TrapKind classifies why a Trap was raised, per the error taxonomy in
// spec §7. Kinds 4 and 5 (guest-level cancellation, peer drop) are
// deliberately absent from this enum: those outcomes are never traps.
type TrapKind int

const (
	// TrapMisuse is raised for calling a built-in with an impossible
	// state: double-drop, wrong handle kind, subtask.drop before
	// resolution, dropping a non-empty waitable set, and so on.
	TrapMisuse TrapKind = iota
	// TrapLiveness is raised when the event loop detects deadlock.
	TrapLiveness
	// TrapCrossStore is raised when a handle is used outside the Store
	// that issued it.
	TrapCrossStore
)

// String returns a human-readable representation of the kind.
func (k TrapKind) String() string {
	switch k {
	case TrapMisuse:
		return "misuse"
	case TrapLiveness:
		return "liveness"
	case TrapCrossStore:
		return "cross-store"
	default:
		return "unknown"
	}
}

// Trap is the fatal error type returned by Store.Run and by any
// built-in whose invariant was violated. Message is the stable, short
// string spec.md quotes verbatim (e.g. "deadlock detected: event loop
// cannot make further progress"); host embedders may surface it to
// tests as-is.
type Trap struct {
	Kind    TrapKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (t *Trap) Error() string {
	if t.Message == "" {
		return fmt.Sprintf("asyncsched: %s trap", t.Kind)
	}
	return t.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (t *Trap) Unwrap() error {
	return t.Cause
}

// Is matches any *Trap with the same Kind, ignoring Message/Cause, so
// callers can write errors.Is(err, &Trap{Kind: TrapLiveness}) without
// reconstructing the exact message.
func (t *Trap) Is(target error) bool {
	var other *Trap
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == t.Kind
}

func newTrap(kind TrapKind, message string) *Trap {
	return &Trap{Kind: kind, Message: message}
}

func newTrapf(kind TrapKind, format string, args ...any) *Trap {
	return &Trap{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Stable trap messages, quoted verbatim from spec.md so host embedders
// and tests can match on them exactly.
const (
	msgDeadlock                   = "deadlock detected: event loop cannot make further progress"
	msgDropNonEmptyWaitableSet    = "cannot drop waitable set with waiters"
	msgDropUnresolvedSubtask      = "cannot drop a subtask which has not yet resolved"
	msgSyncStreamReadsUnsupported = "synchronous stream and future reads not yet supported"
	msgFutureDoubleRead           = "cannot read from future after previous read succeeded"
	msgFutureDoubleWrite          = "cannot write to future after previous write succeeded"
	msgStreamDoubleRead           = "reader already has an outstanding read"
	msgStreamDoubleWrite          = "writer already has an outstanding write"
	msgStreamReadAfterDrop        = "cannot read from stream after writer dropped and drop was observed"
	msgStreamWriteAfterDrop       = "cannot write to stream after reader dropped and drop was observed"
	msgDropWritableFutureEarly    = "cannot drop writable future before a value has been written or the read end cancelled"
	msgWaitableAlreadyJoined      = "waitable is already joined to a different set"
	msgMismatchedHandleKind       = "handle kind does not match expected kind"
	msgDoubleDrop                 = "handle already dropped"
	msgCrossStoreHandle           = "handle does not belong to this store"
	msgDropStreamWithPendingOp    = "cannot drop a stream end with an outstanding read or write"
	msgNoPendingOperation         = "cancel called with no outstanding read or write to cancel"
	msgErrorContextRefUnderflow   = "error-context.drop called more times than error-context.new/dup"
)

// WrapError wraps an error with a message and optional cause chain,
// matching the teacher's convenience helper of the same name.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
