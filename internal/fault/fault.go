// Package fault classifies provider errors into the categories the
// teardown engine acts on.
//
// The wrapped cloud APIs do not expose a uniform error taxonomy, so
// classification happens at the provider boundary and the rest of the
// code only ever inspects these wrapper types.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the teardown-relevant category of a provider error.
type Kind int

const (
	// KindUnknown is an unclassified error. The engine treats it as
	// permanent: the stage is aborted and the resource recorded as residual.
	KindUnknown Kind = iota

	// KindTransient covers throttling, timeouts on individual API calls and
	// 5xx-style provider hiccups. Safe to retry in place.
	KindTransient

	// KindBlockingDependency means the provider rejected the operation
	// because dependent resources still exist (e.g. child recovery points).
	// Retrying without reordering will not help.
	KindBlockingDependency

	// KindUnsupported means the operation is not supported for this resource
	// subtype. The caller skips the sub-step and continues with the direct
	// path.
	KindUnsupported

	// KindNotFound means the resource no longer exists. For a teardown this
	// is idempotent success.
	KindNotFound

	// KindInvalidState means the resource is busy or in a state that
	// temporarily rejects mutation. Wait for a stable state, then re-act.
	KindInvalidState

	// KindTimeout means a bounded wait elapsed before the postcondition
	// held. Recorded as a normal failure outcome, never a crash.
	KindTimeout
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindBlockingDependency:
		return "blocking-dependency"
	case KindUnsupported:
		return "unsupported"
	case KindNotFound:
		return "not-found"
	case KindInvalidState:
		return "invalid-state"
	case KindTimeout:
		return "timeout"
	default:
		return "permanent"
	}
}

// Error wraps an underlying error with a teardown classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind. Returns nil for a nil err.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted error with the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Transient marks err as retryable in place.
func Transient(err error) error { return New(KindTransient, err) }

// BlockingDependency marks err as caused by live dependent resources.
func BlockingDependency(err error) error { return New(KindBlockingDependency, err) }

// Unsupported marks err as an operation the resource subtype rejects.
func Unsupported(err error) error { return New(KindUnsupported, err) }

// NotFound marks err as "resource already absent".
func NotFound(err error) error { return New(KindNotFound, err) }

// InvalidState marks err as a busy/transitional-state rejection.
func InvalidState(err error) error { return New(KindInvalidState, err) }

// Timeout marks err as a bounded wait that elapsed.
func Timeout(err error) error { return New(KindTimeout, err) }

// KindOf returns the classification of err, or KindUnknown when it carries
// none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsBlockingDependency reports whether err is a dependency-ordering
// rejection.
func IsBlockingDependency(err error) bool { return KindOf(err) == KindBlockingDependency }

// IsUnsupported reports whether err is an unsupported-operation rejection.
func IsUnsupported(err error) bool { return KindOf(err) == KindUnsupported }

// IsNotFound reports whether err means the resource is already gone.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsInvalidState reports whether err is a busy/transitional-state rejection.
func IsInvalidState(err error) bool { return KindOf(err) == KindInvalidState }

// IsTimeout reports whether err is an elapsed bounded wait.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsRetryable reports whether the engine may re-attempt the operation
// without reordering: transient and busy-state errors qualify.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindInvalidState:
		return true
	default:
		return false
	}
}
