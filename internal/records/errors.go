// Package records implements the shared sign/verify codec primitive every
// record type in this module builds on (SPEC_FULL.md C7 / spec.md §4.6),
// plus the error taxonomy of spec.md §7.
package records

import (
	"errors"
	"fmt"
)

// ErrKind identifies which row of spec.md's §7 error taxonomy an error
// belongs to. Distinct kinds drive distinct caller behaviour: NotFound is
// not logged as an error, SignatureInvalid discards the record,
// DecryptionFailed/OwnershipViolation/FramingError are hard errors, and
// TransientNetwork is retried by the caller.
type ErrKind int

const (
	KindNotFound ErrKind = iota
	KindSignatureInvalid
	KindDecryptionFailed
	KindOwnershipViolation
	KindFramingError
	KindTransientNetwork
	KindAlreadyVoted
	KindMaxDepthExceeded
	KindNotOwner
	KindConfigError
)

func (k ErrKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindDecryptionFailed:
		return "DecryptionFailed"
	case KindOwnershipViolation:
		return "OwnershipViolation"
	case KindFramingError:
		return "FramingError"
	case KindTransientNetwork:
		return "TransientNetwork"
	case KindAlreadyVoted:
		return "AlreadyVoted"
	case KindMaxDepthExceeded:
		return "MaxDepthExceeded"
	case KindNotOwner:
		return "NotOwner"
	case KindConfigError:
		return "ConfigError"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error. Use errors.As to recover the Kind.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a tagged Error.
func New(kind ErrKind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a tagged Error around an underlying cause.
func Wrap(kind ErrKind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is tagged with kind.
func Is(err error, kind ErrKind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
