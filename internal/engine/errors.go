package engine

import (
	"errors"
	"fmt"
)

// ErrNoWallet is returned when an operation needs an identity and none has
// been initialized or loaded.
var ErrNoWallet = errors.New("no wallet initialized")

// Kind classifies how a failure should be treated by the caller.
type Kind int

const (
	// KindFatal failures abort the requested operation and are surfaced to
	// the caller.
	KindFatal Kind = iota

	// KindRecoverable failures are expected conditions the caller can
	// handle, such as a missing wallet or a malformed challenge.
	KindRecoverable

	// KindBackground failures happen off the request path and are only
	// logged.
	KindBackground
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindRecoverable:
		return "recoverable"
	case KindBackground:
		return "background"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is an engine failure tagged with its kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

func recoverable(op string, err error) error {
	return &Error{Kind: KindRecoverable, Op: op, Err: err}
}

func background(op string, err error) error {
	return &Error{Kind: KindBackground, Op: op, Err: err}
}

// KindOf returns the kind of err. Untagged errors, including
// wallet.DerivationError and wallet.TransactionBuildError, are fatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}
