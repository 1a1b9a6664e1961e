// Package errors classifies attackdiff failures so callers can branch on
// kind instead of message text.
package errors

import "errors"

// Kind is the failure class of an error.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindInsufficientData Kind = "insufficient_data"
	KindCorrupt          Kind = "corrupt"
	KindIOFailure        Kind = "io_failure"
	KindInvalidPolicy    Kind = "invalid_policy"
	KindScannerFailure   Kind = "scanner_failure"
	KindInvalidInput     Kind = "invalid_input"
)

type classifiedError struct {
	kind  Kind
	code  string
	hint  string
	cause error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func (e *classifiedError) Kind() Kind {
	return e.kind
}

func (e *classifiedError) Code() string {
	return e.code
}

func (e *classifiedError) Hint() string {
	return e.hint
}

// Wrap attaches a kind, a stable code and an operator hint to cause.
// A nil cause stays nil.
func Wrap(cause error, kind Kind, code, hint string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		kind:  kind,
		code:  code,
		hint:  hint,
		cause: cause,
	}
}

// New creates a classified error from a message.
func New(kind Kind, code, message string) error {
	return Wrap(errors.New(message), kind, code, "")
}

// KindOf returns the outermost kind in the chain, or "" for plain errors.
func KindOf(err error) Kind {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.kind
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
