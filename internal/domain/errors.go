package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable classification of a pipeline failure.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindUnsupportedDocument Kind = "unsupported_document_type"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderTimeout     Kind = "provider_timeout"
	KindDimensionMismatch   Kind = "dimension_mismatch"
	KindCollectionNotFound  Kind = "collection_not_found"
	KindGenerationTimeout   Kind = "generation_timeout"
	KindInternal            Kind = "internal"
)

// Error is a structured failure carrying a stable kind.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
	// Partial holds text already generated when a stream hit its deadline.
	Partial string
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrUnsupportedDocument = &Error{Kind: KindUnsupportedDocument}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrProviderTimeout     = &Error{Kind: KindProviderTimeout}
	ErrDimensionMismatch   = &Error{Kind: KindDimensionMismatch}
	ErrCollectionNotFound  = &Error{Kind: KindCollectionNotFound}
	ErrGenerationTimeout   = &Error{Kind: KindGenerationTimeout}
)

// Errorf builds a structured error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. An err that already carries a kind keeps it.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// PartialOf returns the partial output recorded on a timeout error.
func PartialOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Partial
	}
	return ""
}
