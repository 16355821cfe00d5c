// Package queryerr defines the typed error kinds propagated across the
// pipeline, per the error handling design: a node that receives an error
// emits on_error to every sink exactly once, then transitions to
// terminal. Callers distinguish kinds with errors.As / Kind.
package queryerr

import (
	"errors"
	"fmt"
)

// Kind classifies a query error for callers deciding whether to retry,
// surface to the user, or degrade gracefully.
type Kind int

const (
	// KindValidation covers bad query shape, unknown filter/aggregator,
	// invalid interval. Surfaced to the caller, never retried.
	KindValidation Kind = iota
	// KindNoSuchName covers a referenced metric/tag absent from the catalog.
	KindNoSuchName
	// KindDecode covers a malformed qualifier or value.
	KindDecode
	// KindStorage covers a row-store I/O failure that exhausted retries
	// at the store-plugin layer.
	KindStorage
	// KindCache covers a cache-plugin failure; always degrades to the
	// full-query path rather than reaching the caller.
	KindCache
	// KindCancelled covers context cancellation or deadline expiry.
	KindCancelled
	// KindFatal covers programmer errors: a cycle in the DAG, an
	// invariant breach. Fails the query immediately.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNoSuchName:
		return "no_such_name"
	case KindDecode:
		return "decode"
	case KindStorage:
		return "storage"
	case KindCache:
		return "cache"
	case KindCancelled:
		return "cancelled"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// QueryError wraps an underlying cause with a Kind so callers can switch on
// classification without string matching.
type QueryError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// New builds a QueryError of kind for op, wrapping err.
func New(kind Kind, op string, err error) *QueryError {
	return &QueryError{Kind: kind, Op: op, Err: err}
}

// Newf builds a QueryError from a format string.
func Newf(kind Kind, op, format string, args ...interface{}) *QueryError {
	return &QueryError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err (or any error it wraps) is a QueryError of kind.
func Is(err error, kind Kind) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind == kind
	}
	return false
}

// NoSuchName is a convenience constructor for the common NSUN case.
func NoSuchName(op, name string) *QueryError {
	return Newf(KindNoSuchName, op, "no such unique name: %q", name)
}
