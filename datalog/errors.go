package datalog

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError reports a schema violation, an unknown attribute or a
// value of the wrong type. Nothing has been written when it is returned.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return "validation: " + e.Msg + ": " + e.Err.Error()
	}
	return "validation: " + e.Msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validationf builds a ValidationError
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError reports a failed compare-and-swap or a unique value
// collision. The whole batch was rejected.
type ConflictError struct {
	Msg       string
	Entity    EntityID
	Attribute Keyword
	Expected  Value
	Actual    Value
}

func (e *ConflictError) Error() string {
	if e.Attribute.IsZero() {
		return "conflict: " + e.Msg
	}
	return fmt.Sprintf("conflict: %s (entity %d, attribute %s, expected %s, actual %s)",
		e.Msg, e.Entity, e.Attribute, FormatValue(e.Expected), FormatValue(e.Actual))
}

// ResolutionError reports a temporary id that cannot be resolved to
// exactly one entity, or a transaction function expansion that does not
// terminate.
type ResolutionError struct {
	TempID string
	Msg    string
}

func (e *ResolutionError) Error() string {
	if e.TempID == "" {
		return "resolution: " + e.Msg
	}
	return fmt.Sprintf("resolution: tempid %s: %s", e.TempID, e.Msg)
}

// QueryError reports an invalid query or a failure evaluating a clause.
type QueryError struct {
	Clause string
	Msg    string
	Err    error
}

func (e *QueryError) Error() string {
	msg := "query: " + e.Msg
	if e.Clause != "" {
		msg += " in " + e.Clause
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *QueryError) Unwrap() error { return e.Err }

// Queryf builds a QueryError without a clause
func Queryf(format string, args ...interface{}) error {
	return &QueryError{Msg: fmt.Sprintf(format, args...)}
}

// TimeoutError reports a query cancelled at a clause boundary because its
// deadline passed or its context was cancelled.
type TimeoutError struct {
	Clause string
	Err    error
}

func (e *TimeoutError) Error() string {
	if e.Clause != "" {
		return fmt.Sprintf("query canceled before %s: %v", e.Clause, e.Err)
	}
	return fmt.Sprintf("query canceled: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StorageFault reports log corruption or an index invariant violation.
// It is fatal: a connection that observed one refuses further writes.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// IsTimeout reports whether err is (or wraps) a TimeoutError
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// CheckContext converts a finished context into a TimeoutError
func CheckContext(ctx context.Context, clause string) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return &TimeoutError{Clause: clause, Err: ctx.Err()}
	default:
		return nil
	}
}
