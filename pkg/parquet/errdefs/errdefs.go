// Package errdefs defines the error types returned by the Parquet codec.
//
// Every error type implements Unwrap so that errors.Is and errors.As reach
// the underlying cause.
package errdefs

import (
	"errors"
	"fmt"
)

// FormatError reports a file that does not follow the Parquet layout, or
// uses a feature the codec cannot decode.
type FormatError struct {
	Msg string
	Err error
}

// Formatf returns a *FormatError with a formatted message.
func Formatf(format string, args ...any) error {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// WrapFormat returns a *FormatError wrapping err.
func WrapFormat(err error, msg string) error {
	return &FormatError{Msg: msg, Err: err}
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return "invalid parquet file: " + e.Msg + ": " + e.Err.Error()
	}
	return "invalid parquet file: " + e.Msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// UnsupportedTypeError reports a logical type with no Parquet lowering.
type UnsupportedTypeError struct {
	Column string
	Type   string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported type %s for column %q", e.Type, e.Column)
}

func (e *UnsupportedTypeError) Unwrap() error { return nil }

// ConstraintViolationError reports a value that cannot be written, such as a
// null in a non-nullable column.
type ConstraintViolationError struct {
	Column string
	Msg    string
}

// Constraintf returns a *ConstraintViolationError for column.
func Constraintf(column, format string, args ...any) error {
	return &ConstraintViolationError{Column: column, Msg: fmt.Sprintf(format, args...)}
}

func (e *ConstraintViolationError) Error() string {
	if e.Column == "" {
		return e.Msg
	}
	return fmt.Sprintf("column %q: %s", e.Column, e.Msg)
}

func (e *ConstraintViolationError) Unwrap() error { return nil }

// SizeLimitError reports a page or dictionary whose size does not fit the
// 32-bit fields of a page header.
type SizeLimitError struct {
	Column string
	What   string
	Size   int
	Limit  int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("column %q: %s of %d bytes exceeds limit of %d bytes", e.Column, e.What, e.Size, e.Limit)
}

func (e *SizeLimitError) Unwrap() error { return nil }

// IOError wraps an error returned by the underlying file or writer.
type IOError struct {
	Op  string
	Err error
}

// WrapIO wraps err in an *IOError. A nil err returns nil, and errors that are
// already an *IOError are returned unchanged.
func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Err: err}
}

func (e *IOError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

// IsFormat reports whether err is or wraps a *FormatError.
func IsFormat(err error) bool {
	var target *FormatError
	return errors.As(err, &target)
}

// IsConstraintViolation reports whether err is or wraps a
// *ConstraintViolationError.
func IsConstraintViolation(err error) bool {
	var target *ConstraintViolationError
	return errors.As(err, &target)
}
