package mapper

import (
	"errors"
	"fmt"

	"github.com/basekick-labs/transcoder/internal/record"
)

var (
	// ErrInvalidData is returned when a value's shape does not fit its field type
	ErrInvalidData = errors.New("invalid data")

	// ErrNumberFormat is returned when non-empty text is not a decimal number
	ErrNumberFormat = errors.New("invalid number")
)

// DataError describes a structurally invalid value for a field type
type DataError struct {
	Type   record.FieldType
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s %s", e.Type, e.Reason)
}

func (e *DataError) Is(target error) bool { return target == ErrInvalidData }

// NumberFormatError reports text that cannot be stored in a NUMBER field
type NumberFormatError struct {
	Value string
	Err   error
}

func (e *NumberFormatError) Error() string {
	return fmt.Sprintf("cannot parse %q as NUMBER: %v", e.Value, e.Err)
}

func (e *NumberFormatError) Is(target error) bool { return target == ErrNumberFormat }

func (e *NumberFormatError) Unwrap() error { return e.Err }

// ColumnError attaches the source column and target field to a mapping failure
type ColumnError struct {
	Column    string
	FieldCode string
	Err       error
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %s (field %s): %v", e.Column, e.FieldCode, e.Err)
}

func (e *ColumnError) Unwrap() error { return e.Err }
