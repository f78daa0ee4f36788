package historical

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat indicates a record timestamp that does not match the
	// expected encoding.
	ErrFormat = errors.New("invalid record time format")

	// ErrInvalidNumeric indicates a duration that is not a usable number.
	ErrInvalidNumeric = errors.New("invalid numeric value")

	// ErrMissingInput indicates a query that lacks a required input.
	ErrMissingInput = errors.New("missing query input")

	// ErrMissingRouteID is returned when a per-route computation is
	// requested without a route ID.
	ErrMissingRouteID = errors.New("route id is required")
)

// FormatError reports a timestamp that could not be parsed.
type FormatError struct {
	Value    string
	Encoding TimeEncoding
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cannot parse %q as %s", e.Value, e.Encoding)
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// InvalidNumericError reports a duration field that cannot be used.
type InvalidNumericError struct {
	Field string
	Value float64
}

func (e *InvalidNumericError) Error() string {
	return fmt.Sprintf("%s: unusable value %v", e.Field, e.Value)
}

func (e *InvalidNumericError) Unwrap() error {
	return ErrInvalidNumeric
}

// MissingInputError reports which query input is absent.
type MissingInputError struct {
	Input string
}

func (e *MissingInputError) Error() string {
	return "missing " + e.Input
}

func (e *MissingInputError) Unwrap() error {
	return ErrMissingInput
}
