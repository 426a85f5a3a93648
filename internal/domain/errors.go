package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidMarket    = errors.New("invalid market")
	ErrInvalidPrice     = errors.New("price outside [0,1]")
	ErrInvalidMapping   = errors.New("invalid condition mapping")
	ErrDoubleAssignment = errors.New("condition assigned to more than one mapping")
)

// ValidationError describe qué campo de la entrada no pasó la validación.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s=%q", e.Err, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalidMarket(field, value string) error {
	return &ValidationError{Field: field, Value: value, Err: ErrInvalidMarket}
}

func invalidPrice(field string, v float64) error {
	return &ValidationError{Field: field, Value: fmt.Sprintf("%v", v), Err: ErrInvalidPrice}
}

func invalidMapping(field, value string) error {
	return &ValidationError{Field: field, Value: value, Err: ErrInvalidMapping}
}
