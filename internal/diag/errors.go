package diag

import "errors"

var (
	// ErrInconsistent marks fatal input errors: the report cannot be trusted and is not produced.
	ErrInconsistent   = errors.New("inconsistent problem or solution")
	ErrUnknownJob     = errors.New("unknown job")
	ErrUnknownVehicle = errors.New("unknown vehicle")
	ErrNoTransport    = errors.New("no transport")

	// errNotEvaluable is returned by checkers that cannot judge an insertion.
	errNotEvaluable = errors.New("constraint not evaluable")
)
