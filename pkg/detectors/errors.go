package detectors

import "errors"

var (
	// ErrInsufficientData is returned when a sequence is shorter than the
	// algorithm's minimum length. It is checked before any computation.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrBaselineNotFound is returned for identifiers that have no stored baseline.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrModelNotTrained is returned when scoring against a detector that was never fitted.
	ErrModelNotTrained = errors.New("model not trained")

	// ErrInvalidArgument is returned for parameters outside their valid range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrShapeMismatch is returned when multi-dimensional samples differ in arity.
	ErrShapeMismatch = errors.New("shape mismatch")
)
