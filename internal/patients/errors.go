package patients

import "errors"

var (
	// ErrValidation is returned for malformed identity input; no record is created.
	ErrValidation = errors.New("patients: invalid identity input")

	// ErrMissingProvider is returned when the mandatory provider reference is absent.
	ErrMissingProvider = errors.New("patients: provider reference is required")

	// ErrAmbiguousMatch signals multiple fuzzy candidates above threshold.
	// Resolution falls through to creation; candidates are never auto-merged.
	ErrAmbiguousMatch = errors.New("patients: ambiguous fuzzy match")

	// ErrCreationRace is surfaced when concurrent creation collided and the
	// post-retry lookup still found no owner for the identifier.
	ErrCreationRace = errors.New("patients: concurrent creation conflict")

	// ErrIdentifierTaken is returned by stores on a patient-id uniqueness violation.
	ErrIdentifierTaken = errors.New("patients: identifier already allocated")

	// ErrNotFound is returned when a patient lookup matches nothing.
	ErrNotFound = errors.New("patients: patient not found")
)
