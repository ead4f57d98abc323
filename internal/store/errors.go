package store

import "errors"

var (
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")

	// ErrNoChange marks a mutation that matched zero rows. Callers treat
	// it as a distinct non-fatal outcome, not a failure.
	ErrNoChange = errors.New("no change applied")
)
