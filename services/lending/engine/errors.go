package engine

import "errors"

var (
	// ErrNotFound is returned when no loan exists for an identifier.
	ErrNotFound = errors.New("lending: not found")
	// ErrConflict is returned when a loan is not in the lifecycle state the
	// operation requires.
	ErrConflict = errors.New("lending: lifecycle conflict")
	// ErrInvalidBorrower is returned for malformed borrower addresses.
	ErrInvalidBorrower = errors.New("lending: invalid borrower address")
	// ErrPartialPricing is returned when an operation needs a complete
	// valuation and at least one collateral asset could not be priced.
	ErrPartialPricing = errors.New("lending: collateral pricing incomplete")
	// ErrInsufficientCollateral is returned when a withdrawal exceeds the
	// holdings or would leave the position below the health floor.
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrInternal               = errors.New("lending: internal error")
)
