package lending

import (
	"errors"
	"fmt"
)

var (
	errNilConfig = errors.New("lending: config not provided")

	// ErrDivisionByZero is wrapped by StateError when a loan carries no value.
	ErrDivisionByZero = errors.New("lending: division by zero loan value")
	// ErrPriceUnavailable is returned by price lookups with no quote for an asset.
	ErrPriceUnavailable = errors.New("lending: price unavailable")
	// ErrStalePrice is returned by price lookups whose quote exceeded its max age.
	ErrStalePrice = errors.New("lending: stale price")
	// ErrTerminalAccount is wrapped by StateError for mutations of paid off or
	// defaulted accounts.
	ErrTerminalAccount = errors.New("lending: account is terminal")
	// ErrOverpayment is wrapped by StateError when a payment exceeds the total owed.
	ErrOverpayment = errors.New("lending: payment exceeds total owed")
)

// ValidationError reports malformed caller input. It is never recovered
// silently by the engines.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "lending: invalid input: " + e.Reason
	}
	return fmt.Sprintf("lending: invalid %s: %s", e.Field, e.Reason)
}

// StateError reports that the stored state disagrees with the requested
// operation (overpayment, terminal account, zero loan value).
type StateError struct {
	Op     string
	Reason string
	Err    error
}

func (e *StateError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("lending: %s rejected: %s", e.Op, e.Reason)
}

func (e *StateError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func stateErr(op string, cause error, format string, args ...any) error {
	return &StateError{Op: op, Reason: fmt.Sprintf(format, args...), Err: cause}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsState reports whether err carries a StateError.
func IsState(err error) bool {
	var target *StateError
	return errors.As(err, &target)
}
