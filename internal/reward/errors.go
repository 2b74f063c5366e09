package reward

import "errors"

// Failure is a named ledger failure. Callers branch on the cause with errors.Is.
type Failure struct {
	message string
}

func newFailure(message string) *Failure {
	return &Failure{message: message}
}

func (f *Failure) Error() string {
	return f.message
}

var (
	ErrUnauthorized      = newFailure("unauthorized caller")
	ErrUnknownPool       = newFailure("unknown pool")
	ErrRateExceedsCap    = newFailure("rate exceeds cap")
	ErrInvalidRate       = newFailure("invalid rate")
	ErrNoAccruedRewards  = newFailure("no accrued rewards")
	ErrAlreadyRegistered = newFailure("pool already registered")
	ErrReentrant         = newFailure("reentrant call")
)

// IsFailure reports whether err carries a named ledger failure.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}
	var f *Failure
	return errors.As(err, &f)
}
