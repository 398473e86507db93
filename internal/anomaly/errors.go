package anomaly

import "errors"

var (
	// ErrInvalidInput indicates a non-positive price in the new observation or history.
	ErrInvalidInput = errors.New("anomaly: invalid input")
	// ErrPrecondition indicates an alert was requested for a non-qualifying result.
	ErrPrecondition = errors.New("anomaly: precondition violated")
)
