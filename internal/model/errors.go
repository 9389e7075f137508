package model

import "errors"

// Engine error kinds. Callers test them with errors.Is.
var (
	ErrDrawClosed         = errors.New("lottery: draw is not open for bets")
	ErrInvalidSelection   = errors.New("lottery: invalid selection")
	ErrInvalidStake       = errors.New("lottery: invalid stake")
	ErrDuplicateSelection = errors.New("lottery: selection already bet in this draw")
	ErrInsufficientFunds  = errors.New("lottery: insufficient funds")
	ErrAlreadyDrawn       = errors.New("lottery: draw already performed")
	ErrNotYetDrawn        = errors.New("lottery: draw not yet performed")
	ErrAlreadySettled     = errors.New("lottery: draw already settled")
	ErrPeriodNotFound     = errors.New("lottery: draw period not found")
	ErrCreditDelivery     = errors.New("lottery: prize credit delivery failed")

	// ErrStateConflict is returned by stores when a compare-and-set on a
	// period or bet state loses to a concurrent transition.
	ErrStateConflict = errors.New("lottery: state changed concurrently")
)
