package bridge

import "errors"

// Protocol violations are rejected synchronously and never partially applied.
var (
	ErrNotOperator = errors.New("caller does not hold the operator capability")
	ErrNotCanceler = errors.New("caller does not hold the canceler capability")
	ErrNotAdmin    = errors.New("caller does not hold the admin capability")

	ErrUnknownChain     = errors.New("chain id is not registered")
	ErrInvalidRecipient = errors.New("recipient address is zero")

	ErrDuplicateApproval  = errors.New("a pending withdraw already exists for this digest")
	ErrUnknownWithdraw    = errors.New("no pending withdraw exists for this digest")
	ErrAlreadyExecuted    = errors.New("withdraw was already executed")
	ErrAlreadyCancelled   = errors.New("withdraw approval was already cancelled")
	ErrCancelWindowClosed = errors.New("cancellation window has already elapsed")
	ErrCancelWindowOpen   = errors.New("cancellation window has not elapsed yet")
)
