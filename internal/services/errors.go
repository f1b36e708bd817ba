package services

import "errors"

// Business failure modes surfaced to callers as {success:false, message}
// responses. Infrastructure failures (store or gateway unreachable) are not
// listed here; they propagate as wrapped errors and map to 5xx.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient credit balance")
	ErrUnknownPlan         = errors.New("unknown plan")
	ErrOrderNotFound       = errors.New("order not found")
	ErrProviderFailed      = errors.New("image provider request failed")
)
