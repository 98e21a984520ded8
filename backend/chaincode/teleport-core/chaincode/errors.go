package chaincode

import "errors"

// Every precondition failure aborts the whole transaction; Fabric discards the
// read-write set, so a returned error always means "nothing happened".
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBelowMinimum      = errors.New("below minimum")
	ErrInvalidAsset      = errors.New("invalid asset")
	ErrFrozen            = errors.New("operation frozen")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMismatch          = errors.New("record mismatch")
	ErrNotExpired        = errors.New("not yet expired")
)
