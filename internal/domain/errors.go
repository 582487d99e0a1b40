package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNotRefundable       = errors.New("transaction is not refundable")
	ErrDuplicateOperation  = errors.New("duplicate operation")
	ErrNoUsableSelfies     = errors.New("no usable selfies")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrOwnerRequired       = errors.New("person or team is required")
)
