package domain

import "errors"

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidPool         = errors.New("invalid_pool")
	ErrInvalidReference    = errors.New("invalid_reference")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrNoCreditsFound      = errors.New("no_credits_found")
	ErrAccountNotFound     = errors.New("account_not_found")
)
