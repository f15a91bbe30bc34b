package services

import "errors"

var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrSameUser            = errors.New("sender and recipient are the same user")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrRateUnavailable     = errors.New("exchange rate unavailable")
	ErrDepositTooSmall     = errors.New("deposit does not cover the minimum fee")
	ErrInvalidAddress      = errors.New("invalid bitcoin address")
)
