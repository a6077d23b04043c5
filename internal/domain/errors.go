package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// Control operation faults.
	ErrInvalidTradeSize = errors.New("invalid trade size")
	ErrInvalidVolume    = errors.New("invalid simulation volume")
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrUnknownExchange  = errors.New("unknown exchange")
	ErrInvalidFee       = errors.New("invalid fee")

	// Book store faults.
	ErrNoSnapshot   = errors.New("delta without snapshot")
	ErrInvalidLevel = errors.New("invalid price level")

	// Admission and settlement faults.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDepthReserved     = errors.New("book depth already reserved")
	ErrAlreadyReserved   = errors.New("admission already reserved")
	ErrShuttingDown      = errors.New("shutting down")
)

// FundsError names the wallet asset that could not cover a hold. It matches
// ErrInsufficientFunds with errors.Is.
type FundsError struct {
	Exchange string
	Asset    string
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("%s short on %s: %s", e.Asset, e.Exchange, ErrInsufficientFunds)
}

func (e *FundsError) Unwrap() error { return ErrInsufficientFunds }
