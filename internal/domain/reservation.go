package domain

import "time"

// ReservationLeg claims size on one side of an (exchange, symbol) book.
type ReservationLeg struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Size     float64 `json:"size"`
}

// Reservation is the ephemeral claim an accepted opportunity holds on book
// depth and wallet funds until it settles or expires.
type Reservation struct {
	ID        string           `json:"id"`
	Key       string           `json:"key"`
	Legs      []ReservationLeg `json:"legs"`
	Holds     []FundsHold      `json:"holds"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Expired reports whether the reservation is past its expiry at now.
func (r Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
