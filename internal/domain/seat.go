package domain

import (
	"time"
)

type SeatState string

const (
	SeatFree   SeatState = "free"
	SeatHeld   SeatState = "held"
	SeatBooked SeatState = "booked"
)

// SeatKey identifies a single reservable seat within a movie.
type SeatKey struct {
	MovieID    string
	SeatNumber string
}

func (k SeatKey) String() string {
	return k.MovieID + "/" + k.SeatNumber
}

// SeatRecord is the durable state of a seat as stored in the movie document.
// HolderID is empty iff State is free; HoldExpiresAt is meaningful only while
// the seat is held.
type SeatRecord struct {
	SeatNumber    string
	State         SeatState
	HolderID      string
	HoldExpiresAt time.Time
}

// SeatUpdate is one half of a compare-and-set: either the state the caller
// expects to find, or the state to write.
type SeatUpdate struct {
	State         SeatState
	HolderID      string
	HoldExpiresAt time.Time
}

// HoldTicket is returned to a caller that won a hold.
type HoldTicket struct {
	Key       SeatKey
	HolderID  string
	ExpiresAt time.Time
}

// ExpiredHold identifies a held seat whose deadline has passed, as reported
// by a store scan.
type ExpiredHold struct {
	Key       SeatKey
	HolderID  string
	ExpiresAt time.Time
}
