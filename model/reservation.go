// model/reservation.go
package model

import "time"

type ReservationStatus string

const (
	ReservationWaiting   ReservationStatus = "waiting"
	ReservationReady     ReservationStatus = "ready"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// reservationTransitions is the authoritative lifecycle table.
// Fulfilled, expired and cancelled are terminal.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationWaiting: {ReservationReady, ReservationCancelled},
	ReservationReady:   {ReservationFulfilled, ReservationExpired, ReservationCancelled},
}

func (s ReservationStatus) CanTransition(to ReservationStatus) bool {
	for _, t := range reservationTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s ReservationStatus) Terminal() bool {
	return len(reservationTransitions[s]) == 0
}

type Reservation struct {
	ID             int64             `json:"id"`
	BookID         int64             `json:"book_id"`
	UserID         int64             `json:"user_id"`
	Status         ReservationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	PickupDeadline *time.Time        `json:"pickup_deadline,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	ExpiredAt      *time.Time        `json:"expired_at,omitempty"`
	FulfilledAt    *time.Time        `json:"fulfilled_at,omitempty"`
}
