// model/loan.go
package model

import "time"

type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
	LoanOverdue  LoanStatus = "overdue"
)

type Loan struct {
	ID            int64      `json:"id"`
	BookID        int64      `json:"book_id"`
	UserID        int64      `json:"user_id"`
	ReservationID *int64     `json:"reservation_id,omitempty"`
	Status        LoanStatus `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	DueAt         time.Time  `json:"due_at"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty"`
}

// EffectiveStatus derives overdue from the due date; overdue is never
// persisted as a separate state.
func (l Loan) EffectiveStatus(now time.Time) LoanStatus {
	if l.Status == LoanActive && now.After(l.DueAt) {
		return LoanOverdue
	}
	return l.Status
}
