package circulation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"unilibrary/model"
)

// Business rules observed at the circulation desk.
const (
	LoanPeriod          = 14 * 24 * time.Hour
	PickupWindow        = 7 * 24 * time.Hour
	MaxActiveLoans      = 5
	MaxLiveReservations = 5
)

// Events receives lifecycle notifications after the owning transaction
// has committed. Delivery failures never undo a transition.
type Events interface {
	ReservationReady(ctx context.Context, r *model.Reservation)
	ReservationExpired(ctx context.Context, r *model.Reservation)
	LoanOverdue(ctx context.Context, l *model.Loan)
}

// Transition enforces the reservation lifecycle table centrally. Any
// move not in the table is an INVALID_STATE error.
func Transition(r *model.Reservation, to model.ReservationStatus) error {
	if !r.Status.CanTransition(to) {
		return Err(ErrInvalidState)
	}
	r.Status = to
	return nil
}

// Queue is the slice of the reservation store the advancer needs.
type Queue interface {
	NextWaitingForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (*model.Reservation, error)
	MarkReady(ctx context.Context, tx *sql.Tx, id int64, deadline time.Time) error
}

// Advancer promotes the head of a book's waiting queue to ready.
// Callers must hold the book row lock; the queue head is re-read under
// that lock so a racing return and expiry sweep cannot both promote.
type Advancer struct {
	q   Queue
	Now func() time.Time
}

func NewAdvancer(q Queue) *Advancer {
	return &Advancer{q: q, Now: time.Now}
}

// Advance returns the promoted reservation, or nil when no one is
// waiting and the copy stays directly borrowable. The caller emits
// the ReservationReady event after commit.
func (a *Advancer) Advance(ctx context.Context, tx *sql.Tx, bookID int64) (*model.Reservation, error) {
	next, err := a.q.NextWaitingForUpdate(ctx, tx, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, MapLockErr(err)
	}
	if err := Transition(next, model.ReservationReady); err != nil {
		return nil, err
	}
	deadline := a.Now().UTC().Add(PickupWindow)
	if err := a.q.MarkReady(ctx, tx, next.ID, deadline); err != nil {
		return nil, err
	}
	next.PickupDeadline = &deadline
	return next, nil
}
