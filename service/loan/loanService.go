package loan

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"unilibrary/model"
	lrepo "unilibrary/repository/loan"
	"unilibrary/service/circulation"
)

// Row = repository shape
type Row = lrepo.Row

// Repo is the loan store slice this service needs.
type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, userID, bookID int64, reservationID *int64, start, due time.Time) (*model.Loan, error)
	Get(ctx context.Context, id int64) (*model.Loan, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error)
	CountActiveByUser(ctx context.Context, tx *sql.Tx, userID int64) (int64, error)
	LockUser(ctx context.Context, tx *sql.Tx, userID int64) error
	MarkReturned(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error
	ListMine(ctx context.Context, userID int64) ([]Row, error)
}

// Reservations is the reservation store slice this service needs.
type Reservations interface {
	Get(ctx context.Context, id int64) (*model.Reservation, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error)
	BlockedForUser(ctx context.Context, tx *sql.Tx, bookID, userID int64) (bool, error)
	LiveClaimForUpdate(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error)
	MarkFulfilled(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error
}

// Books locks the book row and maintains the availability count.
type Books interface {
	LockForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (total, available int64, err error)
	AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID, delta int64) error
}

type Service interface {
	// Borrow creates a loan directly, permitted only when a copy is on
	// the shelf and nobody else is queued for the book.
	Borrow(ctx context.Context, userID, bookID int64) (*model.Loan, error)

	// Fulfill converts the caller's ready reservation into a loan before
	// the pickup deadline.
	Fulfill(ctx context.Context, userID, reservationID int64) (*model.Loan, error)

	// Return closes the loan, frees the copy and offers it to the next
	// waiting reservation.
	Return(ctx context.Context, userID int64, admin bool, loanID int64) error

	Mine(ctx context.Context, userID int64) ([]Row, error)
}

type service struct {
	db     *sql.DB
	r      Repo
	res    Reservations
	b      Books
	adv    *circulation.Advancer
	notify circulation.Events
	Now    func() time.Time
}

func New(db *sql.DB, r Repo, res Reservations, b Books, adv *circulation.Advancer, notify circulation.Events) Service {
	return NewWithClock(db, r, res, b, adv, notify, time.Now)
}

// NewWithClock lets tests drive the clock.
func NewWithClock(db *sql.DB, r Repo, res Reservations, b Books, adv *circulation.Advancer, notify circulation.Events, now func() time.Time) Service {
	return &service{db: db, r: r, res: res, b: b, adv: adv, notify: notify, Now: now}
}

func (s *service) Borrow(ctx context.Context, userID, bookID int64) (l *model.Loan, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, available, err := s.b.LockForUpdate(ctx, tx, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, circulation.Err(circulation.ErrNotFound)
		}
		return nil, circulation.MapLockErr(err)
	}

	// An existing queue outranks a walk-in even when copies sit on the
	// shelf.
	blocked, err := s.res.BlockedForUser(ctx, tx, bookID, userID)
	if err != nil {
		return nil, err
	}
	if blocked || available < 1 {
		return nil, circulation.Err(circulation.ErrBookUnavailable)
	}

	// A walk-in by the holder of a ready claim consumes that claim;
	// otherwise the claim would outlive the copy backing it and the
	// next promotion would hand out an unfulfillable pickup window.
	own, err := s.res.LiveClaimForUpdate(ctx, tx, userID, bookID)
	if err != nil {
		return nil, circulation.MapLockErr(err)
	}
	var resID *int64
	if own != nil && own.Status == model.ReservationReady {
		if err = circulation.Transition(own, model.ReservationFulfilled); err != nil {
			return nil, err
		}
		if err = s.res.MarkFulfilled(ctx, tx, own.ID, s.Now().UTC()); err != nil {
			return nil, err
		}
		resID = &own.ID
	}

	if l, err = s.createLoan(ctx, tx, userID, bookID, resID); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *service) Fulfill(ctx context.Context, userID, reservationID int64) (l *model.Loan, err error) {
	res, err := s.res.Get(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, circulation.Err(circulation.ErrNotFound)
		}
		return nil, err
	}
	if res.UserID != userID {
		return nil, circulation.Err(circulation.ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, _, err = s.b.LockForUpdate(ctx, tx, res.BookID); err != nil {
		return nil, circulation.MapLockErr(err)
	}

	// Re-read under the book lock; the sweep may have expired it since.
	res, err = s.res.GetForUpdate(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	if res.Status != model.ReservationReady || res.PickupDeadline == nil || now.After(*res.PickupDeadline) {
		return nil, circulation.Err(circulation.ErrInvalidState)
	}
	if err = circulation.Transition(res, model.ReservationFulfilled); err != nil {
		return nil, err
	}
	if err = s.res.MarkFulfilled(ctx, tx, reservationID, now); err != nil {
		return nil, err
	}

	if l, err = s.createLoan(ctx, tx, userID, res.BookID, &res.ID); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return l, nil
}

// createLoan enforces the per-user cap and takes one copy off the
// shelf. Caller holds the book lock and commits.
func (s *service) createLoan(ctx context.Context, tx *sql.Tx, userID, bookID int64, reservationID *int64) (*model.Loan, error) {
	if err := s.r.LockUser(ctx, tx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, circulation.Err(circulation.ErrNotFound)
		}
		return nil, circulation.MapLockErr(err)
	}
	active, err := s.r.CountActiveByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if active >= circulation.MaxActiveLoans {
		return nil, circulation.Err(circulation.ErrLoanLimit)
	}
	if err := s.b.AdjustAvailable(ctx, tx, bookID, -1); err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	return s.r.Insert(ctx, tx, userID, bookID, reservationID, now, now.Add(circulation.LoanPeriod))
}

func (s *service) Return(ctx context.Context, userID int64, admin bool, loanID int64) (err error) {
	l, err := s.r.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return circulation.Err(circulation.ErrNotFound)
		}
		return err
	}
	if l.UserID != userID && !admin {
		return circulation.Err(circulation.ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, _, err = s.b.LockForUpdate(ctx, tx, l.BookID); err != nil {
		return circulation.MapLockErr(err)
	}
	l, err = s.r.GetForUpdate(ctx, tx, loanID)
	if err != nil {
		return err
	}
	if l.Status == model.LoanReturned {
		return circulation.Err(circulation.ErrInvalidState)
	}
	if err = s.r.MarkReturned(ctx, tx, loanID, s.Now().UTC()); err != nil {
		return err
	}
	if err = s.b.AdjustAvailable(ctx, tx, l.BookID, 1); err != nil {
		return err
	}

	// The freed copy goes to the queue before it reaches the shelf.
	promoted, err := s.adv.Advance(ctx, tx, l.BookID)
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	if promoted != nil {
		s.notify.ReservationReady(ctx, promoted)
	}
	return nil
}

func (s *service) Mine(ctx context.Context, userID int64) ([]Row, error) {
	rows, err := s.r.ListMine(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Overdue is derived at read time, never stored.
	now := s.Now().UTC()
	for i := range rows {
		l := model.Loan{Status: rows[i].Status, DueAt: rows[i].DueAt}
		rows[i].Status = l.EffectiveStatus(now)
	}
	return rows, nil
}
