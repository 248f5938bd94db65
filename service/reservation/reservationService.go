package reservation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"unilibrary/model"
	rrepo "unilibrary/repository/reservation"
	"unilibrary/service/circulation"
)

// Row = repository shape
type Row = rrepo.Row

// Repo is the reservation store slice this service needs.
type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, bookID, userID int64, now time.Time) (*model.Reservation, error)
	Get(ctx context.Context, id int64) (*model.Reservation, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error)
	HasLiveClaim(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error)
	CountLiveByUser(ctx context.Context, tx *sql.Tx, userID int64) (int64, error)
	LockUser(ctx context.Context, tx *sql.Tx, userID int64) error
	Position(ctx context.Context, id int64) (int64, error)
	MarkCancelled(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error
	ListMine(ctx context.Context, userID int64) ([]Row, error)
}

// Books acquires the per-book serialization lock.
type Books interface {
	LockForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (total, available int64, err error)
}

type Service interface {
	// Reserve joins the queue for a book. It never touches availability,
	// a reservation only claims queue priority. Returns the reservation
	// and its computed position.
	Reserve(ctx context.Context, userID, bookID int64) (*model.Reservation, int64, error)

	// Cancel by the owner or an admin; cancelling a ready reservation
	// re-offers the slot to the next in line.
	Cancel(ctx context.Context, userID int64, admin bool, reservationID int64) error

	// Position is the current 1-indexed queue rank of a waiting
	// reservation.
	Position(ctx context.Context, reservationID int64) (int64, error)

	Mine(ctx context.Context, userID int64) ([]Row, error)
}

type service struct {
	db     *sql.DB
	r      Repo
	b      Books
	adv    *circulation.Advancer
	notify circulation.Events
	Now    func() time.Time
}

func New(db *sql.DB, r Repo, b Books, adv *circulation.Advancer, notify circulation.Events) Service {
	return NewWithClock(db, r, b, adv, notify, time.Now)
}

// NewWithClock lets tests drive the clock.
func NewWithClock(db *sql.DB, r Repo, b Books, adv *circulation.Advancer, notify circulation.Events, now func() time.Time) Service {
	return &service{db: db, r: r, b: b, adv: adv, notify: notify, Now: now}
}

func (s *service) Reserve(ctx context.Context, userID, bookID int64) (res *model.Reservation, pos int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, _, err = s.b.LockForUpdate(ctx, tx, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, circulation.Err(circulation.ErrNotFound)
		}
		return nil, 0, circulation.MapLockErr(err)
	}

	// User cap is checked under the user row lock so two racing
	// requests cannot both slip past the limit.
	if err = s.r.LockUser(ctx, tx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, circulation.Err(circulation.ErrNotFound)
		}
		return nil, 0, circulation.MapLockErr(err)
	}

	dup, err := s.r.HasLiveClaim(ctx, tx, userID, bookID)
	if err != nil {
		return nil, 0, err
	}
	if dup {
		return nil, 0, circulation.Err(circulation.ErrDuplicateReservation)
	}

	live, err := s.r.CountLiveByUser(ctx, tx, userID)
	if err != nil {
		return nil, 0, err
	}
	if live >= circulation.MaxLiveReservations {
		return nil, 0, circulation.Err(circulation.ErrReservationLimit)
	}

	res, err = s.r.Insert(ctx, tx, bookID, userID, s.Now().UTC())
	if err != nil {
		return nil, 0, err
	}
	if err = tx.Commit(); err != nil {
		return nil, 0, err
	}

	pos, err = s.r.Position(ctx, res.ID)
	if err != nil {
		// Position is cosmetic here; the reservation is already in.
		return res, 0, nil
	}
	return res, pos, nil
}

func (s *service) Cancel(ctx context.Context, userID int64, admin bool, reservationID int64) (err error) {
	res, err := s.r.Get(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return circulation.Err(circulation.ErrNotFound)
		}
		return err
	}
	if res.UserID != userID && !admin {
		return circulation.Err(circulation.ErrForbidden)
	}
	// Already-settled claims are refused before any locking.
	if res.Status.Terminal() {
		return circulation.Err(circulation.ErrInvalidState)
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

	if _, _, err = s.b.LockForUpdate(ctx, tx, res.BookID); err != nil {
		return circulation.MapLockErr(err)
	}

	// Re-read under the book lock; the sweep may have expired it since.
	res, err = s.r.GetForUpdate(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	wasReady := res.Status == model.ReservationReady
	if err = circulation.Transition(res, model.ReservationCancelled); err != nil {
		return err
	}
	if err = s.r.MarkCancelled(ctx, tx, reservationID, s.Now().UTC()); err != nil {
		return err
	}

	// A cancelled ready slot goes straight to the next in line.
	var promoted *model.Reservation
	if wasReady {
		if promoted, err = s.adv.Advance(ctx, tx, res.BookID); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	if promoted != nil {
		s.notify.ReservationReady(ctx, promoted)
	}
	return nil
}

func (s *service) Position(ctx context.Context, reservationID int64) (int64, error) {
	pos, err := s.r.Position(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, circulation.Err(circulation.ErrNotFound)
		}
		return 0, err
	}
	return pos, nil
}

func (s *service) Mine(ctx context.Context, userID int64) ([]Row, error) {
	return s.r.ListMine(ctx, userID)
}
