package circulation

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"unilibrary/model"
)

// ReadyExpirer is the slice of the reservation store the sweep needs.
type ReadyExpirer interface {
	ExpiredReadyBooks(ctx context.Context, now time.Time) ([]int64, error)
	ExpiredReadyForUpdate(ctx context.Context, tx *sql.Tx, bookID int64, now time.Time) ([]model.Reservation, error)
	MarkExpired(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error
}

// OverdueLister is the slice of the loan store the sweep needs.
type OverdueLister interface {
	ListNewlyOverdue(ctx context.Context, now time.Time) ([]model.Loan, error)
	MarkOverdueNotified(ctx context.Context, ids []int64) error
}

// BookLocker acquires the per-book serialization lock.
type BookLocker interface {
	LockForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (total, available int64, err error)
}

// Sweeper runs the periodic expiry passes. Each book is processed in
// its own short transaction so no book lock is held across books.
type Sweeper struct {
	db     *sql.DB
	res    ReadyExpirer
	loans  OverdueLister
	books  BookLocker
	adv    *Advancer
	notify Events
	log    *slog.Logger
	Now    func() time.Time
}

func NewSweeper(db *sql.DB, res ReadyExpirer, loans OverdueLister, books BookLocker, adv *Advancer, notify Events, log *slog.Logger) *Sweeper {
	return &Sweeper{db: db, res: res, loans: loans, books: books, adv: adv, notify: notify, log: log, Now: time.Now}
}

// ExpireReservations moves ready reservations past their pickup
// deadline to expired and re-offers each freed slot. Running it twice
// with no time passing processes nothing the second time.
func (s *Sweeper) ExpireReservations(ctx context.Context) (int, error) {
	now := s.Now().UTC()
	bookIDs, err := s.res.ExpiredReadyBooks(ctx, now)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, bookID := range bookIDs {
		n, err := s.expireForBook(ctx, bookID, now)
		if err != nil {
			// A busy book is retried on the next tick.
			s.log.Warn("reservation sweep skipped book", "book_id", bookID, "err", err)
			continue
		}
		total += n
	}
	return total, nil
}

func (s *Sweeper) expireForBook(ctx context.Context, bookID int64, now time.Time) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, _, err = s.books.LockForUpdate(ctx, tx, bookID); err != nil {
		return 0, MapLockErr(err)
	}

	// Re-read under the lock; a fulfill may have landed since the scan.
	expired, err := s.res.ExpiredReadyForUpdate(ctx, tx, bookID, now)
	if err != nil {
		return 0, err
	}

	var promoted []*model.Reservation
	for i := range expired {
		r := &expired[i]
		if err = Transition(r, model.ReservationExpired); err != nil {
			return 0, err
		}
		if err = s.res.MarkExpired(ctx, tx, r.ID, now); err != nil {
			return 0, err
		}
		var next *model.Reservation
		if next, err = s.adv.Advance(ctx, tx, bookID); err != nil {
			return 0, err
		}
		if next != nil {
			promoted = append(promoted, next)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	for i := range expired {
		s.notify.ReservationExpired(ctx, &expired[i])
	}
	for _, r := range promoted {
		s.notify.ReservationReady(ctx, r)
	}
	return len(expired), nil
}

// MarkOverdueLoans announces loans that crossed their due date since
// the last pass. Status stays derived; only the announcement flag is
// written.
func (s *Sweeper) MarkOverdueLoans(ctx context.Context) (int, error) {
	now := s.Now().UTC()
	overdue, err := s.loans.ListNewlyOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(overdue))
	for i := range overdue {
		ids = append(ids, overdue[i].ID)
	}
	if err := s.loans.MarkOverdueNotified(ctx, ids); err != nil {
		return 0, err
	}
	for i := range overdue {
		s.notify.LoanOverdue(ctx, &overdue[i])
	}
	return len(overdue), nil
}

// Run ticks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.ExpireReservations(ctx); err != nil {
				s.log.Error("reservation sweep failed", "err", err)
			} else if n > 0 {
				s.log.Info("reservations expired", "count", n)
			}
			if n, err := s.MarkOverdueLoans(ctx); err != nil {
				s.log.Error("overdue sweep failed", "err", err)
			} else if n > 0 {
				s.log.Info("loans overdue", "count", n)
			}
		}
	}
}
