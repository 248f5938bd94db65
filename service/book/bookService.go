package book

import (
	"context"
	"database/sql"
	"errors"

	"unilibrary/model"
	"unilibrary/service/circulation"
)

var ErrBadInput = errors.New("invalid payload")

// Repo is the catalogue store slice this service needs.
type Repo interface {
	Create(ctx context.Context, b *model.Book) (int64, error)
	List(ctx context.Context) ([]model.Book, error)
	Detail(ctx context.Context, id int64) (*model.Book, error)
	LockForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (total, available int64, err error)
	AddCopies(ctx context.Context, tx *sql.Tx, bookID, n int64) error
}

type Service interface {
	Create(ctx context.Context, b model.Book) (int64, error)

	// AddCopies stocks n new copies and immediately offers them to the
	// waiting queue, one advance per copy.
	AddCopies(ctx context.Context, bookID, n int64) error

	List(ctx context.Context) ([]model.Book, error)
	Detail(ctx context.Context, id int64) (*model.Book, error)
}

type service struct {
	db     *sql.DB
	r      Repo
	adv    *circulation.Advancer
	notify circulation.Events
}

func New(db *sql.DB, r Repo, adv *circulation.Advancer, notify circulation.Events) Service {
	return &service{db: db, r: r, adv: adv, notify: notify}
}

func (s *service) Create(ctx context.Context, b model.Book) (int64, error) {
	if b.Title == "" || b.Author == "" || b.TotalCopies < 0 {
		return 0, ErrBadInput
	}
	return s.r.Create(ctx, &b)
}

func (s *service) AddCopies(ctx context.Context, bookID, n int64) (err error) {
	if n <= 0 {
		return ErrBadInput
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

	if _, _, err = s.r.LockForUpdate(ctx, tx, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return circulation.Err(circulation.ErrNotFound)
		}
		return circulation.MapLockErr(err)
	}
	if err = s.r.AddCopies(ctx, tx, bookID, n); err != nil {
		return err
	}

	var promoted []*model.Reservation
	for i := int64(0); i < n; i++ {
		var next *model.Reservation
		if next, err = s.adv.Advance(ctx, tx, bookID); err != nil {
			return err
		}
		if next == nil {
			break
		}
		promoted = append(promoted, next)
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	for _, r := range promoted {
		s.notify.ReservationReady(ctx, r)
	}
	return nil
}

func (s *service) List(ctx context.Context) ([]model.Book, error)            { return s.r.List(ctx) }
func (s *service) Detail(ctx context.Context, id int64) (*model.Book, error) { return s.r.Detail(ctx, id) }
