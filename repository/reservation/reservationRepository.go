// repository/reservation/repo.go
package reservation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"unilibrary/model"
)

// Row is the "my reservations" listing shape; Position is the derived
// queue rank, zero for non-waiting rows.
type Row struct {
	ReservationID  int64                   `json:"reservation_id"`
	BookID         int64                   `json:"book_id"`
	BookTitle      string                  `json:"book_title"`
	BookAuthor     string                  `json:"book_author"`
	Status         model.ReservationStatus `json:"status"`
	CreatedAt      time.Time               `json:"created_at"`
	PickupDeadline *time.Time              `json:"pickup_deadline,omitempty"`
	Position       int64                   `json:"queue_position,omitempty"`
}

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, bookID, userID int64, now time.Time) (*model.Reservation, error)
	Get(ctx context.Context, id int64) (*model.Reservation, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error)

	HasLiveClaim(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error)

	// LiveClaimForUpdate locks the user's live claim on a book; nil
	// when they hold none. The partial unique index guarantees at most
	// one.
	LiveClaimForUpdate(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error)

	CountLiveByUser(ctx context.Context, tx *sql.Tx, userID int64) (int64, error)
	LockUser(ctx context.Context, tx *sql.Tx, userID int64) error

	// Position is the 1-indexed rank among waiting reservations for the
	// same book, FIFO by created_at then id. sql.ErrNoRows when the
	// reservation is absent or no longer waiting.
	Position(ctx context.Context, id int64) (int64, error)

	// NextWaitingForUpdate picks the head of the queue under the book
	// lock; sql.ErrNoRows when the queue is empty.
	NextWaitingForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (*model.Reservation, error)
	BlockedForUser(ctx context.Context, tx *sql.Tx, bookID, userID int64) (bool, error)

	MarkReady(ctx context.Context, tx *sql.Tx, id int64, deadline time.Time) error
	MarkCancelled(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error
	MarkExpired(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error
	MarkFulfilled(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error

	// ExpiredReadyBooks lists distinct books holding a ready reservation
	// whose pickup deadline has passed. Read outside any lock; the sweep
	// re-checks under the per-book lock.
	ExpiredReadyBooks(ctx context.Context, now time.Time) ([]int64, error)
	ExpiredReadyForUpdate(ctx context.Context, tx *sql.Tx, bookID int64, now time.Time) ([]model.Reservation, error)

	ListMine(ctx context.Context, userID int64) ([]Row, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db: db} }

const cols = `id, book_id, user_id, status, created_at, pickup_deadline, cancelled_at, expired_at, fulfilled_at`

func scanReservation(row interface{ Scan(...any) error }) (*model.Reservation, error) {
	var r model.Reservation
	err := row.Scan(&r.ID, &r.BookID, &r.UserID, &r.Status, &r.CreatedAt,
		&r.PickupDeadline, &r.CancelledAt, &r.ExpiredAt, &r.FulfilledAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *repo) Insert(ctx context.Context, tx *sql.Tx, bookID, userID int64, now time.Time) (*model.Reservation, error) {
	const q = `
		INSERT INTO reservations (book_id, user_id, status, created_at)
		VALUES ($1, $2, 'waiting', $3)
		RETURNING ` + cols
	return scanReservation(tx.QueryRowContext(ctx, q, bookID, userID, now))
}

func (r *repo) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	const q = `SELECT ` + cols + ` FROM reservations WHERE id = $1`
	return scanReservation(r.db.QueryRowContext(ctx, q, id))
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error) {
	const q = `SELECT ` + cols + ` FROM reservations WHERE id = $1 FOR UPDATE`
	return scanReservation(tx.QueryRowContext(ctx, q, id))
}

func (r *repo) HasLiveClaim(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE user_id = $1 AND book_id = $2 AND status IN ('waiting','ready')
		)`
	var ok bool
	err := tx.QueryRowContext(ctx, q, userID, bookID).Scan(&ok)
	return ok, err
}

func (r *repo) LiveClaimForUpdate(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error) {
	const q = `
		SELECT ` + cols + `
		FROM reservations
		WHERE user_id = $1 AND book_id = $2 AND status IN ('waiting','ready')
		FOR UPDATE
		LIMIT 1`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, userID, bookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

func (r *repo) CountLiveByUser(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	const q = `
		SELECT COUNT(*) FROM reservations
		WHERE user_id = $1 AND status IN ('waiting','ready')`
	var n int64
	err := tx.QueryRowContext(ctx, q, userID).Scan(&n)
	return n, err
}

func (r *repo) LockUser(ctx context.Context, tx *sql.Tx, userID int64) error {
	const q = `SELECT id FROM users WHERE id = $1 FOR UPDATE`
	var id int64
	return tx.QueryRowContext(ctx, q, userID).Scan(&id)
}

func (r *repo) Position(ctx context.Context, id int64) (int64, error) {
	const q = `
		SELECT rank FROM (
			SELECT id,
				RANK() OVER (ORDER BY created_at, id) AS rank
			FROM reservations
			WHERE status = 'waiting'
			AND book_id = (SELECT book_id FROM reservations WHERE id = $1)
		) ranked
		WHERE id = $1`
	var pos int64
	err := r.db.QueryRowContext(ctx, q, id).Scan(&pos)
	return pos, err
}

func (r *repo) NextWaitingForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (*model.Reservation, error) {
	const q = `
		SELECT ` + cols + `
		FROM reservations
		WHERE book_id = $1 AND status = 'waiting'
		ORDER BY created_at, id
		FOR UPDATE
		LIMIT 1`
	return scanReservation(tx.QueryRowContext(ctx, q, bookID))
}

func (r *repo) BlockedForUser(ctx context.Context, tx *sql.Tx, bookID, userID int64) (bool, error) {
	// Any other user's live claim blocks a direct borrow.
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE book_id = $1 AND user_id <> $2 AND status IN ('waiting','ready')
		)`
	var ok bool
	err := tx.QueryRowContext(ctx, q, bookID, userID).Scan(&ok)
	return ok, err
}

func (r *repo) MarkReady(ctx context.Context, tx *sql.Tx, id int64, deadline time.Time) error {
	const q = `
		UPDATE reservations
		SET status = 'ready', pickup_deadline = $2
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, deadline)
	return err
}

func (r *repo) MarkCancelled(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	const q = `
		UPDATE reservations
		SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, now)
	return err
}

func (r *repo) MarkExpired(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	const q = `
		UPDATE reservations
		SET status = 'expired', expired_at = $2
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, now)
	return err
}

func (r *repo) MarkFulfilled(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	const q = `
		UPDATE reservations
		SET status = 'fulfilled', fulfilled_at = $2
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, now)
	return err
}

func (r *repo) ExpiredReadyBooks(ctx context.Context, now time.Time) ([]int64, error) {
	const q = `
		SELECT DISTINCT book_id FROM reservations
		WHERE status = 'ready' AND pickup_deadline < $1
		ORDER BY book_id`
	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *repo) ExpiredReadyForUpdate(ctx context.Context, tx *sql.Tx, bookID int64, now time.Time) ([]model.Reservation, error) {
	const q = `
		SELECT ` + cols + `
		FROM reservations
		WHERE book_id = $1 AND status = 'ready' AND pickup_deadline < $2
		ORDER BY id
		FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, bookID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func (r *repo) ListMine(ctx context.Context, userID int64) ([]Row, error) {
	const q = `
		SELECT
			r.id              AS reservation_id,
			r.book_id         AS book_id,
			b.title           AS book_title,
			b.author          AS book_author,
			r.status          AS status,
			r.created_at      AS created_at,
			r.pickup_deadline AS pickup_deadline,
			COALESCE(w.rank, 0) AS queue_position
		FROM reservations r
		JOIN books b ON b.id = r.book_id
		LEFT JOIN (
			SELECT id, RANK() OVER (PARTITION BY book_id ORDER BY created_at, id) AS rank
			FROM reservations
			WHERE status = 'waiting'
		) w ON w.id = r.id
		WHERE r.user_id = $1
		ORDER BY r.created_at DESC, r.id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var h Row
		if err := rows.Scan(
			&h.ReservationID, &h.BookID, &h.BookTitle, &h.BookAuthor,
			&h.Status, &h.CreatedAt, &h.PickupDeadline, &h.Position,
		); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
