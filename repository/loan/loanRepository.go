// repository/loan/repo.go
package loan

import (
	"context"
	"database/sql"
	"time"

	"unilibrary/model"
)

// Row is the "my loans" listing shape; the service overlays the
// derived overdue state on Status before it leaves the API.
type Row struct {
	LoanID     int64            `json:"loan_id"`
	BookID     int64            `json:"book_id"`
	BookTitle  string           `json:"book_title"`
	BookAuthor string           `json:"book_author"`
	Status     model.LoanStatus `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	DueAt      time.Time        `json:"due_at"`
	ReturnedAt *time.Time       `json:"returned_at,omitempty"`
}

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, userID, bookID int64, reservationID *int64, start, due time.Time) (*model.Loan, error)
	Get(ctx context.Context, id int64) (*model.Loan, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error)
	CountActiveByUser(ctx context.Context, tx *sql.Tx, userID int64) (int64, error)
	LockUser(ctx context.Context, tx *sql.Tx, userID int64) error
	MarkReturned(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error

	// Overdue sweep: active loans past due that have not been announced
	// yet. MarkOverdueNotified keeps the sweep from re-announcing.
	ListNewlyOverdue(ctx context.Context, now time.Time) ([]model.Loan, error)
	MarkOverdueNotified(ctx context.Context, ids []int64) error

	// ListMine returns stored rows; the overdue derivation happens in
	// the service via the model.
	ListMine(ctx context.Context, userID int64) ([]Row, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db: db} }

const cols = `id, book_id, user_id, reservation_id, status, started_at, due_at, returned_at`

func scanLoan(row interface{ Scan(...any) error }) (*model.Loan, error) {
	var l model.Loan
	err := row.Scan(&l.ID, &l.BookID, &l.UserID, &l.ReservationID,
		&l.Status, &l.StartedAt, &l.DueAt, &l.ReturnedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repo) Insert(ctx context.Context, tx *sql.Tx, userID, bookID int64, reservationID *int64, start, due time.Time) (*model.Loan, error) {
	const q = `
		INSERT INTO loans (book_id, user_id, reservation_id, status, started_at, due_at)
		VALUES ($1, $2, $3, 'active', $4, $5)
		RETURNING ` + cols
	return scanLoan(tx.QueryRowContext(ctx, q, bookID, userID, reservationID, start, due))
}

func (r *repo) Get(ctx context.Context, id int64) (*model.Loan, error) {
	const q = `SELECT ` + cols + ` FROM loans WHERE id = $1`
	return scanLoan(r.db.QueryRowContext(ctx, q, id))
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
	const q = `SELECT ` + cols + ` FROM loans WHERE id = $1 FOR UPDATE`
	return scanLoan(tx.QueryRowContext(ctx, q, id))
}

func (r *repo) CountActiveByUser(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	const q = `SELECT COUNT(*) FROM loans WHERE user_id = $1 AND status = 'active'`
	var n int64
	err := tx.QueryRowContext(ctx, q, userID).Scan(&n)
	return n, err
}

func (r *repo) LockUser(ctx context.Context, tx *sql.Tx, userID int64) error {
	const q = `SELECT id FROM users WHERE id = $1 FOR UPDATE`
	var id int64
	return tx.QueryRowContext(ctx, q, userID).Scan(&id)
}

func (r *repo) MarkReturned(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	const q = `
		UPDATE loans
		SET status = 'returned', returned_at = $2
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, now)
	return err
}

func (r *repo) ListNewlyOverdue(ctx context.Context, now time.Time) ([]model.Loan, error) {
	const q = `
		SELECT ` + cols + `
		FROM loans
		WHERE status = 'active' AND due_at < $1 AND NOT overdue_notified
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *repo) MarkOverdueNotified(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE loans SET overdue_notified = TRUE WHERE id = ANY($1)`
	_, err := r.db.ExecContext(ctx, q, ids)
	return err
}

func (r *repo) ListMine(ctx context.Context, userID int64) ([]Row, error) {
	const q = `
		SELECT
			l.id          AS loan_id,
			l.book_id     AS book_id,
			b.title       AS book_title,
			b.author      AS book_author,
			l.status      AS status,
			l.started_at  AS started_at,
			l.due_at      AS due_at,
			l.returned_at AS returned_at
		FROM loans l
		JOIN books b ON b.id = l.book_id
		WHERE l.user_id = $1
		ORDER BY l.started_at DESC, l.id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var h Row
		if err := rows.Scan(
			&h.LoanID, &h.BookID, &h.BookTitle, &h.BookAuthor,
			&h.Status, &h.StartedAt, &h.DueAt, &h.ReturnedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
