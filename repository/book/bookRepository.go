// repository/book/repo.go
package book

import (
	"context"
	"database/sql"
	"errors"

	"unilibrary/model"
)

// ErrStockInvariant reports an update that would have driven
// available_copies outside [0, total_copies]. The caller must roll
// back the surrounding transaction.
var ErrStockInvariant = errors.New("available copies out of range")

type Repo interface {
	Create(ctx context.Context, b *model.Book) (int64, error)
	List(ctx context.Context) ([]model.Book, error)
	Detail(ctx context.Context, id int64) (*model.Book, error)

	// LockForUpdate serializes all queue/availability mutations for one
	// book. It also bounds the wait so contention surfaces as a lock
	// timeout instead of a stuck request.
	LockForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (total, available int64, err error)
	AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID, delta int64) error
	AddCopies(ctx context.Context, tx *sql.Tx, bookID, n int64) error
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db: db} }

func (r *repo) Create(ctx context.Context, b *model.Book) (int64, error) {
	const q = `
		INSERT INTO books (title, author, isbn, category, total_copies, available_copies)
		VALUES ($1,$2,$3,$4,$5,$5)
		RETURNING id`
	var id int64
	if err := r.db.QueryRowContext(ctx, q, b.Title, b.Author, b.ISBN, b.Category, b.TotalCopies).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repo) List(ctx context.Context) ([]model.Book, error) {
	const q = `
		SELECT id, title, author, isbn, category, total_copies, available_copies
		FROM books
		ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Book
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Category, &b.TotalCopies, &b.AvailableCopies); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repo) Detail(ctx context.Context, id int64) (*model.Book, error) {
	const q = `
		SELECT id, title, author, isbn, category, total_copies, available_copies
		FROM books
		WHERE id = $1`
	var b model.Book
	err := r.db.QueryRowContext(ctx, q, id).Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Category, &b.TotalCopies, &b.AvailableCopies)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repo) LockForUpdate(ctx context.Context, tx *sql.Tx, bookID int64) (int64, int64, error) {
	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '3s'`); err != nil {
		return 0, 0, err
	}
	const q = `
		SELECT total_copies, available_copies
		FROM books
		WHERE id = $1
		FOR UPDATE`
	var total, available int64
	err := tx.QueryRowContext(ctx, q, bookID).Scan(&total, &available)
	return total, available, err
}

func (r *repo) AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID, delta int64) error {
	// Guard: never leave [0, total_copies].
	const q = `
		UPDATE books
		SET available_copies = available_copies + $2
		WHERE id = $1
		AND available_copies + $2 >= 0
		AND available_copies + $2 <= total_copies`
	res, err := tx.ExecContext(ctx, q, bookID, delta)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return ErrStockInvariant
	}
	return nil
}

func (r *repo) AddCopies(ctx context.Context, tx *sql.Tx, bookID, n int64) error {
	const q = `
		UPDATE books
		SET total_copies = total_copies + $2,
			available_copies = available_copies + $2
		WHERE id = $1`
	res, err := tx.ExecContext(ctx, q, bookID, n)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return sql.ErrNoRows
	}
	return nil
}
