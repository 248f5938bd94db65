// repository/notification/repo.go
package notification

import (
	"context"
	"database/sql"

	"unilibrary/model"
)

type Repo interface {
	Insert(ctx context.Context, n *model.Notification) error
	ListMine(ctx context.Context, userID int64) ([]model.Notification, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db: db} }

func (r *repo) Insert(ctx context.Context, n *model.Notification) error {
	const q = `
		INSERT INTO notifications (user_id, kind, message, entity_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, q, n.UserID, n.Kind, n.Message, n.EntityID).
		Scan(&n.ID, &n.CreatedAt)
}

func (r *repo) ListMine(ctx context.Context, userID int64) ([]model.Notification, error) {
	const q = `
		SELECT id, user_id, kind, message, entity_id, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 100`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &n.EntityID, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
