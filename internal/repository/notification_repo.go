package repository

import (
	"context"
	"time"

	"github.com/aditya/towbid/internal/models"
	"github.com/jmoiron/sqlx"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	// ListForUser returns notifications with seq > afterSeq in creation order.
	ListForUser(ctx context.Context, userID string, afterSeq int64, unreadOnly bool, limit int) ([]*models.Notification, error)
	// MarkRead is idempotent. It reports false when the notification does not belong to userID.
	MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.RelatedIDs == nil {
		n.RelatedIDs = models.JSONMap{}
	}
	query := `
		INSERT INTO notifications (id, user_id, type, title, message, related_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`
	return sqlx.GetContext(ctx, conn(ctx, r.db), &n.Seq, query,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.RelatedIDs, n.CreatedAt)
}

func (r *notificationRepository) ListForUser(ctx context.Context, userID string, afterSeq int64, unreadOnly bool, limit int) ([]*models.Notification, error) {
	var out []*models.Notification
	query := `
		SELECT * FROM notifications
		WHERE user_id = $1 AND seq > $2 AND ($3 = FALSE OR read_at IS NULL)
		ORDER BY seq ASC
		LIMIT $4
	`
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &out, query, userID, afterSeq, unreadOnly, limit)
	return out, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	query := `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $1)
		WHERE id = $2 AND user_id = $3
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, at, id, userID)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	query := `UPDATE notifications SET read_at = $1 WHERE user_id = $2 AND read_at IS NULL`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, at, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &n, query, userID)
	return n, err
}
