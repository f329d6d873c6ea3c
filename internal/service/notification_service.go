package service

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/metrics"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/repository"
	"github.com/google/uuid"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
	pushTimeout              = 3 * time.Second
)

// Transport pushes a persisted notification to live subscribers. Delivery is best-effort.
type Transport interface {
	Push(ctx context.Context, n *models.Notification) error
}

type NotificationService interface {
	// Emit persists a notification in the caller's transaction, if any, and
	// pushes it once that transaction commits.
	Emit(ctx context.Context, userID, notifType, title, message string, related models.JSONMap) (*models.Notification, error)
	List(ctx context.Context, userID string, afterSeq int64, unreadOnly bool, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type notificationService struct {
	repo      repository.NotificationRepository
	tx        repository.Transactor
	transport Transport
	policy    Policy
}

func NewNotificationService(repo repository.NotificationRepository, tx repository.Transactor, transport Transport, policy Policy) NotificationService {
	return &notificationService{
		repo:      repo,
		tx:        tx,
		transport: transport,
		policy:    policy,
	}
}

func (s *notificationService) Emit(ctx context.Context, userID, notifType, title, message string, related models.JSONMap) (*models.Notification, error) {
	n := &models.Notification{
		ID:         uuid.New().String(),
		UserID:     userID,
		Type:       notifType,
		Title:      title,
		Message:    message,
		RelatedIDs: related,
		CreatedAt:  s.policy.now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, apperrors.Internal("failed to store notification", err)
	}
	metrics.NotificationsEmitted.WithLabelValues(notifType).Inc()

	if s.transport != nil {
		s.tx.AfterCommit(ctx, func() {
			pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
			defer cancel()
			if err := s.transport.Push(pushCtx, n); err != nil {
				metrics.NotificationPushFailures.Inc()
				slog.WarnContext(ctx, "notification push failed",
					"notification_id", n.ID, "user_id", userID, "type", notifType, "error", err)
			}
		})
	}
	return n, nil
}

func (s *notificationService) List(ctx context.Context, userID string, afterSeq int64, unreadOnly bool, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	list, err := s.repo.ListForUser(ctx, userID, afterSeq, unreadOnly, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to list notifications", err)
	}
	return list, nil
}

// MarkRead is idempotent: marking an already read notification succeeds and keeps the first read time.
func (s *notificationService) MarkRead(ctx context.Context, userID, id string) error {
	ok, err := s.repo.MarkRead(ctx, userID, id, s.policy.now())
	if err != nil {
		return apperrors.Internal("failed to mark notification read", err)
	}
	if !ok {
		return apperrors.NotFound("notification")
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, s.policy.now())
	if err != nil {
		return 0, apperrors.Internal("failed to mark notifications read", err)
	}
	return n, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperrors.Internal("failed to count notifications", err)
	}
	return n, nil
}
