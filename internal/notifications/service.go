package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/strivelabs/strive/internal/activities"
	"github.com/strivelabs/strive/internal/profiles"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()

	// ErrNotificationNotFound indicates the id does not belong to the caller.
	ErrNotificationNotFound = errors.New("notifications: notification not found")
)

const (
	opServiceNew  = "notifications.service.new"
	opCreate      = "notifications.create"
	opList        = "notifications.list"
	opUnreadCount = "notifications.unread_count"
	opMarkRead    = "notifications.mark_read"
	opMarkAllRead = "notifications.mark_all_read"
	opNewContent  = "notifications.has_new_feed_content"
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for new notification rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the notification layer.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service maintains the per-user notification feed and the separate
// "new feed content" presence indicator.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// CreateInput describes a notification to record.
type CreateInput struct {
	UserID  string
	ActorID string
	Kind    Kind
	ClaimID string
	Message string
}

// Create records a notification for the recipient.
func (s *Service) Create(ctx context.Context, input CreateInput) (Notification, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return Notification{}, newServiceError(opCreate, "missing_user_id", errMissingUserID)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Notification{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	notification := Notification{
		NotificationID: id,
		UserID:         input.UserID,
		ActorID:        input.ActorID,
		Kind:           input.Kind,
		ClaimID:        input.ClaimID,
		Message:        input.Message,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", input.UserID))
		return Notification{}, newServiceError(opCreate, "insert_failed", err)
	}
	return notification, nil
}

// List returns the user's notifications, newest first, capped at limit.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newServiceError(opList, "missing_user_id", errMissingUserID)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, notification_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return rows, nil
}

// UnreadCount returns the number of unread notifications for the user.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, newServiceError(opUnreadCount, "missing_user_id", errMissingUserID)
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		s.logError(opUnreadCount, "query_failed", err, zap.String("user_id", userID))
		return 0, newServiceError(opUnreadCount, "query_failed", err)
	}
	return count, nil
}

// MarkRead flips one notification to read. Marking an already-read row is a
// no-op success; a row belonging to someone else is not found.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	if strings.TrimSpace(userID) == "" {
		return newServiceError(opMarkRead, "missing_user_id", errMissingUserID)
	}
	var row Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND notification_id = ?", userID, notificationID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opMarkRead, "not_found", ErrNotificationNotFound)
	}
	if err != nil {
		s.logError(opMarkRead, "query_failed", err, zap.String("user_id", userID))
		return newServiceError(opMarkRead, "query_failed", err)
	}
	if row.Read {
		return nil
	}
	err = s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND notification_id = ?", userID, notificationID).
		Update("read", true).Error
	if err != nil {
		s.logError(opMarkRead, "update_failed", err, zap.String("user_id", userID))
		return newServiceError(opMarkRead, "update_failed", err)
	}
	return nil
}

// MarkAllRead flips every unread notification for the user.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return newServiceError(opMarkAllRead, "missing_user_id", errMissingUserID)
	}
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error
	if err != nil {
		s.logError(opMarkAllRead, "update_failed", err, zap.String("user_id", userID))
		return newServiceError(opMarkAllRead, "update_failed", err)
	}
	return nil
}

// HasNewFeedContent reports whether any claim landed after the user's last
// recorded feed view. It reads the claim stream directly and does not
// consult the notification table.
func (s *Service) HasNewFeedContent(ctx context.Context, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, newServiceError(opNewContent, "missing_user_id", errMissingUserID)
	}
	var profile profiles.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, newServiceError(opNewContent, "profile_not_found", profiles.ErrProfileNotFound)
	}
	if err != nil {
		s.logError(opNewContent, "profile_query_failed", err, zap.String("user_id", userID))
		return false, newServiceError(opNewContent, "profile_query_failed", err)
	}

	var count int64
	err = s.db.WithContext(ctx).Model(&activities.ClaimedActivity{}).
		Where("created_at > ?", profile.LastViewedFeedAt).
		Count(&count).Error
	if err != nil {
		s.logError(opNewContent, "claims_query_failed", err, zap.String("user_id", userID))
		return false, newServiceError(opNewContent, "claims_query_failed", err)
	}
	return count > 0, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notifications service error", attrs...)
}
