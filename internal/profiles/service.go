package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dayLayout = "2006-01-02"

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	noOpLogger         = zap.NewNop()

	// ErrProfileNotFound indicates no profile row exists for the user.
	ErrProfileNotFound = errors.New("profiles: profile not found")
)

const (
	opServiceNew   = "profiles.service.new"
	opEnsure       = "profiles.ensure"
	opGet          = "profiles.get"
	opUpdate       = "profiles.update"
	opAdjustPoints = "profiles.adjust_points"
	opListAll      = "profiles.list_all"
	opTouchFeed    = "profiles.touch_feed_viewed"
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

// ServiceConfig describes the dependencies for the profile store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns the profiles table: identity fields plus the denormalized
// point totals maintained on behalf of the claim engine.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// EnsureInput carries the identity fields captured at registration.
type EnsureInput struct {
	UserID      string
	DisplayName string
	Email       string
	AvatarURL   string
}

// Ensure creates the profile row on first sight of a user and refreshes
// identity fields on subsequent calls. The second return reports whether
// the row was created by this call. Point totals are never touched here.
func (s *Service) Ensure(ctx context.Context, input EnsureInput) (Profile, bool, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return Profile{}, false, newServiceError(opEnsure, "missing_user_id", errMissingUserID)
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = Profile{
			UserID:      userID,
			DisplayName: strings.TrimSpace(input.DisplayName),
			Email:       strings.TrimSpace(input.Email),
			AvatarURL:   strings.TrimSpace(input.AvatarURL),
		}
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			s.logError(opEnsure, "create_failed", err, zap.String("user_id", userID))
			return Profile{}, false, newServiceError(opEnsure, "create_failed", err)
		}
		return profile, true, nil
	}
	if err != nil {
		s.logError(opEnsure, "query_failed", err, zap.String("user_id", userID))
		return Profile{}, false, newServiceError(opEnsure, "query_failed", err)
	}

	updates := map[string]interface{}{}
	if name := strings.TrimSpace(input.DisplayName); name != "" && name != profile.DisplayName {
		updates["display_name"] = name
		profile.DisplayName = name
	}
	if email := strings.TrimSpace(input.Email); email != "" && email != profile.Email {
		updates["email"] = email
		profile.Email = email
	}
	if avatar := strings.TrimSpace(input.AvatarURL); avatar != "" && avatar != profile.AvatarURL {
		updates["avatar_url"] = avatar
		profile.AvatarURL = avatar
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&Profile{}).
			Where("user_id = ?", userID).
			Updates(updates).Error; err != nil {
			s.logError(opEnsure, "update_failed", err, zap.String("user_id", userID))
			return Profile{}, false, newServiceError(opEnsure, "update_failed", err)
		}
	}
	return profile, false, nil
}

// Get loads one profile by user id.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, newServiceError(opGet, "missing_user_id", errMissingUserID)
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newServiceError(opGet, "not_found", ErrProfileNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("user_id", userID))
		return Profile{}, newServiceError(opGet, "query_failed", err)
	}
	return profile, nil
}

// UpdateInput carries the caller-editable profile fields.
type UpdateInput struct {
	DisplayName string
	AvatarURL   string
}

// Update applies caller-editable fields and returns the refreshed profile.
func (s *Service) Update(ctx context.Context, userID string, input UpdateInput) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, newServiceError(opUpdate, "missing_user_id", errMissingUserID)
	}
	updates := map[string]interface{}{}
	if name := strings.TrimSpace(input.DisplayName); name != "" {
		updates["display_name"] = name
	}
	if avatar := strings.TrimSpace(input.AvatarURL); avatar != "" {
		updates["avatar_url"] = avatar
	}
	if len(updates) > 0 {
		result := s.db.WithContext(ctx).Model(&Profile{}).
			Where("user_id = ?", userID).
			Updates(updates)
		if result.Error != nil {
			s.logError(opUpdate, "update_failed", result.Error, zap.String("user_id", userID))
			return Profile{}, newServiceError(opUpdate, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return Profile{}, newServiceError(opUpdate, "not_found", ErrProfileNotFound)
		}
	}
	return s.Get(ctx, userID)
}

// AdjustPoints applies a point delta to both totals inside the supplied
// transaction handle. Daily points roll over: when the stored day differs
// from the current day the daily bucket restarts at zero before the delta.
// Totals never go below zero even if an undo races a rollover.
func (s *Service) AdjustPoints(ctx context.Context, tx *gorm.DB, userID string, delta int) error {
	if tx == nil {
		tx = s.db
	}
	if strings.TrimSpace(userID) == "" {
		return newServiceError(opAdjustPoints, "missing_user_id", errMissingUserID)
	}

	var profile Profile
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opAdjustPoints, "not_found", ErrProfileNotFound)
	}
	if err != nil {
		s.logError(opAdjustPoints, "query_failed", err, zap.String("user_id", userID))
		return newServiceError(opAdjustPoints, "query_failed", err)
	}

	today := s.clock().UTC().Format(dayLayout)
	daily := profile.DailyPoints
	if profile.DailyPointsDay != today {
		daily = 0
	}
	daily += delta
	if daily < 0 {
		daily = 0
	}
	total := profile.TotalPoints + delta
	if total < 0 {
		total = 0
	}

	err = tx.WithContext(ctx).Model(&Profile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"total_points":     total,
			"daily_points":     daily,
			"daily_points_day": today,
		}).Error
	if err != nil {
		s.logError(opAdjustPoints, "update_failed", err, zap.String("user_id", userID))
		return newServiceError(opAdjustPoints, "update_failed", err)
	}
	return nil
}

// ListAll returns every profile in primary-key order. This is the elevated
// read path used by the leaderboard and the reminder batch; per-user scoping
// deliberately does not apply.
func (s *Service) ListAll(ctx context.Context) ([]Profile, error) {
	var all []Profile
	if err := s.db.WithContext(ctx).Order("user_id").Find(&all).Error; err != nil {
		s.logError(opListAll, "query_failed", err)
		return nil, newServiceError(opListAll, "query_failed", err)
	}
	return all, nil
}

// TouchFeedViewed stamps the moment the user last looked at the feed.
func (s *Service) TouchFeedViewed(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return newServiceError(opTouchFeed, "missing_user_id", errMissingUserID)
	}
	result := s.db.WithContext(ctx).Model(&Profile{}).
		Where("user_id = ?", userID).
		Update("last_viewed_feed_at", s.clock().UTC())
	if result.Error != nil {
		s.logError(opTouchFeed, "update_failed", result.Error, zap.String("user_id", userID))
		return newServiceError(opTouchFeed, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opTouchFeed, "not_found", ErrProfileNotFound)
	}
	return nil
}

// RecordWrappedGenerated stamps the wrapped completion time on the profile.
func (s *Service) RecordWrappedGenerated(ctx context.Context, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Profile{}).
		Where("user_id = ?", userID).
		Update("wrapped_generated_at", at.UTC()).Error
}

// RecordGratitudeSummary persists the summarizer output onto the profile.
func (s *Service) RecordGratitudeSummary(ctx context.Context, userID, summaryJSON string) error {
	return s.db.WithContext(ctx).Model(&Profile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"gratitude_summary":    summaryJSON,
			"gratitude_updated_at": s.clock().UTC(),
		}).Error
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
	s.logger.Error("profiles service error", attrs...)
}
