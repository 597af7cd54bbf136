package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/strivelabs/strive/internal/profiles"
)

const dayLayout = "2006-01-02"

// ClaimState enumerates the per (user, activity, day) states of the engine.
type ClaimState string

const (
	// StateNotStarted means no claim and no progress exist.
	StateNotStarted ClaimState = "not_started"
	// StateInProgress means a progressive activity has accumulated 0 < k < N steps.
	StateInProgress ClaimState = "in_progress"
	// StateClaimed means a completed claim exists for the day.
	StateClaimed ClaimState = "claimed"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingProfiles   = errors.New("profile service is required")
	noOpLogger           = zap.NewNop()

	// ErrActivityNotFound indicates the activity does not exist or is not visible to the caller.
	ErrActivityNotFound = errors.New("activities: activity not found")
	// ErrAlreadyClaimed indicates a completed claim already exists for the day.
	ErrAlreadyClaimed = errors.New("activities: already claimed today")
	// ErrPhotoRequired indicates the activity demands a photo attachment.
	ErrPhotoRequired = errors.New("activities: photo required")
	// ErrNothingToUndo indicates no same-day claim and no progress exist to reverse.
	ErrNothingToUndo = errors.New("activities: nothing to undo")
)

const (
	opServiceNew     = "activities.service.new"
	opClaim          = "activities.claim"
	opUndo           = "activities.undo"
	opListCatalog    = "activities.list_catalog"
	opCreatePersonal = "activities.create_personal"
	opClaimedToday   = "activities.claimed_today"
	opProgressFor    = "activities.progress_for"
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

// IDProvider issues identifiers for new claim rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the claim engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Profiles   *profiles.Service
	Logger     *zap.Logger
}

// Service is the claim/undo engine: it turns a user's intent to complete an
// activity into either a completed claim row or a step on a progress record,
// and reverses that on undo. Point totals on the profile move in the same
// transaction as the claim rows, so the store never shows a claim without
// its points.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	profiles   *profiles.Service
	logger     *zap.Logger
}

// NewService constructs the claim engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Profiles == nil {
		return nil, newServiceError(opServiceNew, "missing_profiles", errMissingProfiles)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		profiles:   cfg.Profiles,
		logger:     logger,
	}, nil
}

// ClaimOutcome reports the state transition produced by a claim call.
type ClaimOutcome struct {
	State         ClaimState
	CurrentStep   int
	MaxProgress   int
	PointsAwarded int
	Claim         *ClaimedActivity
}

// UndoOutcome reports the state transition produced by an undo call.
type UndoOutcome struct {
	State         ClaimState
	CurrentStep   int
	PointsRevoked int
}

// Claim advances the state machine for (user, activity, today). Non-progressive
// activities go straight to claimed; progressive ones accumulate steps and
// complete when the final step lands. The final step inserts the claim with
// the accumulated photo set and deletes the progress record inside one
// transaction.
func (s *Service) Claim(ctx context.Context, userID UserID, activityID ActivityID, photoRef string) (ClaimOutcome, error) {
	activity, err := s.visibleActivity(ctx, opClaim, userID, activityID)
	if err != nil {
		return ClaimOutcome{}, err
	}

	photoRef = strings.TrimSpace(photoRef)
	if activity.RequiresPhoto && photoRef == "" {
		return ClaimOutcome{}, newServiceError(opClaim, "photo_required", ErrPhotoRequired)
	}

	now := s.clock().UTC()
	day := now.Format(dayLayout)

	claimed, err := s.claimExists(ctx, s.db, userID, activityID, day)
	if err != nil {
		s.logError(opClaim, "claim_lookup_failed", err, userID, activityID)
		return ClaimOutcome{}, newServiceError(opClaim, "claim_lookup_failed", err)
	}
	if claimed {
		return ClaimOutcome{}, newServiceError(opClaim, "already_claimed", ErrAlreadyClaimed)
	}

	if !activity.IsProgressive {
		return s.claimCompleted(ctx, userID, activity, day, now, []string{photoRef}, photoRef == "")
	}
	return s.claimStep(ctx, userID, activity, day, now, photoRef)
}

func (s *Service) claimCompleted(ctx context.Context, userID UserID, activity Activity, day string, now time.Time, photoRefs []string, noPhoto bool) (ClaimOutcome, error) {
	claimID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opClaim, "id_generation_failed", err, userID, ActivityID(activity.ActivityID))
		return ClaimOutcome{}, newServiceError(opClaim, "id_generation_failed", err)
	}

	claim := ClaimedActivity{
		ClaimID:    claimID,
		UserID:     userID.String(),
		ActivityID: activity.ActivityID,
		Day:        day,
		CreatedAt:  now,
	}
	if noPhoto {
		claim.SetPhotoRefs(nil)
	} else {
		claim.SetPhotoRefs(photoRefs)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&claim).Error; err != nil {
			// Unique index on (user, activity, day) is the remote backstop
			// behind the local pre-check.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return newServiceError(opClaim, "already_claimed", ErrAlreadyClaimed)
			}
			return newServiceError(opClaim, "claim_insert_failed", err)
		}
		if err := s.profiles.AdjustPoints(ctx, tx, userID.String(), activity.Points); err != nil {
			return newServiceError(opClaim, "points_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opClaim, "transaction_failed", txErr, userID, ActivityID(activity.ActivityID))
		return ClaimOutcome{}, txErr
	}

	return ClaimOutcome{
		State:         StateClaimed,
		CurrentStep:   activity.MaxProgress,
		MaxProgress:   activity.MaxProgress,
		PointsAwarded: activity.Points,
		Claim:         &claim,
	}, nil
}

func (s *Service) claimStep(ctx context.Context, userID UserID, activity Activity, day string, now time.Time, photoRef string) (ClaimOutcome, error) {
	var outcome ClaimOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record ProgressRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND activity_id = ?", userID.String(), activity.ActivityID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = ProgressRecord{
				UserID:      userID.String(),
				ActivityID:  activity.ActivityID,
				MaxProgress: activity.MaxProgress,
				FirstStepAt: now,
				LastStepAt:  now,
			}
			if err := record.AppendStep(photoRef, now); err != nil {
				return newServiceError(opClaim, "progress_append_failed", err)
			}
			if activity.MaxProgress <= 1 {
				// Single-step progressive behaves as a direct completion.
				return s.completeProgress(ctx, tx, userID, activity, day, now, &record, &outcome)
			}
			if err := tx.Create(&record).Error; err != nil {
				return newServiceError(opClaim, "progress_insert_failed", err)
			}
			outcome = ClaimOutcome{State: StateInProgress, CurrentStep: record.CurrentStep, MaxProgress: record.MaxProgress}
			return nil
		}
		if err != nil {
			return newServiceError(opClaim, "progress_lookup_failed", err)
		}

		if record.CurrentStep >= record.MaxProgress {
			return newServiceError(opClaim, "already_claimed", ErrAlreadyClaimed)
		}
		if err := record.AppendStep(photoRef, now); err != nil {
			return newServiceError(opClaim, "progress_append_failed", err)
		}

		if record.CurrentStep >= record.MaxProgress {
			return s.completeProgress(ctx, tx, userID, activity, day, now, &record, &outcome)
		}

		if err := tx.Save(&record).Error; err != nil {
			return newServiceError(opClaim, "progress_update_failed", err)
		}
		outcome = ClaimOutcome{State: StateInProgress, CurrentStep: record.CurrentStep, MaxProgress: record.MaxProgress}
		return nil
	})
	if txErr != nil {
		s.logError(opClaim, "transaction_failed", txErr, userID, ActivityID(activity.ActivityID))
		return ClaimOutcome{}, txErr
	}
	return outcome, nil
}

// completeProgress inserts the completed claim using the accumulated photo
// set and removes the progress record. Both writes share the caller's
// transaction, so a failure of either leaves no half-completed state behind.
func (s *Service) completeProgress(ctx context.Context, tx *gorm.DB, userID UserID, activity Activity, day string, now time.Time, record *ProgressRecord, outcome *ClaimOutcome) error {
	claimID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opClaim, "id_generation_failed", err)
	}

	photos := make([]string, 0, record.CurrentStep)
	for _, ref := range record.PhotoLog() {
		if strings.TrimSpace(ref) != "" {
			photos = append(photos, ref)
		}
	}

	claim := ClaimedActivity{
		ClaimID:    claimID,
		UserID:     userID.String(),
		ActivityID: activity.ActivityID,
		Day:        day,
		CreatedAt:  now,
	}
	claim.SetPhotoRefs(photos)

	if err := tx.Create(&claim).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return newServiceError(opClaim, "already_claimed", ErrAlreadyClaimed)
		}
		return newServiceError(opClaim, "claim_insert_failed", err)
	}
	result := tx.Where("user_id = ? AND activity_id = ?", userID.String(), activity.ActivityID).
		Delete(&ProgressRecord{})
	if result.Error != nil {
		return newServiceError(opClaim, "progress_delete_failed", result.Error)
	}
	if err := s.profiles.AdjustPoints(ctx, tx, userID.String(), activity.Points); err != nil {
		return newServiceError(opClaim, "points_update_failed", err)
	}

	*outcome = ClaimOutcome{
		State:         StateClaimed,
		CurrentStep:   activity.MaxProgress,
		MaxProgress:   activity.MaxProgress,
		PointsAwarded: activity.Points,
		Claim:         &claim,
	}
	return nil
}

// Undo reverses the most recent claim action for (user, activity, today):
// a completed same-day claim is deleted outright, a mid-flight progressive
// activity loses its most recent step, and an undo with nothing to reverse
// is a coded error rather than a silent no-op.
func (s *Service) Undo(ctx context.Context, userID UserID, activityID ActivityID) (UndoOutcome, error) {
	activity, err := s.visibleActivity(ctx, opUndo, userID, activityID)
	if err != nil {
		return UndoOutcome{}, err
	}

	day := s.clock().UTC().Format(dayLayout)
	var outcome UndoOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claim ClaimedActivity
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND activity_id = ? AND day = ?", userID.String(), activityID.String(), day).
			Take(&claim).Error
		if err == nil {
			if err := tx.Delete(&ClaimedActivity{}, "claim_id = ?", claim.ClaimID).Error; err != nil {
				return newServiceError(opUndo, "claim_delete_failed", err)
			}
			if err := s.profiles.AdjustPoints(ctx, tx, userID.String(), -activity.Points); err != nil {
				return newServiceError(opUndo, "points_update_failed", err)
			}
			outcome = UndoOutcome{State: StateNotStarted, PointsRevoked: activity.Points}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUndo, "claim_lookup_failed", err)
		}

		var record ProgressRecord
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND activity_id = ?", userID.String(), activityID.String()).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUndo, "nothing_to_undo", ErrNothingToUndo)
		}
		if err != nil {
			return newServiceError(opUndo, "progress_lookup_failed", err)
		}

		if err := record.PopStep(); err != nil {
			return newServiceError(opUndo, "nothing_to_undo", ErrNothingToUndo)
		}
		if record.CurrentStep == 0 {
			// No zero-progress rows persist.
			result := tx.Where("user_id = ? AND activity_id = ?", userID.String(), activityID.String()).
				Delete(&ProgressRecord{})
			if result.Error != nil {
				return newServiceError(opUndo, "progress_delete_failed", result.Error)
			}
			outcome = UndoOutcome{State: StateNotStarted}
			return nil
		}
		if err := tx.Save(&record).Error; err != nil {
			return newServiceError(opUndo, "progress_update_failed", err)
		}
		outcome = UndoOutcome{State: StateInProgress, CurrentStep: record.CurrentStep}
		return nil
	})
	if txErr != nil {
		s.logError(opUndo, "transaction_failed", txErr, userID, activityID)
		return UndoOutcome{}, txErr
	}
	return outcome, nil
}

// ListCatalog returns the shared catalog plus the caller's personal entries.
func (s *Service) ListCatalog(ctx context.Context, userID UserID) ([]Activity, error) {
	var catalog []Activity
	err := s.db.WithContext(ctx).
		Where("owner_user_id = '' OR owner_user_id = ?", userID.String()).
		Order("category, name").
		Find(&catalog).Error
	if err != nil {
		s.logError(opListCatalog, "query_failed", err, userID, "")
		return nil, newServiceError(opListCatalog, "query_failed", err)
	}
	return catalog, nil
}

// PersonalActivityInput describes a user-defined catalog entry.
type PersonalActivityInput struct {
	Name          string
	Points        int
	RequiresPhoto bool
	IsProgressive bool
	MaxProgress   int
	Category      string
}

// CreatePersonal adds a personal activity owned by the caller.
func (s *Service) CreatePersonal(ctx context.Context, userID UserID, input PersonalActivityInput) (Activity, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Activity{}, newServiceError(opCreatePersonal, "missing_name", fmt.Errorf("activity name is required"))
	}
	if input.Points <= 0 {
		return Activity{}, newServiceError(opCreatePersonal, "invalid_points", fmt.Errorf("points must be positive"))
	}
	maxProgress := input.MaxProgress
	if !input.IsProgressive {
		maxProgress = 0
	} else if maxProgress < 2 {
		return Activity{}, newServiceError(opCreatePersonal, "invalid_max_progress", fmt.Errorf("progressive activities need at least 2 steps"))
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Activity{}, newServiceError(opCreatePersonal, "id_generation_failed", err)
	}
	activity := Activity{
		ActivityID:    id,
		Name:          name,
		Points:        input.Points,
		RequiresPhoto: input.RequiresPhoto,
		IsProgressive: input.IsProgressive,
		MaxProgress:   maxProgress,
		OwnerUserID:   userID.String(),
		Category:      strings.TrimSpace(input.Category),
	}
	if err := s.db.WithContext(ctx).Create(&activity).Error; err != nil {
		s.logError(opCreatePersonal, "insert_failed", err, userID, ActivityID(id))
		return Activity{}, newServiceError(opCreatePersonal, "insert_failed", err)
	}
	return activity, nil
}

// ClaimedToday lists the caller's completed claims for the current day.
func (s *Service) ClaimedToday(ctx context.Context, userID UserID) ([]ClaimedActivity, error) {
	day := s.clock().UTC().Format(dayLayout)
	var claims []ClaimedActivity
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID.String(), day).
		Order("created_at DESC").
		Find(&claims).Error
	if err != nil {
		s.logError(opClaimedToday, "query_failed", err, userID, "")
		return nil, newServiceError(opClaimedToday, "query_failed", err)
	}
	return claims, nil
}

// ProgressFor lists the caller's mid-flight progress records.
func (s *Service) ProgressFor(ctx context.Context, userID UserID) ([]ProgressRecord, error) {
	var records []ProgressRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("last_step_at DESC").
		Find(&records).Error
	if err != nil {
		s.logError(opProgressFor, "query_failed", err, userID, "")
		return nil, newServiceError(opProgressFor, "query_failed", err)
	}
	return records, nil
}

// ClaimHistory returns every claim a user made inside [from, to), oldest
// first. The wrapped generator consumes this.
func (s *Service) ClaimHistory(ctx context.Context, userID UserID, from, to time.Time) ([]ClaimedActivity, error) {
	var claims []ClaimedActivity
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID.String(), from.UTC(), to.UTC()).
		Order("created_at").
		Find(&claims).Error
	if err != nil {
		return nil, newServiceError(opClaimedToday, "query_failed", err)
	}
	return claims, nil
}

// ActivitiesByID loads activities keyed by identifier regardless of
// ownership; the feed and wrapped generators use it to join claim rows.
func (s *Service) ActivitiesByID(ctx context.Context, ids []string) (map[string]Activity, error) {
	byID := make(map[string]Activity, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}
	var rows []Activity
	if err := s.db.WithContext(ctx).Where("activity_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, newServiceError(opListCatalog, "query_failed", err)
	}
	for _, row := range rows {
		byID[row.ActivityID] = row
	}
	return byID, nil
}

func (s *Service) visibleActivity(ctx context.Context, operation string, userID UserID, activityID ActivityID) (Activity, error) {
	var activity Activity
	err := s.db.WithContext(ctx).
		Where("activity_id = ?", activityID.String()).
		Take(&activity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Activity{}, newServiceError(operation, "activity_not_found", ErrActivityNotFound)
	}
	if err != nil {
		s.logError(operation, "activity_lookup_failed", err, userID, activityID)
		return Activity{}, newServiceError(operation, "activity_lookup_failed", err)
	}
	if !activity.Shared() && activity.OwnerUserID != userID.String() {
		return Activity{}, newServiceError(operation, "activity_not_found", ErrActivityNotFound)
	}
	return activity, nil
}

func (s *Service) claimExists(ctx context.Context, tx *gorm.DB, userID UserID, activityID ActivityID, day string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&ClaimedActivity{}).
		Where("user_id = ? AND activity_id = ? AND day = ?", userID.String(), activityID.String(), day).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) logError(operation, reason string, err error, userID UserID, activityID ActivityID) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("user_id", userID.String()),
	}
	if activityID != "" {
		attrs = append(attrs, zap.String("activity_id", activityID.String()))
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	s.logger.Error("activities service error", attrs...)
}
