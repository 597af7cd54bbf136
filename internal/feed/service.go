package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/strivelabs/strive/internal/activities"
	"github.com/strivelabs/strive/internal/notifications"
	"github.com/strivelabs/strive/internal/profiles"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 50
	recentCommentCount = 2
	maxCommentLength   = 2000
)

var (
	errMissingDatabase      = errors.New("database handle is required")
	errMissingIDProvider    = errors.New("id provider is required")
	errMissingNotifications = errors.New("notification service is required")
	noOpLogger              = zap.NewNop()

	// ErrClaimNotFound indicates the target claim does not exist.
	ErrClaimNotFound = errors.New("feed: claim not found")
	// ErrAlreadyLiked indicates the viewer already liked the claim.
	ErrAlreadyLiked = errors.New("feed: already liked")
	// ErrNotLiked indicates the viewer has no like to remove on the claim.
	ErrNotLiked = errors.New("feed: not liked")
	// ErrEmptyComment indicates a comment without usable text.
	ErrEmptyComment = errors.New("feed: empty comment")
)

const (
	opServiceNew   = "feed.service.new"
	opLoadPage     = "feed.load_page"
	opLikeClaim    = "feed.like_claim"
	opUnlikeClaim  = "feed.unlike_claim"
	opAddComment   = "feed.add_comment"
	opListComments = "feed.list_comments"
	opClaimOwner   = "feed.claim_owner"
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

// IDProvider issues identifiers for new like and comment rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the feed aggregator.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    IDProvider
	Notifications *notifications.Service
	Logger        *zap.Logger
}

// Service paginates the cross-user claim stream and merges like and comment
// summaries onto each page with batched queries keyed by the page's claim
// ids rather than per-entry round trips.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    IDProvider
	notifications *notifications.Service
	logger        *zap.Logger
}

// NewService constructs the feed aggregator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Notifications == nil {
		return nil, newServiceError(opServiceNew, "missing_notifications", errMissingNotifications)
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
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		notifications: cfg.Notifications,
		logger:        logger,
	}, nil
}

// LoadPage returns one feed window ordered by (created_at, id) descending.
// The cursor pins the position of the last entry of the previous page so
// concurrent inserts neither skip nor duplicate items.
func (s *Service) LoadPage(ctx context.Context, viewerID string, cursor *Cursor, limit int) (Page, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	query := s.db.WithContext(ctx).Model(&activities.ClaimedActivity{})
	if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND claim_id < ?)",
			cursor.CreatedAt.UTC(), cursor.CreatedAt.UTC(), cursor.ClaimID,
		)
	}

	var claims []activities.ClaimedActivity
	err := query.
		Order("created_at DESC, claim_id DESC").
		Limit(limit + 1).
		Find(&claims).Error
	if err != nil {
		s.logError(opLoadPage, "claims_query_failed", err)
		return Page{}, newServiceError(opLoadPage, "claims_query_failed", err)
	}

	hasMore := len(claims) > limit
	if hasMore {
		claims = claims[:limit]
	}
	if len(claims) == 0 {
		return Page{Entries: []Entry{}}, nil
	}

	entries, err := s.enrich(ctx, viewerID, claims)
	if err != nil {
		return Page{}, err
	}

	last := claims[len(claims)-1]
	page := Page{Entries: entries, HasMore: hasMore}
	if hasMore {
		page.NextCursor = EncodeCursor(&Cursor{CreatedAt: last.CreatedAt, ClaimID: last.ClaimID})
	}
	return page, nil
}

type countRow struct {
	ClaimID string
	Total   int
}

// enrich merges activity, profile, like, and comment summaries onto the
// page's claims via queries batched on the collected claim ids.
func (s *Service) enrich(ctx context.Context, viewerID string, claims []activities.ClaimedActivity) ([]Entry, error) {
	claimIDs := make([]string, 0, len(claims))
	activityIDs := make([]string, 0, len(claims))
	userIDs := make([]string, 0, len(claims))
	for _, claim := range claims {
		claimIDs = append(claimIDs, claim.ClaimID)
		activityIDs = append(activityIDs, claim.ActivityID)
		userIDs = append(userIDs, claim.UserID)
	}

	activityByID := make(map[string]activities.Activity, len(activityIDs))
	var activityRows []activities.Activity
	if err := s.db.WithContext(ctx).Where("activity_id IN ?", activityIDs).Find(&activityRows).Error; err != nil {
		s.logError(opLoadPage, "activities_query_failed", err)
		return nil, newServiceError(opLoadPage, "activities_query_failed", err)
	}
	for _, row := range activityRows {
		activityByID[row.ActivityID] = row
	}

	profileByID := make(map[string]profiles.Profile, len(userIDs))
	var profileRows []profiles.Profile
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&profileRows).Error; err != nil {
		s.logError(opLoadPage, "profiles_query_failed", err)
		return nil, newServiceError(opLoadPage, "profiles_query_failed", err)
	}
	for _, row := range profileRows {
		profileByID[row.UserID] = row
	}

	likeCounts := make(map[string]int, len(claimIDs))
	var likeRows []countRow
	err := s.db.WithContext(ctx).Model(&Like{}).
		Select("claim_id, COUNT(*) AS total").
		Where("claim_id IN ?", claimIDs).
		Group("claim_id").
		Scan(&likeRows).Error
	if err != nil {
		s.logError(opLoadPage, "likes_query_failed", err)
		return nil, newServiceError(opLoadPage, "likes_query_failed", err)
	}
	for _, row := range likeRows {
		likeCounts[row.ClaimID] = row.Total
	}

	viewerLiked := make(map[string]bool, len(claimIDs))
	if strings.TrimSpace(viewerID) != "" {
		var likedIDs []string
		err := s.db.WithContext(ctx).Model(&Like{}).
			Where("user_id = ? AND claim_id IN ?", viewerID, claimIDs).
			Pluck("claim_id", &likedIDs).Error
		if err != nil {
			s.logError(opLoadPage, "viewer_likes_query_failed", err)
			return nil, newServiceError(opLoadPage, "viewer_likes_query_failed", err)
		}
		for _, id := range likedIDs {
			viewerLiked[id] = true
		}
	}

	commentCounts := make(map[string]int, len(claimIDs))
	var commentCountRows []countRow
	err = s.db.WithContext(ctx).Model(&Comment{}).
		Select("claim_id, COUNT(*) AS total").
		Where("claim_id IN ?", claimIDs).
		Group("claim_id").
		Scan(&commentCountRows).Error
	if err != nil {
		s.logError(opLoadPage, "comments_query_failed", err)
		return nil, newServiceError(opLoadPage, "comments_query_failed", err)
	}
	for _, row := range commentCountRows {
		commentCounts[row.ClaimID] = row.Total
	}

	recentComments := make(map[string][]CommentPreview, len(claimIDs))
	var commentRows []Comment
	err = s.db.WithContext(ctx).
		Where("claim_id IN ?", claimIDs).
		Order("created_at DESC, comment_id DESC").
		Find(&commentRows).Error
	if err != nil {
		s.logError(opLoadPage, "comment_preview_query_failed", err)
		return nil, newServiceError(opLoadPage, "comment_preview_query_failed", err)
	}
	commentAuthors := make(map[string]bool)
	for _, row := range commentRows {
		if len(recentComments[row.ClaimID]) >= recentCommentCount {
			continue
		}
		commentAuthors[row.UserID] = true
		recentComments[row.ClaimID] = append(recentComments[row.ClaimID], CommentPreview{
			CommentID: row.CommentID,
			UserID:    row.UserID,
			Body:      row.Body,
			CreatedAt: row.CreatedAt,
		})
	}
	if len(commentAuthors) > 0 {
		missing := make([]string, 0, len(commentAuthors))
		for userID := range commentAuthors {
			if _, ok := profileByID[userID]; !ok {
				missing = append(missing, userID)
			}
		}
		if len(missing) > 0 {
			var extraProfiles []profiles.Profile
			if err := s.db.WithContext(ctx).Where("user_id IN ?", missing).Find(&extraProfiles).Error; err != nil {
				s.logError(opLoadPage, "comment_authors_query_failed", err)
				return nil, newServiceError(opLoadPage, "comment_authors_query_failed", err)
			}
			for _, row := range extraProfiles {
				profileByID[row.UserID] = row
			}
		}
		for claimID, previews := range recentComments {
			for index := range previews {
				previews[index].DisplayName = profileByID[previews[index].UserID].DisplayName
			}
			recentComments[claimID] = previews
		}
	}

	entries := make([]Entry, 0, len(claims))
	for _, claim := range claims {
		activity := activityByID[claim.ActivityID]
		profile := profileByID[claim.UserID]
		previews := recentComments[claim.ClaimID]
		if previews == nil {
			previews = []CommentPreview{}
		}
		entries = append(entries, Entry{
			ClaimID:        claim.ClaimID,
			UserID:         claim.UserID,
			DisplayName:    profile.DisplayName,
			AvatarURL:      profile.AvatarURL,
			ActivityID:     claim.ActivityID,
			ActivityName:   activity.Name,
			Points:         activity.Points,
			PhotoRefs:      claim.PhotoRefs(),
			CreatedAt:      claim.CreatedAt,
			LikeCount:      likeCounts[claim.ClaimID],
			ViewerLiked:    viewerLiked[claim.ClaimID],
			CommentCount:   commentCounts[claim.ClaimID],
			RecentComments: previews,
		})
	}
	return entries, nil
}

// LikeClaim records the viewer's like and notifies the claim owner.
func (s *Service) LikeClaim(ctx context.Context, viewerID, claimID string) (Like, error) {
	claim, err := s.claimByID(ctx, opLikeClaim, claimID)
	if err != nil {
		return Like{}, err
	}

	var existing int64
	err = s.db.WithContext(ctx).Model(&Like{}).
		Where("user_id = ? AND claim_id = ?", viewerID, claimID).
		Count(&existing).Error
	if err != nil {
		s.logError(opLikeClaim, "like_lookup_failed", err)
		return Like{}, newServiceError(opLikeClaim, "like_lookup_failed", err)
	}
	if existing > 0 {
		return Like{}, newServiceError(opLikeClaim, "already_liked", ErrAlreadyLiked)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Like{}, newServiceError(opLikeClaim, "id_generation_failed", err)
	}
	like := Like{LikeID: id, UserID: viewerID, ClaimID: claimID, CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&like).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Like{}, newServiceError(opLikeClaim, "already_liked", ErrAlreadyLiked)
		}
		s.logError(opLikeClaim, "insert_failed", err)
		return Like{}, newServiceError(opLikeClaim, "insert_failed", err)
	}

	if claim.UserID != viewerID {
		_, err := s.notifications.Create(ctx, notifications.CreateInput{
			UserID:  claim.UserID,
			ActorID: viewerID,
			Kind:    notifications.KindLike,
			ClaimID: claimID,
			Message: "liked your activity",
		})
		if err != nil {
			// The like stands even when the notification write fails.
			s.logError(opLikeClaim, "notification_failed", err)
		}
	}
	return like, nil
}

// UnlikeClaim removes the viewer's like from the claim.
func (s *Service) UnlikeClaim(ctx context.Context, viewerID, claimID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND claim_id = ?", viewerID, claimID).
		Delete(&Like{})
	if result.Error != nil {
		s.logError(opUnlikeClaim, "delete_failed", result.Error)
		return newServiceError(opUnlikeClaim, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUnlikeClaim, "not_liked", ErrNotLiked)
	}
	return nil
}

// AddComment records a comment and notifies the claim owner.
func (s *Service) AddComment(ctx context.Context, viewerID, claimID, body string) (Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Comment{}, newServiceError(opAddComment, "empty_comment", ErrEmptyComment)
	}
	if len(body) > maxCommentLength {
		// Back off to a rune boundary so the cut never stores invalid UTF-8.
		cut := maxCommentLength
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}

	claim, err := s.claimByID(ctx, opAddComment, claimID)
	if err != nil {
		return Comment{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Comment{}, newServiceError(opAddComment, "id_generation_failed", err)
	}
	comment := Comment{
		CommentID: id,
		UserID:    viewerID,
		ClaimID:   claimID,
		Body:      body,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opAddComment, "insert_failed", err)
		return Comment{}, newServiceError(opAddComment, "insert_failed", err)
	}

	if claim.UserID != viewerID {
		_, err := s.notifications.Create(ctx, notifications.CreateInput{
			UserID:  claim.UserID,
			ActorID: viewerID,
			Kind:    notifications.KindComment,
			ClaimID: claimID,
			Message: "commented on your activity",
		})
		if err != nil {
			s.logError(opAddComment, "notification_failed", err)
		}
	}
	return comment, nil
}

// ListComments returns every comment on a claim, oldest first.
func (s *Service) ListComments(ctx context.Context, claimID string) ([]Comment, error) {
	if _, err := s.claimByID(ctx, opListComments, claimID); err != nil {
		return nil, err
	}
	var rows []Comment
	err := s.db.WithContext(ctx).
		Where("claim_id = ?", claimID).
		Order("created_at, comment_id").
		Find(&rows).Error
	if err != nil {
		s.logError(opListComments, "query_failed", err)
		return nil, newServiceError(opListComments, "query_failed", err)
	}
	return rows, nil
}

// ClaimOwner resolves the user who owns a claim.
func (s *Service) ClaimOwner(ctx context.Context, claimID string) (string, error) {
	claim, err := s.claimByID(ctx, opClaimOwner, claimID)
	if err != nil {
		return "", err
	}
	return claim.UserID, nil
}

func (s *Service) claimByID(ctx context.Context, operation, claimID string) (activities.ClaimedActivity, error) {
	var claim activities.ClaimedActivity
	err := s.db.WithContext(ctx).Where("claim_id = ?", claimID).Take(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return activities.ClaimedActivity{}, newServiceError(operation, "claim_not_found", ErrClaimNotFound)
	}
	if err != nil {
		s.logError(operation, "claim_lookup_failed", err)
		return activities.ClaimedActivity{}, newServiceError(operation, "claim_lookup_failed", err)
	}
	return claim, nil
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
	s.logger.Error("feed service error", attrs...)
}
