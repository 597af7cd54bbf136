package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strivelabs/strive/internal/activities"
	"github.com/strivelabs/strive/internal/email"
	"github.com/strivelabs/strive/internal/feed"
	"github.com/strivelabs/strive/internal/gratitude"
	"github.com/strivelabs/strive/internal/leaderboard"
	"github.com/strivelabs/strive/internal/notifications"
	"github.com/strivelabs/strive/internal/profiles"
	"github.com/strivelabs/strive/internal/storage"
	"github.com/strivelabs/strive/internal/wrapped"
)

const userIDContextKey = "strive_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingActivities    = errors.New("activities service dependency required")
	errMissingFeed          = errors.New("feed service dependency required")
	errMissingProfiles      = errors.New("profile service dependency required")
	errMissingNotifications = errors.New("notification service dependency required")
	errMissingLeaderboard   = errors.New("leaderboard service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates session tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Mailer sends templated and pre-rendered email.
type Mailer interface {
	SendTemplate(ctx context.Context, to string, template email.Template, data map[string]string) (string, error)
	Send(ctx context.Context, to string, message email.Message) (string, error)
}

// Dependencies wires the HTTP layer. Gratitude, Mailer, and Uploader are
// optional; their endpoints answer 503 when absent.
type Dependencies struct {
	TokenManager  TokenManager
	Activities    *activities.Service
	Feed          *feed.Service
	Leaderboard   *leaderboard.Service
	Profiles      *profiles.Service
	Notifications *notifications.Service
	Wrapped       *wrapped.Generator
	Gratitude     *gratitude.Service
	Mailer        Mailer
	Uploader      *storage.Uploader
	MediaBasePath string
	MediaRoot     string
	Realtime      *RealtimeDispatcher
	Clock         func() time.Time
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Activities == nil {
		return nil, errMissingActivities
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Leaderboard == nil {
		return nil, errMissingLeaderboard
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		activities:    deps.Activities,
		feed:          deps.Feed,
		leaderboard:   deps.Leaderboard,
		profiles:      deps.Profiles,
		notifications: deps.Notifications,
		wrapped:       deps.Wrapped,
		gratitude:     deps.Gratitude,
		mailer:        deps.Mailer,
		uploader:      deps.Uploader,
		realtime:      realtime,
		clock:         clock,
		logger:        logger,
	}

	router.POST("/auth/session", handler.handleSession)
	if deps.MediaBasePath != "" && deps.MediaRoot != "" {
		router.Static(deps.MediaBasePath, deps.MediaRoot)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	{
		protected.GET("/activities", handler.handleListCatalog)
		protected.POST("/activities", handler.handleCreatePersonal)
		protected.GET("/activities/claimed-today", handler.handleClaimedToday)
		protected.GET("/activities/progress", handler.handleProgress)
		protected.POST("/activities/:id/claim", handler.handleClaim)
		protected.POST("/activities/:id/undo", handler.handleUndo)

		protected.GET("/feed", handler.handleFeedPage)
		protected.POST("/feed/viewed", handler.handleFeedViewed)
		protected.GET("/feed/new-content", handler.handleFeedNewContent)

		protected.POST("/claims/:id/like", handler.handleLike)
		protected.DELETE("/claims/:id/like", handler.handleUnlike)
		protected.GET("/claims/:id/comments", handler.handleListComments)
		protected.POST("/claims/:id/comments", handler.handleAddComment)

		protected.GET("/leaderboard", handler.handleLeaderboard)

		protected.GET("/notifications", handler.handleListNotifications)
		protected.GET("/notifications/unread-count", handler.handleUnreadCount)
		protected.POST("/notifications/:id/read", handler.handleMarkRead)
		protected.POST("/notifications/read-all", handler.handleMarkAllRead)

		protected.GET("/profile", handler.handleGetProfile)
		protected.PATCH("/profile", handler.handleUpdateProfile)

		protected.GET("/wrapped", handler.handleWrapped)
		protected.POST("/gratitude/summarize", handler.handleGratitude)
		protected.POST("/email/send", handler.handleEmailSend)
		protected.POST("/photos", handler.handlePhotoUpload)
	}

	// SSE clients cannot set headers, so the stream authorizes through a
	// query parameter instead of the middleware.
	router.GET("/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	activities    *activities.Service
	feed          *feed.Service
	leaderboard   *leaderboard.Service
	profiles      *profiles.Service
	notifications *notifications.Service
	wrapped       *wrapped.Generator
	gratitude     *gratitude.Service
	mailer        Mailer
	uploader      *storage.Uploader
	realtime      *RealtimeDispatcher
	clock         func() time.Time
	logger        *zap.Logger
}

type sessionRequestPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
}

type sessionResponsePayload struct {
	AccessToken string           `json:"access_token"`
	ExpiresIn   int64            `json:"expires_in"`
	TokenType   string           `json:"token_type"`
	Profile     profiles.Profile `json:"profile"`
}

// handleSession ensures the profile exists and issues a session token. The
// identity itself is verified upstream; this endpoint trusts its gateway.
func (h *httpHandler) handleSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, created, err := h.profiles.Ensure(c.Request.Context(), profiles.EnsureInput{
		UserID:      request.UserID,
		DisplayName: request.DisplayName,
		Email:       request.Email,
		AvatarURL:   request.AvatarURL,
	})
	if err != nil {
		h.logger.Error("failed to ensure profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), profile.UserID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	if created && h.mailer != nil && profile.Email != "" {
		data := map[string]string{"name": profile.DisplayName}
		if _, err := h.mailer.SendTemplate(c.Request.Context(), profile.Email, email.TemplateWelcome, data); err != nil {
			h.logger.Warn("welcome email failed", zap.String("user_id", profile.UserID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Profile:     profile,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

// serviceStatus maps domain errors onto HTTP statuses; anything unknown is
// an internal error.
func serviceStatus(err error) int {
	switch {
	case errors.Is(err, activities.ErrActivityNotFound),
		errors.Is(err, feed.ErrClaimNotFound),
		errors.Is(err, notifications.ErrNotificationNotFound),
		errors.Is(err, profiles.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, activities.ErrAlreadyClaimed),
		errors.Is(err, activities.ErrNothingToUndo),
		errors.Is(err, feed.ErrAlreadyLiked),
		errors.Is(err, feed.ErrNotLiked),
		errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, activities.ErrPhotoRequired),
		errors.Is(err, feed.ErrEmptyComment),
		errors.Is(err, gratitude.ErrNoEntries),
		errors.Is(err, storage.ErrUnsupportedContentType),
		errors.Is(err, email.ErrUnknownTemplate),
		errors.Is(err, leaderboard.ErrUnknownPeriod),
		errors.Is(err, activities.ErrInvalidActivityID),
		errors.Is(err, activities.ErrInvalidUserID):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	status := serviceStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal_error"})
		return
	}

	code := "request_failed"
	var serviceErr interface{ Code() string }
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	c.JSON(status, gin.H{"error": code})
}
