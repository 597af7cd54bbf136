package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strivelabs/strive/internal/activities"
	"github.com/strivelabs/strive/internal/email"
	"github.com/strivelabs/strive/internal/feed"
	"github.com/strivelabs/strive/internal/leaderboard"
	"github.com/strivelabs/strive/internal/profiles"
	"github.com/strivelabs/strive/internal/storage"
)

const maxPhotoUploadBytes = 10 << 20

func (h *httpHandler) handleListCatalog(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	typedUserID, err := activities.NewUserID(userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	catalog, err := h.activities.ListCatalog(c.Request.Context(), typedUserID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": catalog})
}

type createActivityPayload struct {
	Name          string `json:"name"`
	Points        int    `json:"points"`
	RequiresPhoto bool   `json:"requires_photo"`
	IsProgressive bool   `json:"is_progressive"`
	MaxProgress   int    `json:"max_progress"`
	Category      string `json:"category"`
}

func (h *httpHandler) handleCreatePersonal(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var request createActivityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	typedUserID, err := activities.NewUserID(userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	activity, err := h.activities.CreatePersonal(c.Request.Context(), typedUserID, activities.PersonalActivityInput{
		Name:          request.Name,
		Points:        request.Points,
		RequiresPhoto: request.RequiresPhoto,
		IsProgressive: request.IsProgressive,
		MaxProgress:   request.MaxProgress,
		Category:      request.Category,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, activity)
}

type claimedActivityPayload struct {
	activities.ClaimedActivity
	PhotoRefs []string `json:"photo_refs"`
}

func (h *httpHandler) handleClaimedToday(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	typedUserID, err := activities.NewUserID(userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	claims, err := h.activities.ClaimedToday(c.Request.Context(), typedUserID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	payload := make([]claimedActivityPayload, 0, len(claims))
	for _, claim := range claims {
		payload = append(payload, claimedActivityPayload{ClaimedActivity: claim, PhotoRefs: claim.PhotoRefs()})
	}
	c.JSON(http.StatusOK, gin.H{"claims": payload})
}

func (h *httpHandler) handleProgress(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	typedUserID, err := activities.NewUserID(userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	records, err := h.activities.ProgressFor(c.Request.Context(), typedUserID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": records})
}

type claimRequestPayload struct {
	PhotoRef string `json:"photo_ref"`
}

type claimResponsePayload struct {
	State         string                      `json:"state"`
	CurrentStep   int                         `json:"current_step"`
	MaxProgress   int                         `json:"max_progress,omitempty"`
	PointsAwarded int                         `json:"points_awarded"`
	Claim         *activities.ClaimedActivity `json:"claim,omitempty"`
}

func (h *httpHandler) handleClaim(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var request claimRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	typedUserID, err := activities.NewUserID(userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	typedActivityID, err := activities.NewActivityID(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	outcome, err := h.activities.Claim(c.Request.Context(), typedUserID, typedActivityID, request.PhotoRef)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishClaimChange(userID, typedActivityID.String(), outcome)

	c.JSON(http.StatusOK, claimResponsePayload{
		State:         string(outcome.State),
		CurrentStep:   outcome.CurrentStep,
		MaxProgress:   outcome.MaxProgress,
		PointsAwarded: outcome.PointsAwarded,
		Claim:         outcome.Claim,
	})
}

// publishClaimChange notifies the owner's stream, and broadcasts a feed item
// to every stream once the claim completes.
func (h *httpHandler) publishClaimChange(userID, activityID string, outcome activities.ClaimOutcome) {
	now := h.clock().UTC()
	message := RealtimeMessage{
		UserID:     userID,
		EventType:  RealtimeEventClaimChanged,
		ActorID:    userID,
		ActivityID: activityID,
		State:      string(outcome.State),
		Timestamp:  now,
	}
	if outcome.Claim != nil {
		message.ClaimID = outcome.Claim.ClaimID
	}
	h.realtime.Publish(message)

	if outcome.State == activities.StateClaimed && outcome.Claim != nil {
		h.realtime.Publish(RealtimeMessage{
			EventType:  RealtimeEventFeedItem,
			ActorID:    userID,
			ActivityID: activityID,
			ClaimID:    outcome.Claim.ClaimID,
			State:      string(outcome.State),
			Timestamp:  now,
		})
	}
}

type undoResponsePayload struct {
	State         string `json:"state"`
	CurrentStep   int    `json:"current_step"`
	PointsRevoked int    `json:"points_revoked"`
}

func (h *httpHandler) handleUndo(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	typedUserID, err := activities.NewUserID(userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	typedActivityID, err := activities.NewActivityID(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	outcome, err := h.activities.Undo(c.Request.Context(), typedUserID, typedActivityID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.realtime.Publish(RealtimeMessage{
		UserID:     userID,
		EventType:  RealtimeEventClaimChanged,
		ActorID:    userID,
		ActivityID: typedActivityID.String(),
		State:      string(outcome.State),
		Timestamp:  h.clock().UTC(),
	})

	c.JSON(http.StatusOK, undoResponsePayload{
		State:         string(outcome.State),
		CurrentStep:   outcome.CurrentStep,
		PointsRevoked: outcome.PointsRevoked,
	})
}

func (h *httpHandler) handleFeedPage(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	cursor, err := feed.DecodeCursor(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
	}
	page, err := h.feed.LoadPage(c.Request.Context(), userID, cursor, limit)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleFeedViewed(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	if err := h.profiles.TouchFeedViewed(c.Request.Context(), userID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleFeedNewContent(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	hasNew, err := h.notifications.HasNewFeedContent(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_new_content": hasNew})
}

func (h *httpHandler) handleLike(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	claimID := c.Param("id")
	like, err := h.feed.LikeClaim(c.Request.Context(), userID, claimID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishSocialEvent(c, userID, claimID)
	c.JSON(http.StatusCreated, like)
}

func (h *httpHandler) handleUnlike(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	if err := h.feed.UnlikeClaim(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type commentRequestPayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	claimID := c.Param("id")
	comment, err := h.feed.AddComment(c.Request.Context(), userID, claimID, request.Body)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishSocialEvent(c, userID, claimID)
	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}
	comments, err := h.feed.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

// publishSocialEvent pushes a notification event to the claim owner's
// stream. Actors never receive events for their own claims.
func (h *httpHandler) publishSocialEvent(c *gin.Context, actorID, claimID string) {
	ownerID, err := h.feed.ClaimOwner(c.Request.Context(), claimID)
	if err != nil {
		h.logger.Warn("claim owner lookup failed", zap.String("claim_id", claimID), zap.Error(err))
		return
	}
	if ownerID == actorID {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    ownerID,
		EventType: RealtimeEventNotification,
		ActorID:   actorID,
		ClaimID:   claimID,
		Timestamp: h.clock().UTC(),
	})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}
	period, err := leaderboard.ParsePeriod(c.Query("period"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	standings, err := h.leaderboard.Standings(c.Request.Context(), period)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, standings)
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}
	rows, err := h.notifications.List(c.Request.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": rows})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	count, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkAllRead(c.Request.Context(), userID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	profile, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type updateProfilePayload struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var request updateProfilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.profiles.Update(c.Request.Context(), userID, profiles.UpdateInput{
		DisplayName: request.DisplayName,
		AvatarURL:   request.AvatarURL,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleWrapped(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	if h.wrapped == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wrapped_unavailable"})
		return
	}
	typedUserID, err := activities.NewUserID(userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	summary, err := h.wrapped.Generate(c.Request.Context(), typedUserID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type gratitudePayload struct {
	Entries []string `json:"entries"`
}

func (h *httpHandler) handleGratitude(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	if h.gratitude == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "summarizer_unconfigured"})
		return
	}
	var request gratitudePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	summary, err := h.gratitude.Summarize(c.Request.Context(), userID, request.Entries)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type emailSendPayload struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
	Subject  string            `json:"subject"`
	HTMLBody string            `json:"html_body"`
	TextBody string            `json:"text_body"`
}

func (h *httpHandler) handleEmailSend(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}
	if h.mailer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mailer_unconfigured"})
		return
	}
	var request emailSendPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.To) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var messageID string
	if request.Template != "" {
		template, err := email.ParseTemplate(request.Template)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		messageID, err = h.mailer.SendTemplate(c.Request.Context(), request.To, template, request.Data)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
	} else {
		if request.Subject == "" || (request.HTMLBody == "" && request.TextBody == "") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_message_body"})
			return
		}
		var err error
		messageID, err = h.mailer.Send(c.Request.Context(), request.To, email.Message{
			Subject:  request.Subject,
			HTMLBody: request.HTMLBody,
			TextBody: request.TextBody,
		})
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message_id": messageID})
}

func (h *httpHandler) handlePhotoUpload(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	if h.uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unconfigured"})
		return
	}
	activityID := strings.TrimSpace(c.PostForm("activity_id"))
	if activityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_activity_id"})
		return
	}
	fileHeader, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_photo"})
		return
	}
	if fileHeader.Size > maxPhotoUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo_too_large"})
		return
	}
	ext, err := storage.ExtensionFor(fileHeader.Header.Get("Content-Type"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_photo"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxPhotoUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_photo"})
		return
	}

	key := storage.BuildKey(userID, activityID, ext, h.clock())
	url, err := h.uploader.Upload(c.Request.Context(), key, data)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key, "url": url})
}
