package feed

import "time"

// Like marks one user's approval of one claim. The unique index enforces
// one like per (user, claim).
type Like struct {
	LikeID    string    `gorm:"column:like_id;primaryKey;size:190;not null" json:"like_id"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_likes_user_claim,priority:1" json:"user_id"`
	ClaimID   string    `gorm:"column:claim_id;size:190;not null;uniqueIndex:idx_likes_user_claim,priority:2;index" json:"claim_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "likes"
}

// Comment is a user's remark on a claim.
type Comment struct {
	CommentID string    `gorm:"column:comment_id;primaryKey;size:190;not null" json:"comment_id"`
	UserID    string    `gorm:"column:user_id;size:190;not null" json:"user_id"`
	ClaimID   string    `gorm:"column:claim_id;size:190;not null;index:idx_comments_claim_time,priority:1" json:"claim_id"`
	Body      string    `gorm:"column:body;type:text;not null" json:"body"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_comments_claim_time,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// CommentPreview is the trimmed comment shape embedded in feed entries.
type CommentPreview struct {
	CommentID   string    `json:"comment_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entry is one enriched feed item: the claim plus the social summary the
// feed view renders without further round trips.
type Entry struct {
	ClaimID        string           `json:"claim_id"`
	UserID         string           `json:"user_id"`
	DisplayName    string           `json:"display_name"`
	AvatarURL      string           `json:"avatar_url,omitempty"`
	ActivityID     string           `json:"activity_id"`
	ActivityName   string           `json:"activity_name"`
	Points         int              `json:"points"`
	PhotoRefs      []string         `json:"photo_refs"`
	CreatedAt      time.Time        `json:"created_at"`
	LikeCount      int              `json:"like_count"`
	ViewerLiked    bool             `json:"viewer_liked"`
	CommentCount   int              `json:"comment_count"`
	RecentComments []CommentPreview `json:"recent_comments"`
}

// Page is one window of the feed plus the token for the next older window.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}
