package notifications

import "time"

// Kind enumerates the social events that produce a notification.
type Kind string

const (
	// KindLike is emitted when someone likes a claim.
	KindLike Kind = "like"
	// KindComment is emitted when someone comments on a claim.
	KindComment Kind = "comment"
	// KindLeaderboard is emitted when a user's leaderboard position changes.
	KindLeaderboard Kind = "leaderboard"
)

// Notification is one row of a user's social event feed.
type Notification struct {
	NotificationID string    `gorm:"column:notification_id;primaryKey;size:190;not null" json:"notification_id"`
	UserID         string    `gorm:"column:user_id;size:190;not null;index:idx_notifications_user_time,priority:1" json:"user_id"`
	ActorID        string    `gorm:"column:actor_id;size:190;not null;default:''" json:"actor_id,omitempty"`
	Kind           Kind      `gorm:"column:kind;size:32;not null" json:"kind"`
	ClaimID        string    `gorm:"column:claim_id;size:190;not null;default:''" json:"claim_id,omitempty"`
	Message        string    `gorm:"column:message;type:text;not null" json:"message"`
	Read           bool      `gorm:"column:read;not null;default:false" json:"read"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index:idx_notifications_user_time,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}
