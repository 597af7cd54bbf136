package profiles

import "time"

// Profile holds the per-user denormalized state the rest of the service reads:
// display identity, point totals, and the bookkeeping timestamps for the feed
// presence indicator and the wrapped/gratitude generators.
type Profile struct {
	UserID             string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	DisplayName        string    `gorm:"column:display_name;size:320" json:"display_name"`
	Email              string    `gorm:"column:email;size:320" json:"email"`
	AvatarURL          string    `gorm:"column:avatar_url;size:512" json:"avatar_url,omitempty"`
	TotalPoints        int       `gorm:"column:total_points;not null;default:0" json:"total_points"`
	DailyPoints        int       `gorm:"column:daily_points;not null;default:0" json:"daily_points"`
	DailyPointsDay     string    `gorm:"column:daily_points_day;size:10;not null;default:''" json:"-"`
	LastViewedFeedAt   time.Time `gorm:"column:last_viewed_feed_at" json:"last_viewed_feed_at"`
	WrappedGeneratedAt time.Time `gorm:"column:wrapped_generated_at" json:"wrapped_generated_at"`
	GratitudeSummary   string    `gorm:"column:gratitude_summary;type:text" json:"gratitude_summary,omitempty"`
	GratitudeUpdatedAt time.Time `gorm:"column:gratitude_updated_at" json:"gratitude_updated_at"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "profiles"
}
