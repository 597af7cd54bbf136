package activities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidActivityID indicates an activity identifier is empty or exceeds storage bounds.
	ErrInvalidActivityID = errors.New("activities: invalid activity id")
	// ErrInvalidUserID indicates a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("activities: invalid user id")
	// ErrProgressLogFull indicates an append past the configured step ceiling.
	ErrProgressLogFull = errors.New("activities: progress log full")
	// ErrProgressLogEmpty indicates a pop from an empty progress log.
	ErrProgressLogEmpty = errors.New("activities: progress log empty")
)

// ActivityID represents a validated activity identifier.
type ActivityID string

// NewActivityID validates raw input and returns an ActivityID.
func NewActivityID(rawInput string) (ActivityID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidActivityID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidActivityID, maxIdentifierLength)
	}
	return ActivityID(trimmed), nil
}

// String returns the underlying identifier.
func (id ActivityID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying identifier.
func (id UserID) String() string {
	return string(id)
}

// Activity describes one claimable catalog entry. Shared entries have an
// empty OwnerUserID; personal entries belong to exactly one user. Rows are
// immutable after creation except through data migrations.
type Activity struct {
	ActivityID    string    `gorm:"column:activity_id;primaryKey;size:190;not null" json:"activity_id"`
	Name          string    `gorm:"column:name;size:320;not null" json:"name"`
	Points        int       `gorm:"column:points;not null" json:"points"`
	RequiresPhoto bool      `gorm:"column:requires_photo;not null;default:false" json:"requires_photo"`
	IsProgressive bool      `gorm:"column:is_progressive;not null;default:false" json:"is_progressive"`
	MaxProgress   int       `gorm:"column:max_progress;not null;default:0" json:"max_progress"`
	OwnerUserID   string    `gorm:"column:owner_user_id;size:190;not null;default:'';index" json:"owner_user_id,omitempty"`
	Category      string    `gorm:"column:category;size:64;not null;default:''" json:"category"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Activity) TableName() string {
	return "activities"
}

// Shared reports whether the activity is visible to every user.
func (a Activity) Shared() bool {
	return a.OwnerUserID == ""
}

// ClaimedActivity records one completed claim of an activity by a user on a
// calendar day. Non-progressive activities carry at most one row per
// (user, activity, day), enforced by the unique index.
type ClaimedActivity struct {
	ClaimID       string    `gorm:"column:claim_id;primaryKey;size:190;not null" json:"claim_id"`
	UserID        string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_claims_user_activity_day,priority:1;index:idx_claims_created,priority:2" json:"user_id"`
	ActivityID    string    `gorm:"column:activity_id;size:190;not null;uniqueIndex:idx_claims_user_activity_day,priority:2" json:"activity_id"`
	Day           string    `gorm:"column:day;size:10;not null;uniqueIndex:idx_claims_user_activity_day,priority:3" json:"day"`
	PhotoRefsJSON string    `gorm:"column:photo_refs_json;type:text;not null;default:'[]'" json:"-"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index:idx_claims_created,priority:1" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (ClaimedActivity) TableName() string {
	return "claimed_activities"
}

// PhotoRefs decodes the attached photo references, oldest first.
func (c ClaimedActivity) PhotoRefs() []string {
	return decodeStringLog(c.PhotoRefsJSON)
}

// SetPhotoRefs encodes the attachment set onto the row.
func (c *ClaimedActivity) SetPhotoRefs(refs []string) {
	c.PhotoRefsJSON = encodeStringLog(refs)
}

// ProgressRecord accumulates steps toward a progressive activity. The photo
// and timestamp logs are append-only with index = step number - 1, bounds
// checked against MaxProgress. A row exists only while 0 < CurrentStep < MaxProgress.
type ProgressRecord struct {
	UserID        string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	ActivityID    string    `gorm:"column:activity_id;primaryKey;size:190;not null" json:"activity_id"`
	CurrentStep   int       `gorm:"column:current_step;not null" json:"current_step"`
	MaxProgress   int       `gorm:"column:max_progress;not null" json:"max_progress"`
	PhotoLogJSON  string    `gorm:"column:photo_log_json;type:text;not null;default:'[]'" json:"-"`
	StepTimesJSON string    `gorm:"column:step_times_json;type:text;not null;default:'[]'" json:"-"`
	FirstStepAt   time.Time `gorm:"column:first_step_at;not null" json:"first_step_at"`
	LastStepAt    time.Time `gorm:"column:last_step_at;not null" json:"last_step_at"`
}

// TableName provides the explicit table binding for GORM.
func (ProgressRecord) TableName() string {
	return "progress_tracking"
}

// PhotoLog decodes the per-step photo references.
func (p ProgressRecord) PhotoLog() []string {
	return decodeStringLog(p.PhotoLogJSON)
}

// StepTimes decodes the per-step completion timestamps.
func (p ProgressRecord) StepTimes() []time.Time {
	var times []time.Time
	if p.StepTimesJSON == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(p.StepTimesJSON), &times); err != nil {
		return nil
	}
	return times
}

// AppendStep writes the photo and timestamp for the step at the current
// cursor, rejecting appends past the step ceiling.
func (p *ProgressRecord) AppendStep(photoRef string, at time.Time) error {
	photos := p.PhotoLog()
	times := p.StepTimes()
	if len(photos) >= p.MaxProgress || len(times) >= p.MaxProgress {
		return ErrProgressLogFull
	}
	photos = append(photos, photoRef)
	times = append(times, at.UTC())
	p.PhotoLogJSON = encodeStringLog(photos)
	p.StepTimesJSON = encodeTimeLog(times)
	p.CurrentStep = len(times)
	p.LastStepAt = at.UTC()
	return nil
}

// PopStep removes the most recent photo and timestamp pair.
func (p *ProgressRecord) PopStep() error {
	photos := p.PhotoLog()
	times := p.StepTimes()
	if len(photos) == 0 || len(times) == 0 {
		return ErrProgressLogEmpty
	}
	photos = photos[:len(photos)-1]
	times = times[:len(times)-1]
	p.PhotoLogJSON = encodeStringLog(photos)
	p.StepTimesJSON = encodeTimeLog(times)
	p.CurrentStep = len(times)
	if len(times) > 0 {
		p.LastStepAt = times[len(times)-1]
	}
	return nil
}

func decodeStringLog(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func encodeStringLog(values []string) string {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func encodeTimeLog(values []time.Time) string {
	if values == nil {
		values = []time.Time{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
