// Package wrapped computes the end-of-period retrospective summary from a
// user's claim history.
package wrapped

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/strivelabs/strive/internal/activities"
	"github.com/strivelabs/strive/internal/profiles"
)

const (
	dayLayout     = "2006-01-02"
	maxPhotoRefs  = 50
	topActivities = 5
)

var (
	errMissingActivities = errors.New("activities service is required")
	errMissingProfiles   = errors.New("profile service is required")
)

// TopActivity is one of the most-claimed activities of the period.
type TopActivity struct {
	ActivityID string `json:"activity_id"`
	Name       string `json:"name"`
	Count      int    `json:"count"`
}

// Summary is the aggregate wrapped payload for one user and period.
type Summary struct {
	UserID          string        `json:"user_id"`
	PeriodStart     time.Time     `json:"period_start"`
	PeriodEnd       time.Time     `json:"period_end"`
	TotalActivities int           `json:"total_activities"`
	TotalPoints     int           `json:"total_points"`
	ActiveDays      int           `json:"active_days"`
	LongestStreak   int           `json:"longest_streak"`
	CurrentStreak   int           `json:"current_streak"`
	TopActivities   []TopActivity `json:"top_activities"`
	Achievements    []Achievement `json:"achievements"`
	PhotoRefs       []string      `json:"photo_refs"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// GeneratorConfig describes the dependencies of the wrapped generator.
type GeneratorConfig struct {
	Activities *activities.Service
	Profiles   *profiles.Service
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Generator produces wrapped summaries on demand. Each invocation is a
// stateless pass over the period's claim history; the only side effect is
// the completion timestamp written back to the profile.
type Generator struct {
	activities *activities.Service
	profiles   *profiles.Service
	clock      func() time.Time
	logger     *zap.Logger
}

// NewGenerator constructs the wrapped generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Activities == nil {
		return nil, fmt.Errorf("wrapped.generator.new.missing_activities: %w", errMissingActivities)
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("wrapped.generator.new.missing_profiles: %w", errMissingProfiles)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{activities: cfg.Activities, profiles: cfg.Profiles, clock: clock, logger: logger}, nil
}

// Generate builds the summary for the calendar year containing the current
// moment and stamps the completion time on the profile.
func (g *Generator) Generate(ctx context.Context, userID activities.UserID) (Summary, error) {
	now := g.clock().UTC()
	start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	claims, err := g.activities.ClaimHistory(ctx, userID, start, end)
	if err != nil {
		g.logger.Error("wrapped claim history failed", zap.String("user_id", userID.String()), zap.Error(err))
		return Summary{}, err
	}

	activityIDs := make([]string, 0, len(claims))
	seen := make(map[string]bool, len(claims))
	for _, claim := range claims {
		if !seen[claim.ActivityID] {
			seen[claim.ActivityID] = true
			activityIDs = append(activityIDs, claim.ActivityID)
		}
	}
	activityByID, err := g.activities.ActivitiesByID(ctx, activityIDs)
	if err != nil {
		g.logger.Error("wrapped activity join failed", zap.String("user_id", userID.String()), zap.Error(err))
		return Summary{}, err
	}

	summary := Compute(userID.String(), claims, activityByID, now)
	summary.PeriodStart = start
	summary.PeriodEnd = end

	if err := g.profiles.RecordWrappedGenerated(ctx, userID.String(), now); err != nil {
		g.logger.Error("wrapped timestamp write failed", zap.String("user_id", userID.String()), zap.Error(err))
		return Summary{}, err
	}
	return summary, nil
}

// Compute derives the full summary from the claim rows. Pure: no storage
// access, no side effects.
func Compute(userID string, claims []activities.ClaimedActivity, activityByID map[string]activities.Activity, today time.Time) Summary {
	totalPoints := 0
	countByActivity := make(map[string]int)
	daySet := make(map[string]bool)
	photoRefs := make([]string, 0, maxPhotoRefs)

	for _, claim := range claims {
		activity := activityByID[claim.ActivityID]
		totalPoints += activity.Points
		countByActivity[claim.ActivityID]++
		daySet[claim.Day] = true

		if activity.IsProgressive {
			continue
		}
		for _, ref := range claim.PhotoRefs() {
			if len(photoRefs) >= maxPhotoRefs {
				break
			}
			photoRefs = append(photoRefs, ref)
		}
	}

	days := make([]string, 0, len(daySet))
	for day := range daySet {
		days = append(days, day)
	}
	sort.Strings(days)

	longest, current := Streaks(days, today)

	tops := make([]TopActivity, 0, len(countByActivity))
	for activityID, count := range countByActivity {
		tops = append(tops, TopActivity{
			ActivityID: activityID,
			Name:       activityByID[activityID].Name,
			Count:      count,
		})
	}
	sort.SliceStable(tops, func(i, j int) bool {
		if tops[i].Count != tops[j].Count {
			return tops[i].Count > tops[j].Count
		}
		return tops[i].Name < tops[j].Name
	})
	if len(tops) > topActivities {
		tops = tops[:topActivities]
	}

	categoryCounts := make(map[string]int)
	for activityID, count := range countByActivity {
		categoryCounts[activityByID[activityID].Category] += count
	}

	summary := Summary{
		UserID:          userID,
		TotalActivities: len(claims),
		TotalPoints:     totalPoints,
		ActiveDays:      len(days),
		LongestStreak:   longest,
		CurrentStreak:   current,
		TopActivities:   tops,
		PhotoRefs:       photoRefs,
		GeneratedAt:     today,
	}
	summary.Achievements = Evaluate(summary, categoryCounts)
	return summary
}

// Streaks scans the sorted distinct day strings for runs of exactly one
// calendar day between neighbours, returning the longest run and the run
// ending on today. A day without activity resets the current streak to zero.
func Streaks(sortedDays []string, today time.Time) (longest, current int) {
	if len(sortedDays) == 0 {
		return 0, 0
	}

	parsed := make([]time.Time, 0, len(sortedDays))
	for _, day := range sortedDays {
		t, err := time.Parse(dayLayout, day)
		if err != nil {
			continue
		}
		parsed = append(parsed, t)
	}
	if len(parsed) == 0 {
		return 0, 0
	}

	longest = 1
	run := 1
	for index := 1; index < len(parsed); index++ {
		if parsed[index].Sub(parsed[index-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	todayDay := today.UTC().Format(dayLayout)
	active := make(map[string]bool, len(sortedDays))
	for _, day := range sortedDays {
		active[day] = true
	}
	if !active[todayDay] {
		return longest, 0
	}
	cursor := today.UTC()
	for active[cursor.Format(dayLayout)] {
		current++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return longest, current
}
