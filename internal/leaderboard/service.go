// Package leaderboard ranks users by their denormalized point totals.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/strivelabs/strive/internal/profiles"
)

const dayLayout = "2006-01-02"

// Period selects which point bucket drives the ranking.
type Period string

const (
	// PeriodTotal ranks by all-time points.
	PeriodTotal Period = "total"
	// PeriodDaily ranks by today's points.
	PeriodDaily Period = "daily"
)

var (
	errMissingProfiles = errors.New("profile service is required")

	// ErrUnknownPeriod indicates an unsupported ranking period.
	ErrUnknownPeriod = errors.New("leaderboard: unknown period")
)

// Reward text shown for the podium ranks.
var rankRewards = map[int]string{
	1: "Gold — champion of the board",
	2: "Silver — one push from the top",
	3: "Bronze — on the podium",
}

// Entry is one ranked row of the standings.
type Entry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	TotalPoints int    `json:"total_points"`
	DailyPoints int    `json:"daily_points"`
	Reward      string `json:"reward,omitempty"`
}

// Standings is the ranked board for one period.
type Standings struct {
	Period     Period  `json:"period"`
	Entries    []Entry `json:"entries"`
	TotalUsers int     `json:"total_users"`
}

// ServiceConfig describes the dependencies of the leaderboard aggregator.
type ServiceConfig struct {
	Profiles *profiles.Service
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service builds standings from a single elevated read of all profiles. The
// sort is stable: users with equal points keep the fetch order, which is the
// only tie rule the data model defines.
type Service struct {
	profiles *profiles.Service
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the leaderboard aggregator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("leaderboard.service.new.missing_profiles: %w", errMissingProfiles)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{profiles: cfg.Profiles, clock: clock, logger: logger}, nil
}

// ParsePeriod maps external input to a ranking period. Empty input means
// total points.
func ParsePeriod(raw string) (Period, error) {
	switch Period(raw) {
	case PeriodTotal, "":
		return PeriodTotal, nil
	case PeriodDaily:
		return PeriodDaily, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
	}
}

// Standings returns the ranked board for the requested period.
func (s *Service) Standings(ctx context.Context, period Period) (Standings, error) {
	all, err := s.profiles.ListAll(ctx)
	if err != nil {
		s.logger.Error("leaderboard standings failed", zap.Error(err))
		return Standings{}, err
	}
	return Rank(all, period, s.clock().UTC().Format(dayLayout)), nil
}

// Rank sorts the provided profiles by the period's point bucket, descending,
// preserving input order on ties. Daily points count only when they were
// earned today; a stale day ranks as zero.
func Rank(all []profiles.Profile, period Period, today string) Standings {
	ranked := make([]profiles.Profile, len(all))
	copy(ranked, all)

	points := func(p profiles.Profile) int {
		if period == PeriodDaily {
			if p.DailyPointsDay != today {
				return 0
			}
			return p.DailyPoints
		}
		return p.TotalPoints
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return points(ranked[i]) > points(ranked[j])
	})

	entries := make([]Entry, 0, len(ranked))
	for index, profile := range ranked {
		rank := index + 1
		entries = append(entries, Entry{
			Rank:        rank,
			UserID:      profile.UserID,
			DisplayName: profile.DisplayName,
			AvatarURL:   profile.AvatarURL,
			TotalPoints: profile.TotalPoints,
			DailyPoints: dailyFor(profile, today),
			Reward:      rankRewards[rank],
		})
	}
	return Standings{Period: period, Entries: entries, TotalUsers: len(entries)}
}

func dailyFor(p profiles.Profile, today string) int {
	if p.DailyPointsDay != today {
		return 0
	}
	return p.DailyPoints
}
