package wrapped

// Achievement is one earned badge in the wrapped summary.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type achievementRule struct {
	badge Achievement
	met   func(summary Summary, categoryCounts map[string]int) bool
}

// The badge list is fixed; every rule is a plain threshold check.
var achievementRules = []achievementRule{
	{
		badge: Achievement{ID: "first-steps", Name: "First Steps", Description: "Completed your first activity"},
		met: func(s Summary, _ map[string]int) bool {
			return s.TotalActivities >= 1
		},
	},
	{
		badge: Achievement{ID: "half-century", Name: "Half Century", Description: "Completed 50 activities"},
		met: func(s Summary, _ map[string]int) bool {
			return s.TotalActivities >= 50
		},
	},
	{
		badge: Achievement{ID: "double-century", Name: "Double Century", Description: "Completed 200 activities"},
		met: func(s Summary, _ map[string]int) bool {
			return s.TotalActivities >= 200
		},
	},
	{
		badge: Achievement{ID: "point-hoarder", Name: "Point Hoarder", Description: "Earned 500 points"},
		met: func(s Summary, _ map[string]int) bool {
			return s.TotalPoints >= 500
		},
	},
	{
		badge: Achievement{ID: "high-roller", Name: "High Roller", Description: "Earned 2000 points"},
		met: func(s Summary, _ map[string]int) bool {
			return s.TotalPoints >= 2000
		},
	},
	{
		badge: Achievement{ID: "week-warrior", Name: "Week Warrior", Description: "Kept a 7 day streak"},
		met: func(s Summary, _ map[string]int) bool {
			return s.LongestStreak >= 7
		},
	},
	{
		badge: Achievement{ID: "unstoppable", Name: "Unstoppable", Description: "Kept a 30 day streak"},
		met: func(s Summary, _ map[string]int) bool {
			return s.LongestStreak >= 30
		},
	},
	{
		badge: Achievement{ID: "gym-regular", Name: "Gym Regular", Description: "Completed 20 fitness activities"},
		met: func(_ Summary, categoryCounts map[string]int) bool {
			return categoryCounts["fitness"] >= 20
		},
	},
	{
		badge: Achievement{ID: "well-hydrated", Name: "Well Hydrated", Description: "Completed 30 nutrition activities"},
		met: func(_ Summary, categoryCounts map[string]int) bool {
			return categoryCounts["nutrition"] >= 30
		},
	},
	{
		badge: Achievement{ID: "clear-mind", Name: "Clear Mind", Description: "Completed 15 mindfulness activities"},
		met: func(_ Summary, categoryCounts map[string]int) bool {
			return categoryCounts["mindfulness"] >= 15
		},
	},
}

// Evaluate runs the fixed rule list against the computed summary.
func Evaluate(summary Summary, categoryCounts map[string]int) []Achievement {
	earned := make([]Achievement, 0, len(achievementRules))
	for _, rule := range achievementRules {
		if rule.met(summary, categoryCounts) {
			earned = append(earned, rule.badge)
		}
	}
	return earned
}
