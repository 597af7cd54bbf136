package activities

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/strivelabs/strive/internal/profiles"
)

type staticIDProvider struct {
	ids  []string
	next int
}

func (p *staticIDProvider) NewID() (string, error) {
	if p.next >= len(p.ids) {
		return "", fmt.Errorf("id provider exhausted after %d ids", len(p.ids))
	}
	id := p.ids[p.next]
	p.next++
	return id, nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func newTestEngine(t *testing.T, ids []string) (*Service, *profiles.Service, *gorm.DB, *testClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:strive_activities_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Activity{}, &ClaimedActivity{}, &ProgressRecord{}, &profiles.Profile{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database: db,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct profile service: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &staticIDProvider{ids: ids},
		Profiles:   profileService,
	})
	if err != nil {
		t.Fatalf("failed to construct claim engine: %v", err)
	}
	return service, profileService, db, clock
}

func seedProfile(t *testing.T, db *gorm.DB, userID string) {
	t.Helper()
	profile := profiles.Profile{UserID: userID, DisplayName: userID}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}
}

func seedActivity(t *testing.T, db *gorm.DB, activity Activity) {
	t.Helper()
	if err := db.Create(&activity).Error; err != nil {
		t.Fatalf("failed to seed activity: %v", err)
	}
}

func mustClaim(t *testing.T, service *Service, userID, activityID, photoRef string) ClaimOutcome {
	t.Helper()
	outcome, err := service.Claim(context.Background(), UserID(userID), ActivityID(activityID), photoRef)
	if err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	return outcome
}

func profilePoints(t *testing.T, svc *profiles.Service, userID string) (int, int) {
	t.Helper()
	profile, err := svc.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}
	return profile.TotalPoints, profile.DailyPoints
}

func TestClaimNonProgressiveAwardsPoints(t *testing.T) {
	service, profileService, db, _ := newTestEngine(t, []string{"claim-1"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "morning-run", Name: "Morning run", Points: 15})

	outcome := mustClaim(t, service, "user-1", "morning-run", "")

	if outcome.State != StateClaimed {
		t.Fatalf("expected claimed state, got %q", outcome.State)
	}
	if outcome.PointsAwarded != 15 {
		t.Fatalf("expected 15 points awarded, got %d", outcome.PointsAwarded)
	}
	if outcome.Claim == nil || outcome.Claim.ClaimID != "claim-1" {
		t.Fatalf("expected claim row with id claim-1, got %#v", outcome.Claim)
	}
	total, daily := profilePoints(t, profileService, "user-1")
	if total != 15 || daily != 15 {
		t.Fatalf("expected totals 15/15, got %d/%d", total, daily)
	}
}

func TestClaimSameDayTwiceRejected(t *testing.T) {
	service, _, db, _ := newTestEngine(t, []string{"claim-1", "claim-2"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "morning-run", Name: "Morning run", Points: 15})

	mustClaim(t, service, "user-1", "morning-run", "")
	_, err := service.Claim(context.Background(), "user-1", "morning-run", "")
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimAllowedAgainNextDay(t *testing.T) {
	service, profileService, db, clock := newTestEngine(t, []string{"claim-1", "claim-2"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "morning-run", Name: "Morning run", Points: 15})

	mustClaim(t, service, "user-1", "morning-run", "")
	clock.now = clock.now.Add(24 * time.Hour)
	outcome := mustClaim(t, service, "user-1", "morning-run", "")

	if outcome.State != StateClaimed {
		t.Fatalf("expected claimed state on the next day, got %q", outcome.State)
	}
	total, daily := profilePoints(t, profileService, "user-1")
	if total != 30 {
		t.Fatalf("expected running total 30, got %d", total)
	}
	if daily != 15 {
		t.Fatalf("expected daily bucket to restart at 15, got %d", daily)
	}
}

func TestClaimPhotoRequired(t *testing.T) {
	service, _, db, _ := newTestEngine(t, []string{"claim-1"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "gym-session", Name: "Gym session", Points: 25, RequiresPhoto: true})

	_, err := service.Claim(context.Background(), "user-1", "gym-session", "")
	if !errors.Is(err, ErrPhotoRequired) {
		t.Fatalf("expected ErrPhotoRequired, got %v", err)
	}

	outcome := mustClaim(t, service, "user-1", "gym-session", "media/user-1/gym.jpg")
	if refs := outcome.Claim.PhotoRefs(); len(refs) != 1 || refs[0] != "media/user-1/gym.jpg" {
		t.Fatalf("expected photo ref on claim, got %v", refs)
	}
}

func TestClaimUnknownActivity(t *testing.T) {
	service, _, db, _ := newTestEngine(t, nil)
	seedProfile(t, db, "user-1")

	_, err := service.Claim(context.Background(), "user-1", "missing", "")
	if !errors.Is(err, ErrActivityNotFound) {
		t.Fatalf("expected ErrActivityNotFound, got %v", err)
	}
}

func TestClaimForeignPersonalActivityHidden(t *testing.T) {
	service, _, db, _ := newTestEngine(t, []string{"claim-1"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "private-yoga", Name: "Yoga", Points: 10, OwnerUserID: "user-2"})

	_, err := service.Claim(context.Background(), "user-1", "private-yoga", "")
	if !errors.Is(err, ErrActivityNotFound) {
		t.Fatalf("expected foreign personal activity to be invisible, got %v", err)
	}
}

func TestProgressiveClaimAccumulatesSteps(t *testing.T) {
	service, profileService, db, _ := newTestEngine(t, []string{"claim-1"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "water-8", Name: "Drink water", Points: 10, IsProgressive: true, MaxProgress: 3})

	for step := 1; step <= 2; step++ {
		outcome := mustClaim(t, service, "user-1", "water-8", "")
		if outcome.State != StateInProgress {
			t.Fatalf("expected in_progress at step %d, got %q", step, outcome.State)
		}
		if outcome.CurrentStep != step {
			t.Fatalf("expected current step %d, got %d", step, outcome.CurrentStep)
		}
		total, _ := profilePoints(t, profileService, "user-1")
		if total != 0 {
			t.Fatalf("expected no points before completion, got %d", total)
		}
	}

	outcome := mustClaim(t, service, "user-1", "water-8", "")
	if outcome.State != StateClaimed {
		t.Fatalf("expected final step to complete the claim, got %q", outcome.State)
	}
	if outcome.PointsAwarded != 10 {
		t.Fatalf("expected 10 points on completion, got %d", outcome.PointsAwarded)
	}

	var progressCount int64
	if err := db.Model(&ProgressRecord{}).Count(&progressCount).Error; err != nil {
		t.Fatalf("failed to count progress rows: %v", err)
	}
	if progressCount != 0 {
		t.Fatalf("expected progress record removed on completion, found %d", progressCount)
	}
	total, _ := profilePoints(t, profileService, "user-1")
	if total != 10 {
		t.Fatalf("expected total 10 after completion, got %d", total)
	}
}

func TestProgressiveClaimCarriesPhotoLog(t *testing.T) {
	service, _, db, _ := newTestEngine(t, []string{"claim-1"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "fruit-veg", Name: "Fruit and veg", Points: 10, IsProgressive: true, MaxProgress: 2})

	mustClaim(t, service, "user-1", "fruit-veg", "media/a.jpg")
	outcome := mustClaim(t, service, "user-1", "fruit-veg", "media/b.jpg")

	refs := outcome.Claim.PhotoRefs()
	if len(refs) != 2 || refs[0] != "media/a.jpg" || refs[1] != "media/b.jpg" {
		t.Fatalf("expected accumulated photo refs in step order, got %v", refs)
	}
}

func TestProgressiveClaimPastCompletionRejected(t *testing.T) {
	service, _, db, _ := newTestEngine(t, []string{"claim-1"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "water-8", Name: "Drink water", Points: 10, IsProgressive: true, MaxProgress: 2})

	mustClaim(t, service, "user-1", "water-8", "")
	mustClaim(t, service, "user-1", "water-8", "")
	_, err := service.Claim(context.Background(), "user-1", "water-8", "")
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed past completion, got %v", err)
	}
}

func TestUndoCompletedClaimRevokesPoints(t *testing.T) {
	service, profileService, db, _ := newTestEngine(t, []string{"claim-1", "claim-2"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "morning-run", Name: "Morning run", Points: 15})

	mustClaim(t, service, "user-1", "morning-run", "")
	outcome, err := service.Undo(context.Background(), "user-1", "morning-run")
	if err != nil {
		t.Fatalf("unexpected undo error: %v", err)
	}
	if outcome.State != StateNotStarted {
		t.Fatalf("expected not_started after undo, got %q", outcome.State)
	}
	if outcome.PointsRevoked != 15 {
		t.Fatalf("expected 15 points revoked, got %d", outcome.PointsRevoked)
	}
	total, daily := profilePoints(t, profileService, "user-1")
	if total != 0 || daily != 0 {
		t.Fatalf("expected totals back to zero, got %d/%d", total, daily)
	}

	// The day is claimable again after the undo.
	second := mustClaim(t, service, "user-1", "morning-run", "")
	if second.State != StateClaimed {
		t.Fatalf("expected re-claim after undo, got %q", second.State)
	}
}

func TestUndoProgressRemovesLatestStep(t *testing.T) {
	service, _, db, _ := newTestEngine(t, []string{"claim-1"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "water-8", Name: "Drink water", Points: 10, IsProgressive: true, MaxProgress: 3})

	mustClaim(t, service, "user-1", "water-8", "")
	mustClaim(t, service, "user-1", "water-8", "")

	outcome, err := service.Undo(context.Background(), "user-1", "water-8")
	if err != nil {
		t.Fatalf("unexpected undo error: %v", err)
	}
	if outcome.State != StateInProgress || outcome.CurrentStep != 1 {
		t.Fatalf("expected in_progress at step 1, got %q step %d", outcome.State, outcome.CurrentStep)
	}

	outcome, err = service.Undo(context.Background(), "user-1", "water-8")
	if err != nil {
		t.Fatalf("unexpected undo error: %v", err)
	}
	if outcome.State != StateNotStarted {
		t.Fatalf("expected not_started after final undo, got %q", outcome.State)
	}

	var progressCount int64
	if err := db.Model(&ProgressRecord{}).Count(&progressCount).Error; err != nil {
		t.Fatalf("failed to count progress rows: %v", err)
	}
	if progressCount != 0 {
		t.Fatalf("expected zero-progress row deleted, found %d", progressCount)
	}
}

func TestUndoWithNothingToReverse(t *testing.T) {
	service, _, db, _ := newTestEngine(t, nil)
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "morning-run", Name: "Morning run", Points: 15})

	_, err := service.Undo(context.Background(), "user-1", "morning-run")
	if !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestUndoDoesNotTouchPriorDays(t *testing.T) {
	service, profileService, db, clock := newTestEngine(t, []string{"claim-1"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "morning-run", Name: "Morning run", Points: 15})

	mustClaim(t, service, "user-1", "morning-run", "")
	clock.now = clock.now.Add(24 * time.Hour)

	_, err := service.Undo(context.Background(), "user-1", "morning-run")
	if !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected undo to ignore yesterday's claim, got %v", err)
	}
	total, _ := profilePoints(t, profileService, "user-1")
	if total != 15 {
		t.Fatalf("expected yesterday's points untouched, got %d", total)
	}
}

func TestCreatePersonalValidatesInput(t *testing.T) {
	service, _, db, _ := newTestEngine(t, []string{"personal-1"})
	seedProfile(t, db, "user-1")

	if _, err := service.CreatePersonal(context.Background(), "user-1", PersonalActivityInput{Name: "", Points: 5}); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := service.CreatePersonal(context.Background(), "user-1", PersonalActivityInput{Name: "Stretch", Points: 0}); err == nil {
		t.Fatalf("expected error for non-positive points")
	}
	if _, err := service.CreatePersonal(context.Background(), "user-1", PersonalActivityInput{Name: "Stretch", Points: 5, IsProgressive: true, MaxProgress: 1}); err == nil {
		t.Fatalf("expected error for progressive activity with fewer than 2 steps")
	}

	activity, err := service.CreatePersonal(context.Background(), "user-1", PersonalActivityInput{Name: "Stretch", Points: 5, Category: "fitness"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if activity.OwnerUserID != "user-1" {
		t.Fatalf("expected personal activity owned by user-1, got %q", activity.OwnerUserID)
	}
}

func TestListCatalogScopesPersonalEntries(t *testing.T) {
	service, _, db, _ := newTestEngine(t, nil)
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "shared-1", Name: "Shared", Points: 5, Category: "fitness"})
	seedActivity(t, db, Activity{ActivityID: "mine-1", Name: "Mine", Points: 5, OwnerUserID: "user-1", Category: "fitness"})
	seedActivity(t, db, Activity{ActivityID: "theirs-1", Name: "Theirs", Points: 5, OwnerUserID: "user-2", Category: "fitness"})

	catalog, err := service.ListCatalog(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(catalog) != 2 {
		t.Fatalf("expected shared plus own entries, got %d", len(catalog))
	}
	for _, activity := range catalog {
		if activity.OwnerUserID == "user-2" {
			t.Fatalf("foreign personal activity leaked into catalog")
		}
	}
}

func TestClaimedTodayOnlyCurrentDay(t *testing.T) {
	service, _, db, clock := newTestEngine(t, []string{"claim-1", "claim-2"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "morning-run", Name: "Morning run", Points: 15})

	mustClaim(t, service, "user-1", "morning-run", "")
	clock.now = clock.now.Add(24 * time.Hour)
	mustClaim(t, service, "user-1", "morning-run", "")

	claims, err := service.ClaimedToday(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected only today's claim, got %d", len(claims))
	}
	if claims[0].ClaimID != "claim-2" {
		t.Fatalf("expected today's claim id claim-2, got %q", claims[0].ClaimID)
	}
}

func TestClaimUniqueIndexBackstop(t *testing.T) {
	service, profileService, db, clock := newTestEngine(t, []string{"claim-late"})
	seedProfile(t, db, "user-1")
	seedActivity(t, db, Activity{ActivityID: "morning-run", Name: "Morning run", Points: 15})

	day := clock.now.UTC().Format(dayLayout)
	rival := ClaimedActivity{ClaimID: "claim-early", UserID: "user-1", ActivityID: "morning-run", Day: day, CreatedAt: clock.now}
	rival.SetPhotoRefs(nil)
	if err := db.Create(&rival).Error; err != nil {
		t.Fatalf("failed to seed rival claim: %v", err)
	}

	// claimCompleted skips the same-day pre-check, like a request that read
	// the day before the rival insert committed. The unique index on
	// (user, activity, day) must reject it as an ordinary duplicate claim.
	activity := Activity{ActivityID: "morning-run", Name: "Morning run", Points: 15}
	_, err := service.claimCompleted(context.Background(), UserID("user-1"), activity, day, clock.now, []string{""}, true)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed from the unique index, got %v", err)
	}

	total, daily := profilePoints(t, profileService, "user-1")
	if total != 0 || daily != 0 {
		t.Fatalf("expected the rejected claim to award nothing, got total=%d daily=%d", total, daily)
	}
}
