package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/strivelabs/strive/internal/activities"
	"github.com/strivelabs/strive/internal/notifications"
	"github.com/strivelabs/strive/internal/profiles"
)

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

type feedFixture struct {
	service       *Service
	notifications *notifications.Service
	db            *gorm.DB
	now           time.Time
}

func newFeedFixture(t *testing.T) *feedFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:strive_feed_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&activities.Activity{},
		&activities.ClaimedActivity{},
		&profiles.Profile{},
		&Like{},
		&Comment{},
		&notifications.Notification{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDProvider{prefix: "notif"},
	})
	if err != nil {
		t.Fatalf("failed to construct notification service: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:      db,
		Clock:         clock,
		IDProvider:    &sequenceIDProvider{prefix: "social"},
		Notifications: notificationService,
	})
	if err != nil {
		t.Fatalf("failed to construct feed service: %v", err)
	}

	return &feedFixture{service: service, notifications: notificationService, db: db, now: now}
}

func (f *feedFixture) seedUser(t *testing.T, userID, displayName string) {
	t.Helper()
	if err := f.db.Create(&profiles.Profile{UserID: userID, DisplayName: displayName}).Error; err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}
}

func (f *feedFixture) seedActivity(t *testing.T, activityID, name string, points int) {
	t.Helper()
	if err := f.db.Create(&activities.Activity{ActivityID: activityID, Name: name, Points: points}).Error; err != nil {
		t.Fatalf("failed to seed activity: %v", err)
	}
}

func (f *feedFixture) seedClaim(t *testing.T, claimID, userID, activityID string, createdAt time.Time) {
	t.Helper()
	claim := activities.ClaimedActivity{
		ClaimID:    claimID,
		UserID:     userID,
		ActivityID: activityID,
		Day:        createdAt.UTC().Format("2006-01-02"),
		CreatedAt:  createdAt.UTC(),
	}
	claim.SetPhotoRefs(nil)
	if err := f.db.Create(&claim).Error; err != nil {
		t.Fatalf("failed to seed claim: %v", err)
	}
}

func TestLoadPageOrdersNewestFirst(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")
	fixture.seedActivity(t, "morning-run", "Morning run", 15)
	base := fixture.now.Add(-time.Hour)
	for i := 0; i < 3; i++ {
		fixture.seedClaim(t, fmt.Sprintf("claim-%d", i), "user-1", "morning-run", base.Add(time.Duration(i)*time.Minute))
	}

	page, err := fixture.service.LoadPage(context.Background(), "user-1", nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(page.Entries))
	}
	if page.HasMore {
		t.Fatalf("expected no further pages")
	}
	for i := 1; i < len(page.Entries); i++ {
		if page.Entries[i].CreatedAt.After(page.Entries[i-1].CreatedAt) {
			t.Fatalf("entries out of order at index %d", i)
		}
	}
	if page.Entries[0].ClaimID != "claim-2" {
		t.Fatalf("expected newest claim first, got %q", page.Entries[0].ClaimID)
	}
	if page.Entries[0].DisplayName != "Ada" || page.Entries[0].ActivityName != "Morning run" {
		t.Fatalf("expected enriched entry, got %#v", page.Entries[0])
	}
}

func TestLoadPagePaginationDoesNotOverlap(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")
	fixture.seedActivity(t, "morning-run", "Morning run", 15)
	base := fixture.now.Add(-time.Hour)
	for i := 0; i < 5; i++ {
		fixture.seedClaim(t, fmt.Sprintf("claim-%d", i), "user-1", "morning-run", base.Add(time.Duration(i)*time.Minute))
	}

	first, err := fixture.service.LoadPage(context.Background(), "user-1", nil, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.Entries) != 2 || !first.HasMore || first.NextCursor == "" {
		t.Fatalf("unexpected first page: %d entries, has_more=%v", len(first.Entries), first.HasMore)
	}

	cursor, err := DecodeCursor(first.NextCursor)
	if err != nil {
		t.Fatalf("failed to decode cursor: %v", err)
	}
	second, err := fixture.service.LoadPage(context.Background(), "user-1", cursor, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{}
	for _, entry := range first.Entries {
		seen[entry.ClaimID] = true
	}
	for _, entry := range second.Entries {
		if seen[entry.ClaimID] {
			t.Fatalf("claim %q appeared on both pages", entry.ClaimID)
		}
	}
	if !second.Entries[0].CreatedAt.Before(first.Entries[len(first.Entries)-1].CreatedAt.Add(time.Nanosecond)) {
		t.Fatalf("second page is not older than the first")
	}
}

func TestLoadPageTieBreaksOnClaimID(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")
	fixture.seedActivity(t, "morning-run", "Morning run", 15)
	at := fixture.now.Add(-time.Hour)
	fixture.seedClaim(t, "claim-a", "user-1", "morning-run", at)
	fixture.seedClaim(t, "claim-b", "user-1", "morning-run", at)
	fixture.seedClaim(t, "claim-c", "user-1", "morning-run", at)

	first, err := fixture.service.LoadPage(context.Background(), "user-1", nil, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Entries[0].ClaimID != "claim-c" || first.Entries[1].ClaimID != "claim-b" {
		t.Fatalf("unexpected tie-break order: %q, %q", first.Entries[0].ClaimID, first.Entries[1].ClaimID)
	}

	cursor, err := DecodeCursor(first.NextCursor)
	if err != nil {
		t.Fatalf("failed to decode cursor: %v", err)
	}
	second, err := fixture.service.LoadPage(context.Background(), "user-1", cursor, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second.Entries) != 1 || second.Entries[0].ClaimID != "claim-a" {
		t.Fatalf("expected the remaining equal-timestamp claim, got %#v", second.Entries)
	}
}

func TestLikeClaimCountsAndNotifies(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")
	fixture.seedUser(t, "user-2", "Brin")
	fixture.seedActivity(t, "morning-run", "Morning run", 15)
	fixture.seedClaim(t, "claim-1", "user-1", "morning-run", fixture.now.Add(-time.Hour))

	if _, err := fixture.service.LikeClaim(context.Background(), "user-2", "claim-1"); err != nil {
		t.Fatalf("unexpected like error: %v", err)
	}
	if _, err := fixture.service.LikeClaim(context.Background(), "user-2", "claim-1"); !errors.Is(err, ErrAlreadyLiked) {
		t.Fatalf("expected ErrAlreadyLiked, got %v", err)
	}

	page, err := fixture.service.LoadPage(context.Background(), "user-2", nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := page.Entries[0]
	if entry.LikeCount != 1 || !entry.ViewerLiked {
		t.Fatalf("expected like count 1 and viewer_liked, got %d/%v", entry.LikeCount, entry.ViewerLiked)
	}

	rows, err := fixture.notifications.List(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Kind != notifications.KindLike || rows[0].ActorID != "user-2" {
		t.Fatalf("expected a like notification for the claim owner, got %#v", rows)
	}
}

func TestLikeOwnClaimDoesNotNotify(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")
	fixture.seedActivity(t, "morning-run", "Morning run", 15)
	fixture.seedClaim(t, "claim-1", "user-1", "morning-run", fixture.now.Add(-time.Hour))

	if _, err := fixture.service.LikeClaim(context.Background(), "user-1", "claim-1"); err != nil {
		t.Fatalf("unexpected like error: %v", err)
	}
	rows, err := fixture.notifications.List(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no self-notification, got %d", len(rows))
	}
}

func TestUnlikeClaim(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")
	fixture.seedUser(t, "user-2", "Brin")
	fixture.seedActivity(t, "morning-run", "Morning run", 15)
	fixture.seedClaim(t, "claim-1", "user-1", "morning-run", fixture.now.Add(-time.Hour))

	if err := fixture.service.UnlikeClaim(context.Background(), "user-2", "claim-1"); !errors.Is(err, ErrNotLiked) {
		t.Fatalf("expected ErrNotLiked before any like, got %v", err)
	}
	if _, err := fixture.service.LikeClaim(context.Background(), "user-2", "claim-1"); err != nil {
		t.Fatalf("unexpected like error: %v", err)
	}
	if err := fixture.service.UnlikeClaim(context.Background(), "user-2", "claim-1"); err != nil {
		t.Fatalf("unexpected unlike error: %v", err)
	}

	page, err := fixture.service.LoadPage(context.Background(), "user-2", nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Entries[0].LikeCount != 0 || page.Entries[0].ViewerLiked {
		t.Fatalf("expected like removed, got %#v", page.Entries[0])
	}
}

func TestAddCommentPreviewsMostRecent(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")
	fixture.seedUser(t, "user-2", "Brin")
	fixture.seedActivity(t, "morning-run", "Morning run", 15)
	fixture.seedClaim(t, "claim-1", "user-1", "morning-run", fixture.now.Add(-time.Hour))

	if _, err := fixture.service.AddComment(context.Background(), "user-2", "claim-1", "  "); !errors.Is(err, ErrEmptyComment) {
		t.Fatalf("expected ErrEmptyComment, got %v", err)
	}
	for _, body := range []string{"first", "second", "third"} {
		if _, err := fixture.service.AddComment(context.Background(), "user-2", "claim-1", body); err != nil {
			t.Fatalf("unexpected comment error: %v", err)
		}
	}

	page, err := fixture.service.LoadPage(context.Background(), "user-1", nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := page.Entries[0]
	if entry.CommentCount != 3 {
		t.Fatalf("expected comment count 3, got %d", entry.CommentCount)
	}
	if len(entry.RecentComments) != 2 {
		t.Fatalf("expected 2 previewed comments, got %d", len(entry.RecentComments))
	}
	for _, preview := range entry.RecentComments {
		if preview.DisplayName != "Brin" {
			t.Fatalf("expected comment author name resolved, got %q", preview.DisplayName)
		}
	}

	all, err := fixture.service.ListComments(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 || all[0].Body != "first" {
		t.Fatalf("expected full comment list oldest first, got %#v", all)
	}
}

func TestSocialActionsOnUnknownClaim(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")

	if _, err := fixture.service.LikeClaim(context.Background(), "user-1", "missing"); !errors.Is(err, ErrClaimNotFound) {
		t.Fatalf("expected ErrClaimNotFound for like, got %v", err)
	}
	if _, err := fixture.service.AddComment(context.Background(), "user-1", "missing", "hello"); !errors.Is(err, ErrClaimNotFound) {
		t.Fatalf("expected ErrClaimNotFound for comment, got %v", err)
	}
	if _, err := fixture.service.ClaimOwner(context.Background(), "missing"); !errors.Is(err, ErrClaimNotFound) {
		t.Fatalf("expected ErrClaimNotFound for owner lookup, got %v", err)
	}
}

func TestLikeUniqueIndexBackstop(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")
	fixture.seedActivity(t, "morning-run", "Morning run", 15)
	fixture.seedClaim(t, "claim-a", "user-1", "morning-run", fixture.now)

	first := Like{LikeID: "like-1", UserID: "user-2", ClaimID: "claim-a", CreatedAt: fixture.now}
	if err := fixture.db.Create(&first).Error; err != nil {
		t.Fatalf("failed to seed like: %v", err)
	}

	// LikeClaim maps a unique-index violation onto ErrAlreadyLiked when a
	// racing like lands between its lookup and its insert; that depends on
	// the driver error translating to gorm.ErrDuplicatedKey.
	duplicate := Like{LikeID: "like-2", UserID: "user-2", ClaimID: "claim-a", CreatedAt: fixture.now}
	err := fixture.db.Create(&duplicate).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected gorm.ErrDuplicatedKey for the duplicate like, got %v", err)
	}
}

func TestAddCommentTruncatesOnRuneBoundary(t *testing.T) {
	fixture := newFeedFixture(t)
	fixture.seedUser(t, "user-1", "Ada")
	fixture.seedActivity(t, "morning-run", "Morning run", 15)
	fixture.seedClaim(t, "claim-a", "user-1", "morning-run", fixture.now)

	// One byte over the limit, with a two-byte rune straddling the cut.
	body := strings.Repeat("a", maxCommentLength-1) + "é"
	comment, err := fixture.service.AddComment(context.Background(), "user-2", "claim-a", body)
	if err != nil {
		t.Fatalf("unexpected add comment error: %v", err)
	}
	if !utf8.ValidString(comment.Body) {
		t.Fatalf("truncated comment is not valid UTF-8: %q", comment.Body[len(comment.Body)-4:])
	}
	if len(comment.Body) != maxCommentLength-1 {
		t.Fatalf("expected the straddling rune dropped whole, got %d bytes", len(comment.Body))
	}

	var stored Comment
	if err := fixture.db.Where("comment_id = ?", comment.CommentID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load stored comment: %v", err)
	}
	if !utf8.ValidString(stored.Body) {
		t.Fatal("stored comment body is not valid UTF-8")
	}
}
