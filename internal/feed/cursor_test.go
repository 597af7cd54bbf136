package feed

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	original := &Cursor{
		CreatedAt: time.Date(2026, 3, 14, 12, 30, 45, 123456789, time.UTC),
		ClaimID:   "claim-42",
	}
	token := EncodeCursor(original)
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	decoded, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Fatalf("timestamp changed through the round trip: %v vs %v", decoded.CreatedAt, original.CreatedAt)
	}
	if decoded.ClaimID != original.ClaimID {
		t.Fatalf("claim id changed through the round trip: %q", decoded.ClaimID)
	}
}

func TestDecodeCursorEmptyToken(t *testing.T) {
	decoded, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != nil {
		t.Fatalf("expected nil cursor for empty token, got %#v", decoded)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("not-base64!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	if _, err := DecodeCursor("aGVsbG8="); err == nil {
		t.Fatalf("expected error for token without separator")
	}
}

func TestEncodeCursorNil(t *testing.T) {
	if token := EncodeCursor(nil); token != "" {
		t.Fatalf("expected empty token for nil cursor, got %q", token)
	}
}
