package email

import (
	"errors"
	"strings"
	"testing"
)

func TestParseTemplate(t *testing.T) {
	for _, raw := range []string{"welcome", "notification", "streak-reminder", "daily-reminder"} {
		template, err := ParseTemplate(raw)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if string(template) != raw {
			t.Fatalf("expected %q, got %q", raw, template)
		}
	}
	if _, err := ParseTemplate("marketing-blast"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestRenderWelcome(t *testing.T) {
	message, err := Render(TemplateWelcome, map[string]string{"name": "Ada"}, "https://app.strive.fit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if message.Subject == "" {
		t.Fatalf("expected subject")
	}
	if !strings.Contains(message.HTMLBody, "Ada") {
		t.Fatalf("expected recipient name in html body")
	}
	if !strings.Contains(message.HTMLBody, "https://app.strive.fit") {
		t.Fatalf("expected app link in html body")
	}
	if !strings.Contains(message.TextBody, "Ada") {
		t.Fatalf("expected recipient name in text body")
	}
	if !strings.HasPrefix(message.HTMLBody, "<!DOCTYPE html>") {
		t.Fatalf("expected full html document")
	}
}

func TestRenderFallbackName(t *testing.T) {
	message, err := Render(TemplateDailyReminder, nil, "https://app.strive.fit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(message.TextBody, "Hi there,") {
		t.Fatalf("expected fallback greeting, got %q", message.TextBody)
	}
}

func TestRenderNotificationCount(t *testing.T) {
	message, err := Render(TemplateNotification, map[string]string{"name": "Ada", "count": "4"}, "https://app.strive.fit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(message.TextBody, "4 unread") {
		t.Fatalf("expected count in text body, got %q", message.TextBody)
	}
}

func TestRenderStreakReminder(t *testing.T) {
	message, err := Render(TemplateStreakReminder, map[string]string{"name": "Ada", "streak": "12"}, "https://app.strive.fit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(message.TextBody, "12 day streak") {
		t.Fatalf("expected streak length in text body, got %q", message.TextBody)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := Render(Template("bogus"), nil, "https://app.strive.fit"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}
