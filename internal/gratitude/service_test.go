package gratitude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/strivelabs/strive/internal/profiles"
)

func newGratitudeFixture(t *testing.T, modelOutput string, status int) (*Service, *profiles.Service) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		var request struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("failed to decode upstream request: %v", err)
		}
		if len(request.Messages) != 2 || request.Messages[0].Role != "system" {
			t.Errorf("expected system plus user message, got %#v", request.Messages)
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		response := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": modelOutput}},
			},
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			t.Errorf("failed to encode response: %v", err)
		}
	}))
	t.Cleanup(upstream.Close)

	dsn := fmt.Sprintf("file:strive_gratitude_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&profiles.Profile{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct profile service: %v", err)
	}
	if err := db.Create(&profiles.Profile{UserID: "user-1"}).Error; err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Endpoint: upstream.URL,
		Model:    "test-model",
		Profiles: profileService,
	})
	if err != nil {
		t.Fatalf("failed to construct gratitude service: %v", err)
	}
	return service, profileService
}

func TestSummarizeParsesStrictJSON(t *testing.T) {
	output := `{"summary":"A week of small wins","themes":["family","health"],"insight":"Rest fuels progress"}`
	service, profileService := newGratitudeFixture(t, output, http.StatusOK)

	summary, err := service.Summarize(context.Background(), "user-1", []string{"grateful for my run", "dinner with family"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Summary != "A week of small wins" {
		t.Fatalf("unexpected summary %q", summary.Summary)
	}
	if len(summary.Themes) != 2 || summary.Insight == "" {
		t.Fatalf("unexpected summary shape %#v", summary)
	}

	profile, err := profileService.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var persisted Summary
	if err := json.Unmarshal([]byte(profile.GratitudeSummary), &persisted); err != nil {
		t.Fatalf("persisted summary is not JSON: %v", err)
	}
	if persisted.Summary != summary.Summary {
		t.Fatalf("persisted summary mismatch: %q", persisted.Summary)
	}
}

func TestSummarizeToleratesCodeFences(t *testing.T) {
	output := "```json\n{\"summary\":\"Fenced but valid\",\"themes\":[],\"insight\":\"\"}\n```"
	service, _ := newGratitudeFixture(t, output, http.StatusOK)

	summary, err := service.Summarize(context.Background(), "user-1", []string{"entry"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Summary != "Fenced but valid" {
		t.Fatalf("expected fenced JSON parsed, got %q", summary.Summary)
	}
}

func TestSummarizeFallsBackToPlainText(t *testing.T) {
	output := "You seem grateful for people more than things."
	service, _ := newGratitudeFixture(t, output, http.StatusOK)

	summary, err := service.Summarize(context.Background(), "user-1", []string{"entry"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Summary != output {
		t.Fatalf("expected raw text carried as summary, got %q", summary.Summary)
	}
	if summary.Themes == nil {
		t.Fatalf("expected empty themes slice, got nil")
	}
}

func TestSummarizeRejectsEmptyEntries(t *testing.T) {
	service, _ := newGratitudeFixture(t, "{}", http.StatusOK)

	if _, err := service.Summarize(context.Background(), "user-1", nil); !errors.Is(err, ErrNoEntries) {
		t.Fatalf("expected ErrNoEntries, got %v", err)
	}
	if _, err := service.Summarize(context.Background(), "user-1", []string{"  ", "\n"}); !errors.Is(err, ErrNoEntries) {
		t.Fatalf("expected ErrNoEntries for blank entries, got %v", err)
	}
}

func TestSummarizeSurfacesUpstreamFailure(t *testing.T) {
	service, _ := newGratitudeFixture(t, "", http.StatusBadGateway)

	if _, err := service.Summarize(context.Background(), "user-1", []string{"entry"}); err == nil {
		t.Fatalf("expected error for upstream failure")
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}
