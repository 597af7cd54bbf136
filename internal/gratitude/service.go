// Package gratitude summarizes a user's gratitude entries through an
// external language-model completion endpoint.
package gratitude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strivelabs/strive/internal/profiles"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxEntries            = 100

	// The model is asked for exactly this JSON shape; anything else falls
	// back to the plain-text wrapper.
	systemPrompt = `You summarize a user's gratitude journal entries. Respond with strict JSON only, no prose around it, in the shape {"summary": string, "themes": [string], "insight": string}. The summary is two or three warm sentences, themes are up to five short phrases, the insight is one encouraging observation.`
)

var (
	errMissingEndpoint = errors.New("completion endpoint is required")
	errMissingProfiles = errors.New("profile service is required")

	// ErrNoEntries indicates an empty entries list.
	ErrNoEntries = errors.New("gratitude: no entries to summarize")
)

// Summary is the persisted summarizer output.
type Summary struct {
	Summary string   `json:"summary"`
	Themes  []string `json:"themes"`
	Insight string   `json:"insight"`
}

// ServiceConfig describes the summarizer dependencies.
type ServiceConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Profiles   *profiles.Service
	Logger     *zap.Logger
}

// Service calls an OpenAI-compatible chat completion endpoint with a fixed
// system prompt and persists the result onto the profile.
type Service struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	profiles *profiles.Service
	logger   *zap.Logger
}

// NewService constructs the summarizer.
func NewService(cfg ServiceConfig) (*Service, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("gratitude.service.new.missing_endpoint: %w", errMissingEndpoint)
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("gratitude.service.new.missing_profiles: %w", errMissingProfiles)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    model,
		client:   client,
		profiles: cfg.Profiles,
		logger:   logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize sends the entries to the model, recovers from a malformed
// response, and persists the summary onto the profile.
func (s *Service) Summarize(ctx context.Context, userID string, entries []string) (Summary, error) {
	cleaned := make([]string, 0, len(entries))
	for _, entry := range entries {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return Summary{}, ErrNoEntries
	}
	if len(cleaned) > maxEntries {
		cleaned = cleaned[:maxEntries]
	}

	raw, err := s.complete(ctx, cleaned)
	if err != nil {
		s.logger.Error("gratitude completion failed", zap.String("user_id", userID), zap.Error(err))
		return Summary{}, err
	}

	summary := parseModelOutput(raw)

	encoded, err := json.Marshal(summary)
	if err != nil {
		return Summary{}, fmt.Errorf("gratitude: encode summary: %w", err)
	}
	if err := s.profiles.RecordGratitudeSummary(ctx, userID, string(encoded)); err != nil {
		s.logger.Error("gratitude persist failed", zap.String("user_id", userID), zap.Error(err))
		return Summary{}, err
	}
	return summary, nil
}

func (s *Service) complete(ctx context.Context, entries []string) (string, error) {
	payload := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: strings.Join(entries, "\n")},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gratitude: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gratitude: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gratitude: completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("gratitude: completion status %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("gratitude: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("gratitude: completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseModelOutput accepts the strict JSON shape, tolerating code fences,
// and wraps anything unparseable as a plain-text summary.
func parseModelOutput(raw string) Summary {
	candidate := strings.TrimSpace(raw)
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSuffix(strings.TrimSpace(candidate), "```")
		candidate = strings.TrimSpace(candidate)
	}

	var summary Summary
	if err := json.Unmarshal([]byte(candidate), &summary); err == nil && summary.Summary != "" {
		if summary.Themes == nil {
			summary.Themes = []string{}
		}
		return summary
	}
	return Summary{Summary: strings.TrimSpace(raw), Themes: []string{}}
}
