// Package reminder runs the scheduled daily email batch.
package reminder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/strivelabs/strive/internal/email"
	"github.com/strivelabs/strive/internal/profiles"
)

var (
	errMissingProfiles = errors.New("profile service is required")
	errMissingSender   = errors.New("email sender is required")
)

// TemplateSender delivers one templated email.
type TemplateSender interface {
	SendTemplate(ctx context.Context, to string, template email.Template, data map[string]string) (string, error)
}

// BatchConfig describes the batch dependencies.
type BatchConfig struct {
	Profiles *profiles.Service
	Sender   TemplateSender
	Logger   *zap.Logger
}

// Batch iterates all profiles and sends each one the daily reminder.
// Individual send failures are logged and counted, never fatal to the run.
type Batch struct {
	profiles *profiles.Service
	sender   TemplateSender
	logger   *zap.Logger
}

// NewBatch constructs the reminder batch.
func NewBatch(cfg BatchConfig) (*Batch, error) {
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("reminder.batch.new.missing_profiles: %w", errMissingProfiles)
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("reminder.batch.new.missing_sender: %w", errMissingSender)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batch{profiles: cfg.Profiles, sender: cfg.Sender, logger: logger}, nil
}

// Result summarizes one batch run.
type Result struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Run sends one daily reminder per profile. Profiles without an email
// address are skipped.
func (b *Batch) Run(ctx context.Context) (Result, error) {
	all, err := b.profiles.ListAll(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, profile := range all {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if profile.Email == "" {
			result.Skipped++
			continue
		}
		data := map[string]string{"name": profile.DisplayName}
		if _, err := b.sender.SendTemplate(ctx, profile.Email, email.TemplateDailyReminder, data); err != nil {
			result.Failed++
			b.logger.Warn("reminder send failed",
				zap.String("user_id", profile.UserID),
				zap.Error(err))
			continue
		}
		result.Sent++
	}

	b.logger.Info("reminder batch finished",
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}
