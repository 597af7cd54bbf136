package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultMultiplier   = 2.0
)

// RetryPolicy bounds the upload retry loop.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultMultiplier
	}
	return p
}

// UploaderConfig describes the uploader dependencies.
type UploaderConfig struct {
	Store  ObjectStore
	Policy RetryPolicy
	Sleep  func(context.Context, time.Duration) error
	Logger *zap.Logger
}

// Uploader wraps an ObjectStore with bounded exponential-backoff retries for
// transient failures. Non-retryable errors fail on the first attempt.
type Uploader struct {
	store  ObjectStore
	policy RetryPolicy
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

// NewUploader constructs an Uploader.
func NewUploader(cfg UploaderConfig) *Uploader {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		store:  cfg.Store,
		policy: cfg.Policy.withDefaults(),
		sleep:  sleep,
		logger: logger,
	}
}

// Upload writes the photo bytes, retrying transient failures with delays of
// initialDelay, initialDelay*multiplier, and so on between attempts.
func (u *Uploader) Upload(ctx context.Context, key string, data []byte) (string, error) {
	delay := u.policy.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= u.policy.MaxAttempts; attempt++ {
		url, err := u.store.Put(ctx, key, data)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if !Retryable(err) {
			return "", err
		}
		u.logger.Warn("upload attempt failed",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == u.policy.MaxAttempts {
			break
		}
		if err := u.sleep(ctx, delay); err != nil {
			return "", err
		}
		delay = time.Duration(float64(delay) * u.policy.Multiplier)
	}
	return "", lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
