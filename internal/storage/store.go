// Package storage persists activity and profile photos and resolves them to
// public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyExists indicates the object key is already taken. Not retryable.
	ErrAlreadyExists = errors.New("storage: object already exists")
	// ErrUnauthorized indicates the caller has no session. Not retryable.
	ErrUnauthorized = errors.New("storage: unauthorized")
	// ErrForbidden indicates the caller may not write the key. Not retryable.
	ErrForbidden = errors.New("storage: forbidden")
	// ErrUnsupportedContentType indicates a non-image upload.
	ErrUnsupportedContentType = errors.New("storage: unsupported content type")

	errMissingRoot    = errors.New("storage root directory is required")
	errMissingBaseURL = errors.New("storage base url is required")
)

var extensionByContentType = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// ExtensionFor maps an image content type to its file extension.
func ExtensionFor(contentType string) (string, error) {
	ext, ok := extensionByContentType[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
	return ext, nil
}

// BuildKey produces the canonical object key for an activity photo:
// {userID}/{activityID}_{timestamp}.{ext}.
func BuildKey(userID, activityID, ext string, at time.Time) string {
	return fmt.Sprintf("%s/%s_%d.%s", userID, activityID, at.UTC().UnixMilli(), ext)
}

// ObjectStore writes photo bytes under a key and returns a resolvable URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// DiskStore keeps objects under a root directory and serves them under a
// public base URL (the router mounts the root at that path).
type DiskStore struct {
	root    string
	baseURL string
	logger  *zap.Logger
}

// NewDiskStore constructs a DiskStore and ensures the root directory exists.
func NewDiskStore(root, baseURL string, logger *zap.Logger) (*DiskStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errMissingRoot
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, errMissingBaseURL
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskStore{root: root, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}, nil
}

// Root exposes the directory the router serves as static media.
func (s *DiskStore) Root() string {
	return s.root
}

// Put writes the object, refusing to overwrite an existing key.
func (s *DiskStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = path.Clean("/" + key)[1:]
	if key == "" || strings.HasPrefix(key, "..") {
		return "", fmt.Errorf("%w: invalid key", ErrForbidden)
	}

	target := filepath.Join(s.root, filepath.FromSlash(key))
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("storage: create directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write object: %w", err)
	}

	url := s.baseURL + "/" + key
	s.logger.Debug("stored object", zap.String("key", key), zap.Int("bytes", len(data)))
	return url, nil
}

// Retryable reports whether an upload error is worth another attempt.
// Authorization failures and key collisions never resolve by retrying.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUnsupportedContentType),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
