// Package preview keeps captured check images in Redis so the client can show
// them before they are uploaded.
package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/collect/internal/platform/httpx"
)

const (
	keyPrefix = "preview:"
	// PathPrefix is where previews are served from.
	PathPrefix = "/previews/"
)

var (
	// ErrNotFound is returned for unknown, revoked or expired previews.
	ErrNotFound = fmt.Errorf("preview: %w", httpx.ErrNotFound)
	// ErrTooLarge is returned when a blob exceeds the configured limit.
	ErrTooLarge = fmt.Errorf("preview: blob too large: %w", httpx.ErrValidation)
)

// Store implements collection.PreviewStore on Redis.
type Store struct {
	client   *redis.Client
	ttl      time.Duration
	maxBytes int
}

// NewStore instantiates the store.
func NewStore(client *redis.Client, ttl time.Duration, maxBytes int) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{client: client, ttl: ttl, maxBytes: maxBytes}
}

// Put stores blob and returns the URL it is served from.
func (s *Store) Put(ctx context.Context, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", errors.New("preview: empty blob")
	}
	if s.maxBytes > 0 && len(blob) > s.maxBytes {
		return "", ErrTooLarge
	}
	id := uuid.NewString()
	if err := s.client.Set(ctx, keyPrefix+id, blob, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("preview: put: %w", err)
	}
	return PathPrefix + id, nil
}

// Get returns the blob stored under id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	blob, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("preview: get: %w", err)
	}
	return blob, nil
}

// Revoke deletes the preview behind url. Unknown URLs are ignored.
func (s *Store) Revoke(ctx context.Context, url string) error {
	id, ok := strings.CutPrefix(url, PathPrefix)
	if !ok || id == "" {
		return nil
	}
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("preview: revoke: %w", err)
	}
	return nil
}
