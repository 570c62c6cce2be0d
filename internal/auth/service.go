package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/collect/internal/shared"
)

const identityKeyPrefix = "identity:"

// Service authenticates bearer tokens against the backend with a Redis cache in
// front of it.
type Service struct {
	resolver IdentityResolver
	cache    *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
	group    singleflight.Group
}

// NewService constructs the auth service. cache may be nil to disable caching.
func NewService(resolver IdentityResolver, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{resolver: resolver, cache: cache, ttl: ttl, logger: logger}
}

// Authenticate returns the principal for token.
func (s *Service) Authenticate(ctx context.Context, token string) (*shared.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, shared.ErrUnauthenticated
	}
	key := cacheKey(token)
	if p, ok := s.cached(ctx, key); ok {
		p.Token = token
		return p, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		p, err := s.resolver.ResolveIdentity(context.WithoutCancel(ctx), token)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, p)
		return p, nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrUnauthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("auth: resolve identity: %w", err)
	}
	p := v.(shared.Principal)
	p.Token = token
	return &p, nil
}

// Forget drops the cached identity for token.
func (s *Service) Forget(ctx context.Context, token string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, cacheKey(token)).Err()
}

func (s *Service) cached(ctx context.Context, key string) (*shared.Principal, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("identity cache get", slog.Any("error", err))
		}
		return nil, false
	}
	var p shared.Principal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (s *Service) store(ctx context.Context, key string, p shared.Principal) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("identity cache set", slog.Any("error", err))
	}
}

// Fingerprint is a stable, non-reversible digest of a bearer token.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// cacheKey never stores the raw token.
func cacheKey(token string) string {
	return identityKeyPrefix + Fingerprint(token)
}
