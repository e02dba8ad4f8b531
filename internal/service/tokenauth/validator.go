// Package tokenauth verifies bearer tokens and resolves them to user
// identifiers, with a short positive cache keyed by token content hash.
package tokenauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fairyhunter13/videogen/internal/domain"
)

const cacheTTL = 5 * time.Minute

type cachedIdentity struct {
	UserID string `json:"user_id"`
}

// Validator verifies HS256 tokens against the shared signing secret.
// Negative results are never cached.
type Validator struct {
	cache  domain.Cache
	secret []byte
}

func New(cache domain.Cache, secret string) *Validator {
	return &Validator{cache: cache, secret: []byte(secret)}
}

// Validate returns the subject carried by the bearer token. Cache failures
// are logged and ignored so the broker never gates authentication.
func (v *Validator) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("op=tokenauth.Validate: empty bearer: %w", domain.ErrAuth)
	}

	sum := sha256.Sum256([]byte(token))
	key := domain.TokenCacheKey(hex.EncodeToString(sum[:]))

	if cached, err := v.cache.Get(ctx, key); err == nil {
		var id cachedIdentity
		if jsonErr := json.Unmarshal([]byte(cached), &id); jsonErr == nil && id.UserID != "" {
			slog.Debug("token validated from cache", slog.String("user_id", id.UserID))
			return id.UserID, nil
		}
		slog.Warn("token cache entry malformed, re-verifying", slog.String("key", key))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		slog.Warn("token verification failed", slog.Any("error", err))
		return "", fmt.Errorf("op=tokenauth.Validate: %w: %v", domain.ErrAuth, err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("op=tokenauth.Validate: %w", domain.ErrAuthNoSubject)
	}

	payload, _ := json.Marshal(cachedIdentity{UserID: subject})
	if err := v.cache.Set(ctx, key, string(payload), cacheTTL); err != nil {
		slog.Warn("failed to cache validated token", slog.Any("error", err))
	}

	slog.Debug("token validated", slog.String("user_id", subject))
	return subject, nil
}
