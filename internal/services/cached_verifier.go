package services

import (
	"context"
	"encoding/hex"
	"time"

	"taskforum/backend/internal/cache"
	"taskforum/backend/internal/logging"
	"taskforum/backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

// PrincipalKeyPrefix prefixes cached principals.
const PrincipalKeyPrefix = "principal:"

// CachedTokenVerifier remembers successful verifications for a short TTL,
// never beyond the token's own expiry. Rejections and faults are not cached.
// Concurrent requests carrying the same token share one upstream call.
type CachedTokenVerifier struct {
	next  TokenVerifier
	cache cache.Cache
	ttl   time.Duration
	group singleflight.Group
	log   *logrus.Logger
	now   func() time.Time
}

func NewCachedTokenVerifier(next TokenVerifier, c cache.Cache, ttl time.Duration, log *logrus.Logger) *CachedTokenVerifier {
	if log == nil {
		log = logging.Discard()
	}
	return &CachedTokenVerifier{
		next:  next,
		cache: c,
		ttl:   ttl,
		log:   log,
		now:   time.Now,
	}
}

func (v *CachedTokenVerifier) VerifyToken(ctx context.Context, token string) (*models.Principal, error) {
	key := principalCacheKey(token)

	var cached models.Principal
	if err := v.cache.Get(ctx, key, &cached); err == nil && cached.ID != "" {
		return &cached, nil
	}

	// the shared call must not die with whichever caller started it
	shared := context.WithoutCancel(ctx)
	ch := v.group.DoChan(key, func() (interface{}, error) {
		principal, err := v.next.VerifyToken(shared, token)
		if err != nil {
			return nil, err
		}
		if ttl := v.ttlFor(token); ttl > 0 && principal != nil {
			if err := v.cache.Set(shared, key, principal, ttl); err != nil {
				v.log.WithError(err).Debug("failed to cache verified principal")
			}
		}
		return principal, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		principal, _ := res.Val.(*models.Principal)
		if principal == nil {
			return nil, nil
		}
		clone := *principal
		return &clone, nil
	}
}

// ttlFor caps the cache TTL at the token's remaining lifetime. The token is
// read without verification; next has already vouched for it.
func (v *CachedTokenVerifier) ttlFor(token string) time.Duration {
	ttl := v.ttl

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ttl
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ttl
	}

	if remaining := exp.Time.Sub(v.now()); remaining < ttl {
		return remaining
	}
	return ttl
}

// principalCacheKey hashes the token so raw credentials never reach the cache.
func principalCacheKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return PrincipalKeyPrefix + hex.EncodeToString(sum[:])
}
