package resource

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// TokenProvider returns a bearer token for outgoing requests. An empty token
// means the request is sent unauthenticated.
type TokenProvider func(ctx context.Context) (string, error)

const tokenKey = "bearer"

// CachingTokenProvider memoizes a TokenProvider for a fixed TTL and collapses
// concurrent lookups into one call to the source.
type CachingTokenProvider struct {
	source TokenProvider
	cache  *ttlcache.Cache[string, string]
	group  singleflight.Group
	logger zerolog.Logger
}

// NewCachingTokenProvider wraps source. Tokens are kept for ttl after they
// are obtained; failures and empty tokens are never cached.
func NewCachingTokenProvider(source TokenProvider, ttl time.Duration, logger zerolog.Logger) *CachingTokenProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	return &CachingTokenProvider{
		source: source,
		cache:  cache,
		logger: logger.With().Str("component", "CachingTokenProvider").Logger(),
	}
}

// Token returns the cached token or asks the source for a fresh one.
func (p *CachingTokenProvider) Token(ctx context.Context) (string, error) {
	if item := p.cache.Get(tokenKey); item != nil {
		return item.Value(), nil
	}
	v, err, _ := p.group.Do(tokenKey, func() (interface{}, error) {
		token, err := p.source(ctx)
		if err != nil {
			return "", err
		}
		if token != "" {
			p.cache.Set(tokenKey, token, ttlcache.DefaultTTL)
		}
		return token, nil
	})
	if err != nil {
		p.logger.Debug().Err(err).Msg("Token source failed.")
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the server rejected it.
func (p *CachingTokenProvider) Invalidate() {
	p.cache.Delete(tokenKey)
}

// Provider exposes p as a TokenProvider for HTTPClient.
func (p *CachingTokenProvider) Provider() TokenProvider {
	return p.Token
}
