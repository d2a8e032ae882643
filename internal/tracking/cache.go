package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend-convoyhub/internal/shared/apperr"
	"backend-convoyhub/internal/shared/presence"

	"github.com/redis/go-redis/v9"
)

// LocationCache is an optional read-through copy of the latest coordinates.
type LocationCache interface {
	SetLocation(ctx context.Context, memberID string, lat, lng float64) error
	GetLocation(ctx context.Context, memberID string) (CachedLocation, bool, error)
}

type CachedLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) SetLocation(ctx context.Context, memberID string, lat, lng float64) error {
	payload, err := json.Marshal(CachedLocation{Lat: lat, Lng: lng})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, cacheKey(memberID), payload, presence.StaleAfter).Err(); err != nil {
		return fmt.Errorf("cache set %s: %v: %w", memberID, err, apperr.ErrCache)
	}
	return nil
}

func (c *RedisCache) GetLocation(ctx context.Context, memberID string) (CachedLocation, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(memberID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedLocation{}, false, nil
	}
	if err != nil {
		return CachedLocation{}, false, fmt.Errorf("cache get %s: %v: %w", memberID, err, apperr.ErrCache)
	}
	var loc CachedLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return CachedLocation{}, false, fmt.Errorf("cache decode %s: %v: %w", memberID, err, apperr.ErrCache)
	}
	return loc, true, nil
}

// NopCache is used when no redis address is configured.
type NopCache struct{}

func (NopCache) SetLocation(context.Context, string, float64, float64) error { return nil }

func (NopCache) GetLocation(context.Context, string) (CachedLocation, bool, error) {
	return CachedLocation{}, false, nil
}

func cacheKey(memberID string) string {
	return "location:" + memberID
}
