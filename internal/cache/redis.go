package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"phishguard/internal/config"
)

const keyPrefix = "phishguard:score:"

// ScoreCache keeps model scores in Redis, keyed by normalized URL.
type ScoreCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewScoreCache connects to cfg.RedisAddr, which may be a host:port pair or
// a redis:// URL, and pings the server.
func NewScoreCache(cfg config.CacheConfig) (*ScoreCache, error) {
	opt, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opt.Addr, err)
	}

	log.Info().Str("addr", opt.Addr).Dur("ttl", cfg.TTL).Msg("score cache connected")
	return &ScoreCache{client: client, ttl: cfg.TTL}, nil
}

func clientOptions(cfg config.CacheConfig) (*redis.Options, error) {
	if strings.HasPrefix(cfg.RedisAddr, "redis://") || strings.HasPrefix(cfg.RedisAddr, "rediss://") {
		opt, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opt, nil
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis address is empty")
	}
	return &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

func scoreKey(url string) string { return keyPrefix + url }

func encodeScore(score float64) string {
	return strconv.FormatFloat(score, 'g', -1, 64)
}

func decodeScore(raw string) (float64, error) {
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("cached score %v outside [0,1]", score)
	}
	return score, nil
}

// Get reports a miss as (0, false, nil). Corrupt entries are deleted and
// treated as misses.
func (c *ScoreCache) Get(ctx context.Context, url string) (float64, bool, error) {
	key := scoreKey(url)
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	score, err := decodeScore(raw)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("dropping corrupt cache entry")
		c.client.Del(ctx, key)
		return 0, false, nil
	}
	return score, true, nil
}

// Set stores score for the configured TTL; a zero TTL keeps it forever.
func (c *ScoreCache) Set(ctx context.Context, url string, score float64) error {
	return c.client.Set(ctx, scoreKey(url), encodeScore(score), c.ttl).Err()
}

// Clear removes every cached score and returns how many were deleted.
func (c *ScoreCache) Clear(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

func (c *ScoreCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ScoreCache) Close() error {
	return c.client.Close()
}
