// Package cache provides a Redis backed round cache shared between resolver
// processes.
package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"oracle-resolver/internal/fetcher"
	"oracle-resolver/internal/pricefeed"
)

var _ pricefeed.RoundCache = (*RoundCache)(nil)

// Config holds Redis connection settings.
type Config struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	TLSEnabled bool
}

// RoundCache stores feed rounds under prefix:round:<address>.
type RoundCache struct {
	client    *redis.Client
	keyPrefix string
	logger    zerolog.Logger
}

// NewRoundCache connects and pings Redis.
func NewRoundCache(ctx context.Context, cfg Config, logger zerolog.Logger) (*RoundCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRoundCache(client, cfg.KeyPrefix, logger), nil
}

func newRoundCache(client *redis.Client, prefix string, logger zerolog.Logger) *RoundCache {
	if prefix == "" {
		prefix = "oracle-resolver"
	}
	return &RoundCache{
		client:    client,
		keyPrefix: prefix,
		logger:    logger.With().Str("component", "round_cache").Logger(),
	}
}

// Close closes the Redis connection.
func (c *RoundCache) Close() error {
	return c.client.Close()
}

func (c *RoundCache) key(feedAddress string) string {
	return fmt.Sprintf("%s:round:%s", c.keyPrefix, strings.ToLower(feedAddress))
}

// Get returns the cached round. A miss is (zero, false, nil).
func (c *RoundCache) Get(ctx context.Context, feedAddress string) (fetcher.Round, bool, error) {
	data, err := c.client.Get(ctx, c.key(feedAddress)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fetcher.Round{}, false, nil
	}
	if err != nil {
		return fetcher.Round{}, false, fmt.Errorf("get cached round: %w", err)
	}

	round, err := decodeRound(data)
	if err != nil {
		c.logger.Warn().Err(err).Str("feed", feedAddress).Msg("dropping undecodable cache entry")
		return fetcher.Round{}, false, nil
	}
	return round, true, nil
}

// Set stores round with ttl. Non-positive ttl is a no-op.
func (c *RoundCache) Set(ctx context.Context, feedAddress string, round fetcher.Round, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := encodeRound(round)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(feedAddress), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache round: %w", err)
	}
	return nil
}

type wireRound struct {
	RoundID   string `json:"roundId"`
	Answer    string `json:"answer"`
	Decimals  uint8  `json:"decimals"`
	StartedAt int64  `json:"startedAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func encodeRound(r fetcher.Round) ([]byte, error) {
	if r.Answer == nil {
		return nil, fmt.Errorf("round has no answer")
	}
	w := wireRound{
		Answer:    r.Answer.String(),
		Decimals:  r.Decimals,
		StartedAt: unixOrZero(r.StartedAt),
		UpdatedAt: unixOrZero(r.UpdatedAt),
	}
	if r.RoundID != nil {
		w.RoundID = r.RoundID.String()
	}
	return json.Marshal(w)
}

func decodeRound(data []byte) (fetcher.Round, error) {
	var w wireRound
	if err := json.Unmarshal(data, &w); err != nil {
		return fetcher.Round{}, fmt.Errorf("decode round: %w", err)
	}
	answer, ok := new(big.Int).SetString(w.Answer, 10)
	if !ok {
		return fetcher.Round{}, fmt.Errorf("decode round: bad answer %q", w.Answer)
	}
	r := fetcher.Round{
		Answer:    answer,
		Decimals:  w.Decimals,
		StartedAt: timeOrZero(w.StartedAt),
		UpdatedAt: timeOrZero(w.UpdatedAt),
	}
	if w.RoundID != "" {
		id, ok := new(big.Int).SetString(w.RoundID, 10)
		if !ok {
			return fetcher.Round{}, fmt.Errorf("decode round: bad round id %q", w.RoundID)
		}
		r.RoundID = id
	}
	return r, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
