package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RelatednessCache speichert Explain-Ergebnisse für ein geordnetes Autorenpaar.
// Ein Cache-Fehler darf eine Anfrage nie scheitern lassen.
type RelatednessCache interface {
	Get(ctx context.Context, a, b uint) (*RelatednessResult, bool)
	Set(ctx context.Context, a, b uint, result *RelatednessResult)
}

// RedisRelatednessCache legt Ergebnisse als JSON mit TTL in Redis ab.
type RedisRelatednessCache struct {
	Client *goredis.Client
	TTL    time.Duration
	Logger *zap.Logger
}

// NewRedisRelatednessCache verbindet sich mit addr und prüft die Verbindung per Ping.
func NewRedisRelatednessCache(ctx context.Context, addr string, ttl time.Duration, logger *zap.Logger) (*RedisRelatednessCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRelatednessCache{Client: rdb, TTL: ttl, Logger: logger}, nil
}

func relatednessKey(a, b uint) string {
	return fmt.Sprintf("relatedness:%d:%d", a, b)
}

func (c *RedisRelatednessCache) Get(ctx context.Context, a, b uint) (*RelatednessResult, bool) {
	raw, err := c.Client.Get(ctx, relatednessKey(a, b)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.Logger.Warn("Relatedness cache read failed", zap.Uint("author_a", a), zap.Uint("author_b", b), zap.Error(err))
		}
		return nil, false
	}
	var result RelatednessResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.Logger.Warn("Discarding unreadable relatedness cache entry", zap.String("key", relatednessKey(a, b)), zap.Error(err))
		return nil, false
	}
	return &result, true
}

func (c *RedisRelatednessCache) Set(ctx context.Context, a, b uint, result *RelatednessResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.Logger.Warn("Relatedness result not cacheable", zap.Error(err))
		return
	}
	if err := c.Client.Set(ctx, relatednessKey(a, b), raw, c.TTL).Err(); err != nil {
		c.Logger.Warn("Relatedness cache write failed", zap.String("key", relatednessKey(a, b)), zap.Error(err))
	}
}

// Close schließt die Redis-Verbindung.
func (c *RedisRelatednessCache) Close() error {
	return c.Client.Close()
}
