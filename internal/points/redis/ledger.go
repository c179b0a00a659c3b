// Package redis stores point awards in Redis: a hash of running totals keyed
// by lowercased username plus a list of award records per event.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tjfontaine/kickhook/internal/points"
)

const DefaultKeyPrefix = "kickhook:"

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Ledger is a Redis implementation of points.Ledger
type Ledger struct {
	client *redis.Client
	prefix string
}

var _ points.Ledger = (*Ledger)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &Ledger{client: client, prefix: prefix}, nil
}

func (l *Ledger) totalsKey() string {
	return l.prefix + "points:totals"
}

func (l *Ledger) eventKey(eventID string) string {
	return l.prefix + "points:event:" + eventID
}

func (l *Ledger) Record(ctx context.Context, award points.Award) error {
	if strings.TrimSpace(award.Username) == "" {
		return fmt.Errorf("award for event %s has no username", award.EventID)
	}
	if award.CreatedAt.IsZero() {
		award.CreatedAt = time.Now()
	}

	data, err := json.Marshal(award)
	if err != nil {
		return fmt.Errorf("failed to marshal award: %w", err)
	}

	pipe := l.client.TxPipeline()
	pipe.HIncrBy(ctx, l.totalsKey(), strings.ToLower(award.Username), int64(award.Points))
	pipe.RPush(ctx, l.eventKey(award.EventID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record award: %w", err)
	}
	return nil
}

func (l *Ledger) Total(ctx context.Context, username string) (int, error) {
	total, err := l.client.HGet(ctx, l.totalsKey(), strings.ToLower(username)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read total: %w", err)
	}
	return total, nil
}

// ListByEvent returns the awards recorded for one event in insertion order.
func (l *Ledger) ListByEvent(ctx context.Context, eventID string) ([]points.Award, error) {
	items, err := l.client.LRange(ctx, l.eventKey(eventID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list awards: %w", err)
	}

	awards := make([]points.Award, 0, len(items))
	for _, item := range items {
		var a points.Award
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("failed to decode award: %w", err)
		}
		awards = append(awards, a)
	}
	return awards, nil
}

func (l *Ledger) Close() error {
	return l.client.Close()
}
