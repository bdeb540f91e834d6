// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package remotesync implements the best-effort channel between the
// progression engine and the remote authority. Pushes and pulls are
// idempotent, and the authority applies the same monotonic max-wins
// merge on receipt so concurrently pushing devices converge.
package remotesync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/progression"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTTL is the default TTL for remote snapshots (90 days).
	DefaultTTL = 90 * 24 * time.Hour
	// KeyPrefix is the prefix for all remote snapshot keys.
	KeyPrefix = "progression:snapshot:"

	// txRetries bounds optimistic transaction retries on contention.
	txRetries = 5
)

// RedisConfig configures the connection to the remote authority.
type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	MaxRetries   int
	RetryDelayMs int
	TTL          time.Duration
}

// InitRedisClient initializes and returns a Redis client with retry logic.
func InitRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	retryDelayMs := cfg.RetryDelayMs
	if retryDelayMs <= 0 {
		retryDelayMs = 1000
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Host + ":" + cfg.Port,
		Password:     cfg.Password,
		DB:           0, // use default DB
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Retry connection with exponential backoff
	for i := 0; i < maxRetries; i++ {
		_, err := client.Ping(ctx).Result()
		if err == nil {
			logrus.Infof("connected to remote authority at %s:%s (attempt %d/%d)",
				cfg.Host, cfg.Port, i+1, maxRetries)
			return client, nil
		}

		if i < maxRetries-1 {
			delay := time.Duration(retryDelayMs*(i+1)) * time.Millisecond
			logrus.Warnf("remote authority connection failed (attempt %d/%d): %v, retrying in %v...",
				i+1, maxRetries, err, delay)
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("failed to connect to remote authority at %s:%s after %d attempts",
		cfg.Host, cfg.Port, maxRetries)
}

// RedisClient implements progression.RemoteClient against a Redis-backed
// authority. It needs the reward resolver because Push replays the
// engine's merge on the authority side.
type RedisClient struct {
	client   *redis.Client
	resolver *progression.RewardResolver
	ttl      time.Duration
}

// NewRedisClient creates a remote sync client.
func NewRedisClient(client *redis.Client, resolver *progression.RewardResolver, ttl time.Duration) *RedisClient {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisClient{client: client, resolver: resolver, ttl: ttl}
}

func makeKey(identityID string) string {
	return KeyPrefix + identityID
}

// Pull retrieves the authoritative snapshot for an identity, or
// (nil, nil) when the authority holds none.
func (r *RedisClient) Pull(ctx context.Context, identityID string) (*progression.Snapshot, error) {
	key := makeKey(identityID)

	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		logrus.Debugf("no remote snapshot for identity %s", identityID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pull snapshot for %s: %w", identityID, err)
	}

	var snapshot progression.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal remote snapshot for %s: %w", identityID, err)
	}

	logrus.Debugf("pulled remote snapshot for %s: xp=%d", identityID, snapshot.CumulativeXP)
	return &snapshot, nil
}

// Push stores a snapshot on the authority, merging max-wins with
// whatever is already there inside an optimistic transaction. Pushing
// the same snapshot twice is a no-op; pushing a stale snapshot can
// never regress the authoritative state.
func (r *RedisClient) Push(ctx context.Context, snapshot progression.Snapshot) error {
	key := makeKey(snapshot.IdentityID)

	txn := func(tx *redis.Tx) error {
		merged := snapshot
		existing, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read existing snapshot: %w", err)
		}
		if err == nil {
			var current progression.Snapshot
			if unmarshalErr := json.Unmarshal([]byte(existing), &current); unmarshalErr != nil {
				// A corrupt authority record is replaced by the pushed
				// snapshot rather than blocking sync forever.
				logrus.Errorf("replacing corrupt remote snapshot for %s: %v", snapshot.IdentityID, unmarshalErr)
			} else {
				merged = progression.Merge(current, snapshot, r.resolver)
			}
		}

		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < txRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			logrus.Debugf("pushed snapshot for %s (xp=%d)", snapshot.IdentityID, snapshot.CumulativeXP)
			return nil
		}
		if err == redis.TxFailedErr {
			// Another device pushed concurrently; re-read and re-merge.
			continue
		}
		return fmt.Errorf("failed to push snapshot for %s: %w", snapshot.IdentityID, err)
	}
	return fmt.Errorf("failed to push snapshot for %s: transaction contention after %d attempts",
		snapshot.IdentityID, txRetries)
}

// Reset deletes the authoritative snapshot for an identity.
func (r *RedisClient) Reset(ctx context.Context, identityID string) error {
	if err := r.client.Del(ctx, makeKey(identityID)).Err(); err != nil {
		return fmt.Errorf("failed to reset remote snapshot for %s: %w", identityID, err)
	}
	logrus.Infof("reset remote snapshot for %s", identityID)
	return nil
}
