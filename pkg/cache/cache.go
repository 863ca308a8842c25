// Package cache adds a Redis verdict cache in front of a classifier.
// Fragment content repeats heavily in real traffic (the same paths,
// params, and headers arrive over and over), so memoizing verdicts by
// content hash removes most classifier calls. The cache degrades to
// pass-through on any Redis trouble; correctness never depends on it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TryMightyAI/warden/pkg/ml"
	"github.com/TryMightyAI/warden/pkg/telemetry"
)

const keyPrefix = "warden:verdict:"

// VerdictCache memoizes classifier verdicts keyed by content hash.
// Implements ml.Classifier.
type VerdictCache struct {
	client  *redis.Client
	inner   ml.Classifier
	ttl     time.Duration
	metrics *telemetry.Collector
}

// New connects to Redis and wraps the inner classifier. Returns nil when
// the address is empty or Redis is unreachable; callers then keep using
// the inner classifier directly.
func New(addr, password string, db int, inner ml.Classifier, ttl time.Duration, metrics *telemetry.Collector) *VerdictCache {
	if addr == "" || inner == nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Printf("[CACHE] Redis unreachable at %s (%v), verdicts will not be cached", addr, err)
		return nil
	}

	log.Printf("[CACHE] Verdict cache connected to %s (TTL %v)", addr, ttl)
	return NewWithClient(client, inner, ttl, metrics)
}

// NewWithClient wraps an existing Redis client. The caller owns client
// lifetime decisions; Close still closes it.
func NewWithClient(client *redis.Client, inner ml.Classifier, ttl time.Duration, metrics *telemetry.Collector) *VerdictCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &VerdictCache{
		client:  client,
		inner:   inner,
		ttl:     ttl,
		metrics: metrics,
	}
}

// Key returns the cache key for a piece of content. Hashing keeps raw
// payloads out of Redis and bounds key size.
func Key(content string) string {
	sum := sha256.Sum256([]byte(content))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Classify serves from cache when possible, otherwise delegates and
// stores the verdict. Redis errors fall through to the inner classifier.
func (v *VerdictCache) Classify(ctx context.Context, content string) (ml.Verdict, error) {
	key := Key(content)

	data, err := v.client.Get(ctx, key).Bytes()
	if err == nil {
		var verdict ml.Verdict
		if jsonErr := json.Unmarshal(data, &verdict); jsonErr == nil {
			v.recordHit()
			return verdict, nil
		}
		// Corrupt entry: drop it and fall through to the classifier.
		_ = v.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
		log.Printf("[CACHE] Read failed (%v), passing through", err)
	}

	v.recordMiss()
	verdict, err := v.inner.Classify(ctx, content)
	if err != nil {
		return verdict, err
	}

	if data, jsonErr := json.Marshal(verdict); jsonErr == nil {
		if setErr := v.client.Set(ctx, key, data, v.ttl).Err(); setErr != nil {
			log.Printf("[CACHE] Write failed (%v)", setErr)
		}
	}
	return verdict, nil
}

// IsReady defers to the wrapped classifier; the cache itself is always
// optional.
func (v *VerdictCache) IsReady() bool {
	return v.inner.IsReady()
}

// Close releases the Redis client.
func (v *VerdictCache) Close() error {
	return v.client.Close()
}

func (v *VerdictCache) recordHit() {
	if v.metrics != nil {
		v.metrics.RecordCacheHit()
	}
}

func (v *VerdictCache) recordMiss() {
	if v.metrics != nil {
		v.metrics.RecordCacheMiss()
	}
}
