// Package cache wraps github.com/redis/go-redis/v9 with the same
// circuit-breaker-over-Redis shape the reference used for settings
// caching, generalized to the primitives the Intelligence Stores and
// Signal Bus need: strings, sorted sets, hashes, and streams.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"curvewarden/internal/logging"
)

// Service provides Redis-backed storage with graceful degradation: once
// maxFailures consecutive operations fail, it marks itself unhealthy and
// short-circuits further calls until a background ping recovers it.
type Service struct {
	client *redis.Client

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// Config is the subset of connection parameters the service needs.
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// New connects to Redis and verifies connectivity, returning the service
// in degraded mode (rather than failing startup) if the initial ping
// fails — matching the reference's graceful-degradation posture.
func New(cfg Config) *Service {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Service{
		client:        client,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.WithComponent("cache").Warn("initial redis connection failed, starting degraded", "error", err)
		return s
	}

	s.healthy = true
	s.lastCheck = time.Now()
	return s
}

// IsHealthy reports whether Redis is currently reachable.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= s.maxFailures {
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

func (s *Service) checkHealth(ctx context.Context) {
	s.mu.RLock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	s.mu.RUnlock()
	if !shouldCheck {
		return
	}
	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Ping(pingCtx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

func (s *Service) guardAvailable(ctx context.Context) error {
	s.checkHealth(ctx)
	if !s.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}
	return nil
}

// Set stores the raw bytes of value with ttl. ttl<=0 means no expiry.
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.guardAvailable(ctx); err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// Get returns the raw value for key, or redis.Nil wrapped on cache miss.
func (s *Service) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.guardAvailable(ctx); err != nil {
		return nil, err
	}
	v, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, err
		}
		s.recordFailure()
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	s.recordSuccess()
	return v, nil
}

// SetJSON marshals value and stores it with ttl.
func (s *Service) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.Set(ctx, key, data, ttl)
}

// GetJSON fetches and unmarshals a JSON value. Returns redis.Nil on miss.
func (s *Service) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// ZAdd upserts a sorted-set member with score.
func (s *Service) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.guardAvailable(ctx); err != nil {
		return err
	}
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis zadd failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// ZRevRange returns the top-scoring members in [start,stop], highest first.
func (s *Service) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := s.guardAvailable(ctx); err != nil {
		return nil, err
	}
	v, err := s.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}
	s.recordSuccess()
	return v, nil
}

// HSet stores field within hash key.
func (s *Service) HSet(ctx context.Context, key, field string, value []byte) error {
	if err := s.guardAvailable(ctx); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis hset failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// HGetAll returns every field/value pair in hash key.
func (s *Service) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := s.guardAvailable(ctx); err != nil {
		return nil, err
	}
	v, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	s.recordSuccess()
	return v, nil
}

// SAdd adds members to set key with ttl refreshed on every call.
func (s *Service) SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if err := s.guardAvailable(ctx); err != nil {
		return err
	}
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, vals...)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis sadd failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// SMembers returns every member of set key.
func (s *Service) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := s.guardAvailable(ctx); err != nil {
		return nil, err
	}
	v, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	s.recordSuccess()
	return v, nil
}

// XAddCapped appends fields to a stream at key, trimmed approximately to
// maxLen entries.
func (s *Service) XAddCapped(ctx context.Context, key string, maxLen int64, fields map[string]interface{}) (string, error) {
	if err := s.guardAvailable(ctx); err != nil {
		return "", err
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: maxLen,
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		s.recordFailure()
		return "", fmt.Errorf("redis xadd failed: %w", err)
	}
	s.recordSuccess()
	return id, nil
}

// EnsureConsumerGroup creates group on stream key starting from the
// beginning of the stream, tolerating BUSYGROUP if it already exists.
func (s *Service) EnsureConsumerGroup(ctx context.Context, key, group string) error {
	if err := s.guardAvailable(ctx); err != nil {
		return err
	}
	err := s.client.XGroupCreateMkStream(ctx, key, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		s.recordFailure()
		return fmt.Errorf("redis xgroup create failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// ReadGroup polls group/consumer on the given streams with a blocking
// read, returning up to count entries per stream.
func (s *Service) ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]redis.XStream, error) {
	if err := s.guardAvailable(ctx); err != nil {
		return nil, err
	}
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		s.recordFailure()
		return nil, fmt.Errorf("redis xreadgroup failed: %w", err)
	}
	s.recordSuccess()
	return res, nil
}

// Ack acknowledges message ids on stream key for consumer group.
func (s *Service) Ack(ctx context.Context, key, group string, ids ...string) error {
	if err := s.guardAvailable(ctx); err != nil {
		return err
	}
	if err := s.client.XAck(ctx, key, group, ids...).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis xack failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// Expire sets a TTL on an arbitrary key.
func (s *Service) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.guardAvailable(ctx); err != nil {
		return err
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis expire failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// Close closes the underlying connection pool.
func (s *Service) Close() error {
	return s.client.Close()
}

// IsNotFound reports whether err is a cache-miss (redis.Nil).
func IsNotFound(err error) bool {
	return err == redis.Nil
}
