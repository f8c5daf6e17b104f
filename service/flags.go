package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnTengye/casedesk/config"
)

// Advisory onboarding flags
const (
	FlagPaymentInitiated = "payment_initiated"
	FlagAgreementSigned  = "agreement_signed"
)

// FlagStore keeps advisory per-user onboarding flags. Values are hints for
// the client UI and are never used to decide workflow transitions.
type FlagStore interface {
	Set(ctx context.Context, userID, flag, value string) error
	Clear(ctx context.Context, userID, flag string) error
	All(ctx context.Context, userID string) (map[string]string, error)
}

// DefaultFlagTTL applies when no positive flag lifetime is configured
const DefaultFlagTTL = 72 * time.Hour

// RedisFlagStore keeps flags in a per-user hash
type RedisFlagStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisFlagStore returns a store whose hashes expire after ttl. A zero or
// negative ttl would make Redis drop the hash on write, so it falls back to
// DefaultFlagTTL.
func NewRedisFlagStore(client redis.UniversalClient, ttl time.Duration) *RedisFlagStore {
	if ttl <= 0 {
		ttl = DefaultFlagTTL
	}
	return &RedisFlagStore{
		client: client,
		prefix: "casedesk:flags:",
		ttl:    ttl,
	}
}

func (s *RedisFlagStore) Set(ctx context.Context, userID, flag, value string) error {
	key := s.prefix + userID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, flag, value)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set flag %s: %w", flag, err)
	}
	return nil
}

func (s *RedisFlagStore) Clear(ctx context.Context, userID, flag string) error {
	if err := s.client.HDel(ctx, s.prefix+userID, flag).Err(); err != nil {
		return fmt.Errorf("failed to clear flag %s: %w", flag, err)
	}
	return nil
}

func (s *RedisFlagStore) All(ctx context.Context, userID string) (map[string]string, error) {
	flags, err := s.client.HGetAll(ctx, s.prefix+userID).Result()
	if err != nil {
		if err == redis.Nil {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read flags: %w", err)
	}
	return flags, nil
}

type flagEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryFlagStore is the FlagStore used when no Redis is configured
type MemoryFlagStore struct {
	mu    sync.Mutex
	flags map[string]map[string]flagEntry
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryFlagStore(ttl time.Duration) *MemoryFlagStore {
	return &MemoryFlagStore{
		flags: make(map[string]map[string]flagEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *MemoryFlagStore) Set(_ context.Context, userID, flag, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.flags[userID]
	if !ok {
		user = make(map[string]flagEntry)
		s.flags[userID] = user
	}
	user[flag] = flagEntry{value: value, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryFlagStore) Clear(_ context.Context, userID, flag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flags[userID], flag)
	return nil
}

func (s *MemoryFlagStore) All(_ context.Context, userID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	result := make(map[string]string)
	for flag, entry := range s.flags[userID] {
		if s.ttl > 0 && now.After(entry.expiresAt) {
			delete(s.flags[userID], flag)
			continue
		}
		result[flag] = entry.value
	}
	return result, nil
}

// NewFlagStore connects to Redis when an address is configured and falls
// back to memory otherwise, or when Redis is unreachable
func NewFlagStore(ctx context.Context, cfg *config.RedisConfig) FlagStore {
	ttl := cfg.FlagTTLDuration()
	if ttl <= 0 {
		ttl = DefaultFlagTTL
	}
	if cfg.Addr == "" {
		slog.Warn("redis address not configured, onboarding flags kept in memory")
		return NewMemoryFlagStore(ttl)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis, onboarding flags kept in memory", "error", err)
		client.Close()
		return NewMemoryFlagStore(ttl)
	}

	slog.Info("redis flag store initialized", "addr", cfg.Addr)
	return NewRedisFlagStore(client, ttl)
}
