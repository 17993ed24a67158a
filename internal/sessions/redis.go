package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces keys (default "converge:session:").
	Prefix string

	// TTL expires idle histories; 0 keeps them forever.
	TTL time.Duration

	MaxTurns int
}

// RedisStore keeps each session's turns in a capped Redis list.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	maxTurns int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "converge:session:"
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL, maxTurns: maxTurns}
}

func (s *RedisStore) turnsKey(key models.SessionKey) string {
	return s.prefix + "turns:" + key.String()
}

// Load returns the stored turns, oldest first.
func (s *RedisStore) Load(ctx context.Context, key models.SessionKey) ([]*models.Turn, error) {
	data, err := s.client.LRange(ctx, s.turnsKey(key), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load turns: %w", err)
	}
	turns := make([]*models.Turn, 0, len(data))
	for _, item := range data {
		turn, err := decodeTurn([]byte(item))
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Append pushes turn, trims the list to the cap and refreshes the TTL in
// one transaction.
func (s *RedisStore) Append(ctx context.Context, key models.SessionKey, turn *models.Turn) error {
	if turn == nil {
		return fmt.Errorf("turn is required")
	}
	payload, err := encodeTurn(turn)
	if err != nil {
		return err
	}
	k := s.turnsKey(key)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, payload)
	pipe.LTrim(ctx, k, int64(-s.maxTurns), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Clear deletes the session's list.
func (s *RedisStore) Clear(ctx context.Context, key models.SessionKey) error {
	if err := s.client.Del(ctx, s.turnsKey(key)).Err(); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
