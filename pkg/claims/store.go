package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store holds the active custom claims per principal.
// Get on an unknown user returns zero AppMetadata and no error.
type Store interface {
	Get(ctx context.Context, userID string) (AppMetadata, error)
	Put(ctx context.Context, userID string, md AppMetadata) error
	Delete(ctx context.Context, userID string) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]AppMetadata
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]AppMetadata{}}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (AppMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[userID], nil
}

func (s *MemoryStore) Put(_ context.Context, userID string, md AppMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[userID] = md
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, userID)
	return nil
}

// RedisStore keeps AppMetadata as JSON under claims:<user>.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "claims:"}
}

func (s *RedisStore) key(userID string) string { return s.prefix + userID }

func (s *RedisStore) Get(ctx context.Context, userID string) (AppMetadata, error) {
	b, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return AppMetadata{}, nil
	}
	if err != nil {
		return AppMetadata{}, fmt.Errorf("claims get: %w", err)
	}
	var md AppMetadata
	if err := json.Unmarshal(b, &md); err != nil {
		return AppMetadata{}, fmt.Errorf("claims decode: %w", err)
	}
	return md, nil
}

func (s *RedisStore) Put(ctx context.Context, userID string, md AppMetadata) error {
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(userID), b, 0).Err(); err != nil {
		return fmt.Errorf("claims put: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("claims delete: %w", err)
	}
	return nil
}
