package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/redis/go-redis/v9"
)

// FilterStore persists filter bags across restarts, keyed by strings such as
// "filters-api-users". Values are stored as JSON.
type FilterStore interface {
	Load(ctx context.Context, key string) (map[string]any, bool, error)
	Save(ctx context.Context, key string, filters map[string]any) error
	Delete(ctx context.Context, key string) error
}

// --- MemoryFilterStore ---

// MemoryFilterStore keeps filters in process memory.
type MemoryFilterStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryFilterStore creates an empty in-memory store.
func NewMemoryFilterStore() *MemoryFilterStore {
	return &MemoryFilterStore{entries: make(map[string][]byte)}
}

// Load returns the filters stored under key.
func (s *MemoryFilterStore) Load(_ context.Context, key string) (map[string]any, bool, error) {
	s.mu.RLock()
	raw, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return decodeFilters(key, raw)
}

// Save stores filters under key.
func (s *MemoryFilterStore) Save(_ context.Context, key string, filters map[string]any) error {
	raw, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("marshal filters %q: %w", key, err)
	}
	s.mu.Lock()
	s.entries[key] = raw
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *MemoryFilterStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryFilterStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- FileFilterStore ---

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileFilterStore writes one JSON file per key into a directory. Writes are
// atomic.
type FileFilterStore struct {
	dir string
}

// NewFileFilterStore creates the directory if needed.
func NewFileFilterStore(dir string) (*FileFilterStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create filter dir: %w", err)
	}
	return &FileFilterStore{dir: dir}, nil
}

// path percent-encodes every byte outside the safe set, '%' included, so
// distinct keys never share a file.
func (s *FileFilterStore) path(key string) string {
	name := unsafeKeyChars.ReplaceAllStringFunc(key, func(c string) string {
		var b strings.Builder
		for i := 0; i < len(c); i++ {
			fmt.Fprintf(&b, "%%%02X", c[i])
		}
		return b.String()
	})
	return filepath.Join(s.dir, name+".json")
}

// Load reads the file for key.
func (s *FileFilterStore) Load(_ context.Context, key string) (map[string]any, bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read filters %q: %w", key, err)
	}
	return decodeFilters(key, raw)
}

// Save atomically replaces the file for key.
func (s *FileFilterStore) Save(_ context.Context, key string, filters map[string]any) error {
	raw, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("marshal filters %q: %w", key, err)
	}
	if err := renameio.WriteFile(s.path(key), raw, 0o644); err != nil {
		return fmt.Errorf("write filters %q: %w", key, err)
	}
	return nil
}

// Delete removes the file for key.
func (s *FileFilterStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete filters %q: %w", key, err)
	}
	return nil
}

// --- RedisFilterStore ---

// RedisFilterStore keeps filters in Redis under a key prefix.
type RedisFilterStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisFilterStore creates a Redis-backed store. A zero ttl keeps keys
// forever.
func NewRedisFilterStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisFilterStore {
	return &RedisFilterStore{client: client, prefix: prefix, ttl: ttl}
}

// Load reads key from Redis.
func (s *RedisFilterStore) Load(ctx context.Context, key string) (map[string]any, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return decodeFilters(key, raw)
}

// Save writes key to Redis.
func (s *RedisFilterStore) Save(ctx context.Context, key string, filters map[string]any) error {
	raw, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("marshal filters %q: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes key from Redis.
func (s *RedisFilterStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func decodeFilters(key string, raw []byte) (map[string]any, bool, error) {
	var filters map[string]any
	if err := json.Unmarshal(raw, &filters); err != nil {
		return nil, false, fmt.Errorf("unmarshal filters %q: %w", key, err)
	}
	return filters, true, nil
}

// HealthCheck pings Redis.
func (s *RedisFilterStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
