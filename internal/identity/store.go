package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"secretaria/internal/redis"
)

// ErrNoSession means no usable credentials are stored.
var ErrNoSession = errors.New("not signed in")

// Credentials is the bearer token of a signed-in user.
type Credentials struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the token is present and not past its expiry.
func (c Credentials) Valid(now time.Time) bool {
	return c.Token != "" && (c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt))
}

// Store persists credentials between runs.
type Store interface {
	Save(ctx context.Context, creds Credentials) error
	Load(ctx context.Context) (Credentials, error)
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu    sync.Mutex
	creds *Credentials
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
	return nil
}

func (s *MemoryStore) Load(context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil || !s.creds.Valid(s.now()) {
		return Credentials{}, ErrNoSession
	}
	return *s.creds, nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

// FileStore keeps credentials in a JSON file readable only by the owner.
type FileStore struct {
	path string
	now  func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Save(_ context.Context, creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *FileStore) Load(context.Context) (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNoSession
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read session: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode session: %w", err)
	}
	if !creds.Valid(s.now()) {
		return Credentials{}, ErrNoSession
	}
	return creds, nil
}

func (s *FileStore) Clear(context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// RedisStore keeps credentials under one key per profile and lets redis
// expire them together with the token.
type RedisStore struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, profile string) *RedisStore {
	return &RedisStore{client: client, key: "secretaria:session:" + profile, now: time.Now}
}

func (s *RedisStore) Save(ctx context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	var ttl time.Duration
	if !creds.ExpiresAt.IsZero() {
		ttl = creds.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Clear(ctx)
		}
	}
	return s.client.Set(ctx, s.key, data, ttl)
}

func (s *RedisStore) Load(ctx context.Context) (Credentials, error) {
	raw, err := s.client.Get(ctx, s.key)
	if errors.Is(err, redis.ErrCacheMiss) {
		return Credentials{}, ErrNoSession
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load session: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode session: %w", err)
	}
	if !creds.Valid(s.now()) {
		return Credentials{}, ErrNoSession
	}
	return creds, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key)
}
