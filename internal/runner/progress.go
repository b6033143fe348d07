package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Progress is the coarse state of the current or last run.
type Progress struct {
	RunID     string    `json:"run_id,omitempty"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Running   bool      `json:"running"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker stores progress so that other processes can poll it.
type Tracker interface {
	Set(ctx context.Context, p Progress) error
	Get(ctx context.Context) (Progress, error)
}

// MemoryTracker keeps progress in-process.
type MemoryTracker struct {
	mu sync.RWMutex
	p  Progress
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{p: Progress{Stage: StageIdle}}
}

func (m *MemoryTracker) Set(_ context.Context, p Progress) error {
	m.mu.Lock()
	m.p = p
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Get(context.Context) (Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.p, nil
}

// RedisTracker shares progress through a single Redis key.
type RedisTracker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, key string, ttl time.Duration) *RedisTracker {
	if key == "" {
		key = "leadrecon:progress"
	}
	return &RedisTracker{client: client, key: key, ttl: ttl}
}

func (r *RedisTracker) Set(ctx context.Context, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store progress: %w", err)
	}
	return nil
}

// Get returns an idle Progress when nothing was stored yet.
func (r *RedisTracker) Get(ctx context.Context) (Progress, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Progress{Stage: StageIdle}, nil
	}
	if err != nil {
		return Progress{}, fmt.Errorf("load progress: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, fmt.Errorf("decode progress: %w", err)
	}
	return p, nil
}
