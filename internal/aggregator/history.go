package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultHistoryLength caps each rolling buffer.
const DefaultHistoryLength = 90

// Snapshot is one timestamped price observation.
type Snapshot struct {
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// History stores capped, FIFO-evicted snapshot buffers keyed by route or location.
type History interface {
	Append(ctx context.Context, key string, s Snapshot) error
	List(ctx context.Context, key string) ([]Snapshot, error)
}

// FlightKey is the history key of a route.
func FlightKey(origin, destination string) string {
	return "flight:" + strings.ToUpper(strings.TrimSpace(origin)) + "-" + strings.ToUpper(strings.TrimSpace(destination))
}

// HotelKey is the history key of a hotel location.
func HotelKey(location string) string {
	return "hotel:" + strings.ToUpper(strings.TrimSpace(location))
}

// MemoryHistory keeps buffers in process memory; contents are lost on restart.
type MemoryHistory struct {
	limit   int
	mu      sync.RWMutex
	buffers map[string][]Snapshot
}

// NewMemoryHistory builds an in-process history.
func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = DefaultHistoryLength
	}
	return &MemoryHistory{limit: limit, buffers: make(map[string][]Snapshot)}
}

func (m *MemoryHistory) Append(_ context.Context, key string, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := append(m.buffers[key], s)
	if over := len(buf) - m.limit; over > 0 {
		buf = append([]Snapshot(nil), buf[over:]...)
	}
	m.buffers[key] = buf
	return nil
}

func (m *MemoryHistory) List(_ context.Context, key string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.buffers[key]...), nil
}

// RedisHistory keeps each buffer in a Redis list trimmed to the newest entries.
type RedisHistory struct {
	rdb    redis.Cmdable
	prefix string
	limit  int
}

// NewRedisHistory builds a Redis-backed history.
func NewRedisHistory(rdb redis.Cmdable, prefix string, limit int) *RedisHistory {
	if prefix == "" {
		prefix = "pricewatch:history:"
	}
	if limit <= 0 {
		limit = DefaultHistoryLength
	}
	return &RedisHistory{rdb: rdb, prefix: prefix, limit: limit}
}

func (r *RedisHistory) Append(ctx context.Context, key string, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, r.prefix+key, data)
	pipe.LTrim(ctx, r.prefix+key, int64(-r.limit), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history %s: %w", key, err)
	}
	return nil
}

func (r *RedisHistory) List(ctx context.Context, key string) ([]Snapshot, error) {
	rows, err := r.rdb.LRange(ctx, r.prefix+key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", key, err)
	}
	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		var s Snapshot
		if err := json.Unmarshal([]byte(row), &s); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", key, err)
		}
		out = append(out, s)
	}
	return out, nil
}

var (
	_ History = (*MemoryHistory)(nil)
	_ History = (*RedisHistory)(nil)
)
