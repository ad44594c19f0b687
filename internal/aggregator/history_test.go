package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func fill(t *testing.T, h History, key string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		s := Snapshot{
			Price:     decimal.NewFromInt(int64(i)),
			Currency:  "USD",
			Timestamp: fixedNow.Add(time.Duration(i) * time.Hour),
			Source:    SourceAggregate,
		}
		if err := h.Append(context.Background(), key, s); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func assertFIFO(t *testing.T, h History, key string, limit, total int) {
	t.Helper()
	snaps, err := h.List(context.Background(), key)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != limit {
		t.Fatalf("expected %d entries, got %d", limit, len(snaps))
	}
	first := int64(total - limit)
	for i, s := range snaps {
		if !s.Price.Equal(decimal.NewFromInt(first + int64(i))) {
			t.Fatalf("entry %d: expected %d, got %s", i, first+int64(i), s.Price)
		}
	}
}

func TestMemoryHistoryEvictsOldest(t *testing.T) {
	h := NewMemoryHistory(90)
	fill(t, h, "flight:JFK-LHR", 100)
	assertFIFO(t, h, "flight:JFK-LHR", 90, 100)

	other, _ := h.List(context.Background(), "flight:JFK-CDG")
	if len(other) != 0 {
		t.Fatal("keys must not share buffers")
	}
}

func TestRedisHistoryEvictsOldest(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})

	h := NewRedisHistory(rdb, "test:history:", 5)
	fill(t, h, "hotel:LISBON", 8)
	assertFIFO(t, h, "hotel:LISBON", 5, 8)

	if !s.Exists("test:history:hotel:LISBON") {
		t.Fatal("expected prefixed redis key")
	}

	snaps, _ := h.List(context.Background(), "hotel:LISBON")
	if !snaps[0].Timestamp.Equal(fixedNow.Add(3 * time.Hour)) {
		t.Fatalf("timestamps should round-trip: %s", snaps[0].Timestamp)
	}
}
