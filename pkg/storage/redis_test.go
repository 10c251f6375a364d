//go:build integration

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a Redis container for testing
func setupRedisContainer(t *testing.T) (*redis.RedisContainer, string) {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithSnapshotting(10, 1),
		redis.WithLogLevel(redis.LogLevelVerbose),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	// Strip "redis://" prefix if present
	addr := endpoint
	if len(endpoint) > 8 && endpoint[:8] == "redis://" {
		addr = endpoint[8:]
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return redisContainer, addr
}

func TestRedisStore_NewRedisStore_Success(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisStore_NewRedisStore_InvalidArgs(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		db      int
		ttl     time.Duration
		wantMsg string
	}{
		{name: "empty addr", addr: "", wantMsg: "redis address cannot be empty"},
		{name: "negative db", addr: "localhost:6379", db: -1, wantMsg: "redis database number must be >= 0"},
		{name: "negative ttl", addr: "localhost:6379", ttl: -time.Second, wantMsg: "redis ttl must be >= 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisStore(tt.addr, "", tt.db, tt.ttl)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("unexpected error message: %v", err)
			}
		})
	}
}

func TestRedisStore_NewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore("invalid:99999", "", 0, 0)
	if err == nil {
		t.Fatal("expected error for invalid address, got nil")
	}
}

func TestRedisStore_Put_Get(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	doc := []byte(`{"error_count":[{"t":1700000000,"v":10}]}`)

	if err := store.Put(ctx, KeyMetrics, doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := store.client.Exists(ctx, "vigil:state:metrics").Result()
	if err != nil {
		t.Fatalf("failed to check key existence: %v", err)
	}
	if exists != 1 {
		t.Error("expected key to exist in Redis")
	}

	ttl, err := store.client.TTL(ctx, "vigil:state:metrics").Result()
	if err != nil {
		t.Fatalf("failed to read ttl: %v", err)
	}
	if ttl >= 0 {
		t.Errorf("ttl = %v, want no expiry", ttl)
	}

	got, found, err := store.Get(ctx, KeyMetrics)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("expected document to be found")
	}
	if string(got) != string(doc) {
		t.Errorf("Get() = %s, want %s", got, doc)
	}
}

func TestRedisStore_Get_NotFound(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	data, found, err := store.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if found {
		t.Error("expected document not to be found")
	}
	if data != nil {
		t.Error("expected nil data")
	}
}

func TestRedisStore_InvalidKey(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Put(context.Background(), "bad key", []byte("x")); err == nil {
		t.Fatal("expected error for invalid key, got nil")
	}
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, KeyAnomalies, []byte(`{"anomalies":[]}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, found, err := store.Get(ctx, KeyAnomalies); err != nil || !found {
		t.Fatalf("expected document immediately after Put (found=%v, err=%v)", found, err)
	}

	time.Sleep(3 * time.Second)

	_, found, err := store.Get(ctx, KeyAnomalies)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("expected document to be expired")
	}
}

func TestRedisStore_Concurrency_MultiplePuts(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	var wg sync.WaitGroup
	numGoroutines := 10
	numPutsPerGoroutine := 10

	for i := range numGoroutines {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := range numPutsPerGoroutine {
				key := fmt.Sprintf("doc-%d-%d", goroutineID, j)
				if err := store.Put(context.Background(), key, []byte(fmt.Sprintf("%d", j))); err != nil {
					t.Errorf("Put failed in goroutine %d: %v", goroutineID, err)
				}
			}
		}(i)
	}

	wg.Wait()

	for i := range numGoroutines {
		for j := range numPutsPerGoroutine {
			key := fmt.Sprintf("doc-%d-%d", i, j)
			if _, found, err := store.Get(context.Background(), key); err != nil || !found {
				t.Errorf("document %s: found=%v err=%v", key, found, err)
			}
		}
	}
}

func TestRedisStore_Close_Idempotent(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := store.Put(context.Background(), "doc", []byte("x")); err == nil {
		t.Error("Put after Close should fail")
	}
}
