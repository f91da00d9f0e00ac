package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client, 0)
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
	if manager.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", manager.ttl, DefaultTTL)
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, time.Hour)
}

func TestManager_PutGet(t *testing.T) {
	m := NewManager(setupTestRedis(t), time.Hour)
	ctx := context.Background()
	key := LookupKey{Country: "COLOMBIA", RequestNumber: "SD2020/0001"}

	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() before Put error = %v, want ErrCacheMiss", err)
	}

	if err := m.Put(ctx, key, "Registrada", true); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	entry, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Status != "Registrada" || !entry.Found {
		t.Errorf("entry = %+v, want Registrada/found", entry)
	}

	if err := m.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_SetExpiredIsNoop(t *testing.T) {
	m := NewManager(setupTestRedis(t), time.Hour)
	ctx := context.Background()
	key := LookupKey{RequestNumber: "old"}

	err := m.Set(ctx, key, &LookupEntry{RequestNumber: "old", Expires: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_SetNil(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	if err := NewManager(client, time.Hour).Set(context.Background(), LookupKey{}, nil); err == nil {
		t.Error("Set(nil) expected error, got nil")
	}
}
