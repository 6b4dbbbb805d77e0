package cache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMemorySetGet(t *testing.T) {
	m := NewMemory(0, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %q", got)
	}
}

func TestMemoryMiss(t *testing.T) {
	m := NewMemory(0, zap.NewNop())
	defer m.Close()

	_, ok, err := m.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected miss for absent key")
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(0, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "short"); ok {
		t.Error("expired entry should miss")
	}
	if m.Len() != 0 {
		t.Errorf("lazy expiry should have removed the entry, len=%d", m.Len())
	}
}

func TestMemoryOverwriteRefreshesTTL(t *testing.T) {
	m := NewMemory(0, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("old"), 10*time.Millisecond)
	m.Set(ctx, "k", []byte("new"), time.Minute)
	time.Sleep(30 * time.Millisecond)

	got, ok, _ := m.Get(ctx, "k")
	if !ok || string(got) != "new" {
		t.Fatalf("expected refreshed entry, ok=%v got=%q", ok, got)
	}
}

func TestMemorySweep(t *testing.T) {
	m := NewMemory(10*time.Millisecond, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), time.Millisecond)
	m.Set(ctx, "b", []byte("2"), time.Minute)

	deadline := time.Now().Add(time.Second)
	for m.Len() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Len() != 1 {
		t.Errorf("sweep should leave only the live entry, len=%d", m.Len())
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory(0, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Minute)
	m.Delete(ctx, "k")
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("deleted key should miss")
	}
}
