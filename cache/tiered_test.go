package cache

import (
	"context"
	"testing"
	"time"
)

func TestTiered_PromotesL2Hits(t *testing.T) {
	l1 := NewMemoryCache(DefaultPolicy())
	l2 := NewMemoryCache(DefaultPolicy())
	tc := NewTiered(l1, l2, time.Minute)
	ctx := context.Background()

	_ = l2.Set(ctx, "k", []byte("v"), time.Minute)

	v, ok, err := tc.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}
	if _, ok, _ := l1.Peek(ctx, "k"); !ok {
		t.Error("L2 hit should be promoted into L1")
	}
}

func TestTiered_SetWritesBoth(t *testing.T) {
	l1 := NewMemoryCache(DefaultPolicy())
	l2 := NewMemoryCache(DefaultPolicy())
	tc := NewTiered(l1, l2, time.Minute)
	ctx := context.Background()

	_ = tc.Set(ctx, "k", []byte("v"), time.Minute)
	if l1.Len() != 1 || l2.Len() != 1 {
		t.Errorf("Len() = %d/%d, want 1/1", l1.Len(), l2.Len())
	}

	_ = tc.Delete(ctx, "k")
	if l1.Len() != 0 || l2.Len() != 0 {
		t.Errorf("Len() after Delete = %d/%d, want 0/0", l1.Len(), l2.Len())
	}
}

func TestTiered_PeekFallsBackToL2(t *testing.T) {
	l1 := NewMemoryCache(DefaultPolicy())
	l2 := NewMemoryCache(DefaultPolicy())
	tc := NewTiered(l1, l2, time.Minute)
	ctx := context.Background()

	_ = l2.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok, _ := tc.Peek(ctx, "k"); !ok {
		t.Error("Peek should find L2 entries")
	}
	if l1.Len() != 0 {
		t.Error("Peek must not promote")
	}
}
