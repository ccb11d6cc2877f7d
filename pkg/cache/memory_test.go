package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryServiceExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 11, 2, 8, 0, 0, 0, time.UTC)
	svc := NewMemoryService().(*memoryService)
	svc.now = func() time.Time { return now }

	if err := svc.Set(ctx, "k", map[string]int{"a": 1}, time.Minute); err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := svc.Get(ctx, "k", &got); err != nil || got["a"] != 1 {
		t.Fatalf("get = %v, %v", got, err)
	}

	now = now.Add(time.Minute)
	if err := svc.Get(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expired get err = %v", err)
	}
}

func TestMemoryServiceDeletePattern(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	for _, k := range []string{"tripseat:trips:list:a", "tripseat:trips:list:b", "tripseat:trip:1"} {
		_ = svc.Set(ctx, k, 1, 0)
	}

	if err := svc.DeletePattern(ctx, "tripseat:trips:list:*"); err != nil {
		t.Fatal(err)
	}
	var v int
	if err := svc.Get(ctx, "tripseat:trips:list:a", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("pattern key survived: %v", err)
	}
	if err := svc.Get(ctx, "tripseat:trip:1", &v); err != nil {
		t.Fatalf("unrelated key deleted: %v", err)
	}
}

func TestGetOrSet(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return []int{1, 2}, nil
	}

	for i := 0; i < 2; i++ {
		var got []int
		if err := svc.GetOrSet(ctx, "k", time.Minute, fetch, &got); err != nil || len(got) != 2 {
			t.Fatalf("GetOrSet = %v, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("fetcher ran %d times", calls)
	}

	boom := errors.New("boom")
	var got []int
	err := svc.GetOrSet(ctx, "other", time.Minute, func() (interface{}, error) { return nil, boom }, &got)
	if !errors.Is(err, boom) {
		t.Fatalf("fetch error = %v", err)
	}
}
