package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
)

// testKV runs the KV contract against newKV. Every key is placed under ns
// so backends shared between runs stay isolated.
func testKV(t *testing.T, ns string, newKV func(t *testing.T) KV) {
	t.Run("GetSetDelete", func(t *testing.T) {
		ctx := context.Background()
		kv := newKV(t)
		key := ns + "a"

		if _, err := kv.Get(ctx, ns+"missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := kv.Set(ctx, key, "1"); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := kv.Get(ctx, key)
		if err != nil || got != "1" {
			t.Fatalf("get = %q, %v", got, err)
		}
		if err := kv.Delete(ctx, key); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := kv.Delete(ctx, key); err != nil {
			t.Fatalf("delete of absent key should not fail: %v", err)
		}
		if _, err := kv.Get(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("ConditionalWrites", func(t *testing.T) {
		ctx := context.Background()
		kv := newKV(t)
		key := ns + "k"

		if err := kv.CompareAndSwap(ctx, key, "", "v"); !errors.Is(err, ErrConflict) {
			t.Fatalf("cas on absent key: expected ErrConflict, got %v", err)
		}
		if err := kv.SetIfAbsent(ctx, key, "v1"); err != nil {
			t.Fatalf("set if absent: %v", err)
		}
		if err := kv.SetIfAbsent(ctx, key, "v2"); !errors.Is(err, ErrConflict) {
			t.Fatalf("second set if absent: expected ErrConflict, got %v", err)
		}
		if err := kv.CompareAndSwap(ctx, key, "stale", "v3"); !errors.Is(err, ErrConflict) {
			t.Fatalf("stale cas: expected ErrConflict, got %v", err)
		}
		if err := kv.CompareAndSwap(ctx, key, "v1", "v3"); err != nil {
			t.Fatalf("cas: %v", err)
		}
		if got, _ := kv.Get(ctx, key); got != "v3" {
			t.Fatalf("expected v3, got %q", got)
		}
	})

	t.Run("ScanPrefix", func(t *testing.T) {
		ctx := context.Background()
		kv := newKV(t)
		prefix := ns + "user_[x]*"
		for _, key := range []string{prefix + "b", prefix + "a", ns + "other", prefix, ns + "user_yb"} {
			if err := kv.Set(ctx, key, key+"-value"); err != nil {
				t.Fatalf("set %s: %v", key, err)
			}
		}

		entries, err := kv.Scan(ctx, prefix)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		want := []string{prefix, prefix + "a", prefix + "b"}
		if len(entries) != len(want) {
			t.Fatalf("expected %d entries, got %+v", len(want), entries)
		}
		for i, entry := range entries {
			if entry.Key != want[i] || entry.Value != want[i]+"-value" {
				t.Fatalf("entry %d = %+v", i, entry)
			}
		}
	})

	t.Run("CompareAndSwapUnderContention", func(t *testing.T) {
		ctx := context.Background()
		kv := newKV(t)
		key := ns + "counter"
		if err := kv.Set(ctx, key, "0"); err != nil {
			t.Fatalf("set: %v", err)
		}

		const workers, increments = 8, 10
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < increments; {
					raw, err := kv.Get(ctx, key)
					if err != nil {
						errs <- err
						return
					}
					n, _ := strconv.Atoi(raw)
					err = kv.CompareAndSwap(ctx, key, raw, strconv.Itoa(n+1))
					if errors.Is(err, ErrConflict) {
						continue
					}
					if err != nil {
						errs <- err
						return
					}
					i++
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("increment: %v", err)
		}

		got, err := kv.Get(ctx, key)
		if err != nil || got != strconv.Itoa(workers*increments) {
			t.Fatalf("counter = %q, %v; want %d", got, err, workers*increments)
		}
	})
}
