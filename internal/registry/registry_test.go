package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestAddRemoveExists(t *testing.T) {
	ctx := context.Background()
	r := New()

	if err := r.Add(ctx, "0xAbC123"); err != nil {
		t.Fatalf("add returned error: %v", err)
	}

	ok, _ := r.Exists(ctx, "0xabc123")
	if !ok {
		t.Fatal("expected address to exist after add")
	}

	if err := r.Remove(ctx, "0xABC123"); err != nil {
		t.Fatalf("remove returned error: %v", err)
	}

	ok, _ = r.Exists(ctx, "0xabc123")
	if ok {
		t.Fatal("expected address to be gone after remove")
	}
}

func TestAddRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	r := New()

	// Adding twice is a no-op, not an error.
	r.Add(ctx, "0xabc")
	r.Add(ctx, "0xabc")

	size, _ := r.Size(ctx)
	if size != 1 {
		t.Fatalf("expected size 1 after duplicate add, got %d", size)
	}

	// Removing an absent entry is a no-op, not an error.
	if err := r.Remove(ctx, "0xmissing"); err != nil {
		t.Fatalf("remove of absent entry returned error: %v", err)
	}
	if err := r.Remove(ctx, "0xabc"); err != nil {
		t.Fatalf("remove returned error: %v", err)
	}
	if err := r.Remove(ctx, "0xabc"); err != nil {
		t.Fatalf("second remove returned error: %v", err)
	}

	size, _ = r.Size(ctx)
	if size != 0 {
		t.Fatalf("expected empty registry, got size %d", size)
	}
}

func TestMixedCaseLookupsCompareEqual(t *testing.T) {
	ctx := context.Background()
	r := New()

	r.Add(ctx, "0x765DE816845861e75A25fCA122bb6898B8B1282a")

	ok, _ := r.Exists(ctx, "0x765de816845861e75a25fca122bb6898b8b1282a")
	if !ok {
		t.Fatal("expected checksummed add to match lower-case lookup")
	}

	ok, _ = r.Exists(ctx, "0x765DE816845861E75A25FCA122BB6898B8B1282A")
	if !ok {
		t.Fatal("expected upper-case lookup to match")
	}
}

func TestEmptyAddressIgnored(t *testing.T) {
	ctx := context.Background()
	r := New()

	r.Add(ctx, "")
	r.Add(ctx, "   ")

	size, _ := r.Size(ctx)
	if size != 0 {
		t.Fatalf("expected blank addresses to be ignored, got size %d", size)
	}
}

// Readers and a writer hammer the same registry; run with -race to verify
// lookups never observe torn state.
func TestConcurrentReadersWithWriter(t *testing.T) {
	ctx := context.Background()
	r := New()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			addr := fmt.Sprintf("0x%040x", i)
			r.Add(ctx, addr)
			if i%2 == 0 {
				r.Remove(ctx, addr)
			}
		}
	}()

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				addr := fmt.Sprintf("0x%040x", i)
				if _, err := r.Exists(ctx, addr); err != nil {
					t.Errorf("exists returned error: %v", err)
					return
				}
			}
		}()
	}

	wg.Wait()
}
