package kv

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

// BenchmarkEngineSet benchmarks writes against the in-memory engine.
func BenchmarkEngineSet(b *testing.B) {
	e := NewEngine()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.Set(ctx, fmt.Sprintf("bench-key-%d", i), "value"); err != nil {
			b.Errorf("Set failed: %v", err)
		}
	}
}

// BenchmarkEngineGet benchmarks reads of a hot key from the in-memory engine.
func BenchmarkEngineGet(b *testing.B) {
	e := NewEngine()
	ctx := context.Background()
	if err := e.Set(ctx, "bench-key", "value"); err != nil {
		b.Fatalf("Set failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Get(ctx, "bench-key"); err != nil {
			b.Errorf("Get failed: %v", err)
		}
	}
}

// BenchmarkStoreRoundTrip benchmarks a JSON round trip through the facade
// over a live connection.
func BenchmarkStoreRoundTrip(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping benchmark in short mode")
	}

	mr, err := miniredis.Run()
	if err != nil {
		b.Skipf("Could not start test server: %v", err)
		return
	}
	defer mr.Close()

	cfg := testConnConfig(mr.Addr())
	cfg.KeyPrefix = "curator:"
	mgr := NewConnManager(cfg, quietLogger(), nil)
	if err := mgr.Connect(context.Background()); err != nil {
		b.Fatalf("Connect failed: %v", err)
	}
	defer mgr.Close()

	store := NewStore(mgr)
	ctx := context.Background()
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("bench-%d", i)
		if err := store.Set(ctx, key, payload{Name: "bench", Count: i}); err != nil {
			b.Errorf("Set failed: %v", err)
		}
		var out payload
		if _, err := store.GetJSON(ctx, key, &out); err != nil {
			b.Errorf("Get failed: %v", err)
		}
	}
}
