package cache

import (
	"context"
	"testing"
	"time"

	"intraday-autotrader/bars"
)

func minuteAt(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func testBars(symbol string, minutes []time.Time) []bars.Bar {
	out := make([]bars.Bar, 0, len(minutes))
	for _, m := range minutes {
		out = append(out, bars.Bar{
			Symbol: symbol, Minute: m,
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
		})
	}
	return out
}

func TestBarCachePutGet(t *testing.T) {
	ctx := context.Background()
	cache := NewBarCache(NewMemoryStore(), "bars", time.Hour, time.UTC)

	bar := bars.Bar{
		Symbol: "AAPL", Minute: minuteAt(9, 30),
		Open: 100, High: 102, Low: 99.5, Close: 101, Volume: 1234,
	}
	if err := cache.Put(ctx, "run-1", bar); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := cache.Get(ctx, "run-1", "AAPL", minuteAt(9, 30))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected bar to be present")
	}
	if *got != bar {
		t.Errorf("expected %+v, got %+v", bar, *got)
	}
}

func TestBarCacheMissIsNotAnError(t *testing.T) {
	ctx := context.Background()
	cache := NewBarCache(NewMemoryStore(), "bars", time.Hour, time.UTC)

	got, ok, err := cache.Get(ctx, "run-1", "AAPL", minuteAt(11, 15))
	if err != nil {
		t.Fatalf("expected no error for a missing bar, got %v", err)
	}
	if ok || got != nil {
		t.Error("expected (nil, false) for a missing bar")
	}
}

func TestBarCacheKeysScopedByRun(t *testing.T) {
	ctx := context.Background()
	cache := NewBarCache(NewMemoryStore(), "bars", time.Hour, time.UTC)

	bar := bars.Bar{Symbol: "AAPL", Minute: minuteAt(9, 30), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
	if err := cache.Put(ctx, "run-a", bar); err != nil {
		t.Fatal(err)
	}

	// Same symbol, date and minute under a different run must not collide.
	_, ok, err := cache.Get(ctx, "run-b", "AAPL", minuteAt(9, 30))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("bar leaked across run boundaries")
	}
}

func TestHealthCheckRatio(t *testing.T) {
	ctx := context.Background()
	cache := NewBarCache(NewMemoryStore(), "bars", time.Hour, time.UTC)

	var minutes []time.Time
	for i := 0; i < 10; i++ {
		minutes = append(minutes, minuteAt(9, 30+i))
	}

	// Populate 6 of 10 sampled minutes.
	if err := cache.PutAll(ctx, "run-1", testBars("AAPL", minutes[:6])); err != nil {
		t.Fatal(err)
	}

	ratio := cache.HealthCheck(ctx, "run-1", "AAPL", minutes)
	if ratio != 0.6 {
		t.Errorf("expected completeness 0.6, got %v", ratio)
	}

	if err := cache.PutAll(ctx, "run-1", testBars("AAPL", minutes[6:])); err != nil {
		t.Fatal(err)
	}
	if ratio := cache.HealthCheck(ctx, "run-1", "AAPL", minutes); ratio != 1.0 {
		t.Errorf("expected completeness 1.0, got %v", ratio)
	}
}

func TestHealthCheckEmptySample(t *testing.T) {
	cache := NewBarCache(NewMemoryStore(), "bars", time.Hour, time.UTC)
	if ratio := cache.HealthCheck(context.Background(), "run-1", "AAPL", nil); ratio != 0 {
		t.Errorf("expected 0 for empty sample, got %v", ratio)
	}
}

func TestSampleMinutes(t *testing.T) {
	var candidates []time.Time
	for i := 0; i < 60; i++ {
		candidates = append(candidates, minuteAt(9, 30).Add(time.Duration(i)*time.Minute))
	}

	tests := []struct {
		name string
		n    int
		want int
	}{
		{name: "zero", n: 0, want: 0},
		{name: "one", n: 1, want: 1},
		{name: "five", n: 5, want: 5},
		{name: "more than available", n: 100, want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampled := SampleMinutes(candidates, tt.n)
			if len(sampled) != tt.want {
				t.Fatalf("expected %d samples, got %d", tt.want, len(sampled))
			}
			// Samples must be drawn from the candidates in order.
			for i := 1; i < len(sampled); i++ {
				if !sampled[i].After(sampled[i-1]) {
					t.Errorf("samples out of order at %d", i)
				}
			}
		})
	}

	// Endpoints are included when sampling more than one minute.
	sampled := SampleMinutes(candidates, 5)
	if !sampled[0].Equal(candidates[0]) {
		t.Error("first sample should be the first candidate")
	}
	if !sampled[4].Equal(candidates[59]) {
		t.Error("last sample should be the last candidate")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if !store.Exists(ctx, "k") {
		t.Fatal("expected key to exist before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	var dest string
	if err := store.Get(ctx, "k", &dest); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}
