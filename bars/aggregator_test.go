package bars

import (
	"math/rand"
	"testing"
	"time"

	"intraday-autotrader/marketdata"
)

func tick(t time.Time, price float64, size int64) marketdata.Tick {
	return marketdata.Tick{Timestamp: t, Price: price, Size: size}
}

func TestAggregate(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		ticks    []marketdata.Tick
		expected []Bar
	}{
		{
			name:     "no ticks",
			ticks:    nil,
			expected: nil,
		},
		{
			name: "single minute OHLCV",
			ticks: []marketdata.Tick{
				tick(base.Add(5*time.Second), 100.0, 10),
				tick(base.Add(20*time.Second), 102.5, 5),
				tick(base.Add(40*time.Second), 99.0, 20),
				tick(base.Add(59*time.Second), 101.0, 15),
			},
			expected: []Bar{
				{Symbol: "AAPL", Minute: base, Open: 100.0, High: 102.5, Low: 99.0, Close: 101.0, Volume: 50},
			},
		},
		{
			name: "sparse minutes produce no bars",
			ticks: []marketdata.Tick{
				tick(base.Add(10*time.Second), 100.0, 10),
				// minute base+1m has no trades
				tick(base.Add(2*time.Minute+30*time.Second), 105.0, 7),
			},
			expected: []Bar{
				{Symbol: "AAPL", Minute: base, Open: 100.0, High: 100.0, Low: 100.0, Close: 100.0, Volume: 10},
				{Symbol: "AAPL", Minute: base.Add(2 * time.Minute), Open: 105.0, High: 105.0, Low: 105.0, Close: 105.0, Volume: 7},
			},
		},
		{
			name: "minute boundary tick starts a new bar",
			ticks: []marketdata.Tick{
				tick(base.Add(59*time.Second), 100.0, 10),
				tick(base.Add(60*time.Second), 200.0, 1),
			},
			expected: []Bar{
				{Symbol: "AAPL", Minute: base, Open: 100.0, High: 100.0, Low: 100.0, Close: 100.0, Volume: 10},
				{Symbol: "AAPL", Minute: base.Add(time.Minute), Open: 200.0, High: 200.0, Low: 200.0, Close: 200.0, Volume: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("AAPL", tt.ticks)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d bars, got %d", len(tt.expected), len(got))
			}
			for i, want := range tt.expected {
				if got[i] != want {
					t.Errorf("bar %d: expected %+v, got %+v", i, want, got[i])
				}
			}
		})
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	ticks := []marketdata.Tick{
		tick(base.Add(5*time.Second), 100.0, 10),
		tick(base.Add(20*time.Second), 102.5, 5),
		tick(base.Add(40*time.Second), 99.0, 20),
		tick(base.Add(70*time.Second), 101.0, 15),
		tick(base.Add(80*time.Second), 98.5, 8),
	}

	want := Aggregate("AAPL", ticks)

	shuffled := make([]marketdata.Tick, len(ticks))
	copy(shuffled, ticks)
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Aggregate("AAPL", shuffled)
		if len(got) != len(want) {
			t.Fatalf("shuffle %d: expected %d bars, got %d", i, len(want), len(got))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("shuffle %d bar %d: expected %+v, got %+v", i, j, want[j], got[j])
			}
		}
	}
}

func TestAggregateDoesNotMutateInput(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	ticks := []marketdata.Tick{
		tick(base.Add(30*time.Second), 100.0, 1),
		tick(base.Add(10*time.Second), 99.0, 1),
	}

	Aggregate("AAPL", ticks)

	if !ticks[0].Timestamp.Equal(base.Add(30 * time.Second)) {
		t.Error("input slice was reordered")
	}
}
