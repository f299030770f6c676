package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"intraday-autotrader/config"
)

func testConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		BaseURL:            baseURL,
		PageSize:           2,
		MaxPages:           50,
		MaxRetries:         3,
		BackoffBaseMs:      1,
		RateLimitPerMinute: 600000,
		TimeoutSeconds:     5,
	}
}

type rawTick struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
	S int64   `json:"s"`
}

func pageResponse(ticks []rawTick, nextToken string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"results":    ticks,
		"next_token": nextToken,
	})
	return body
}

func TestFetchTicksPaginatesByTimestamp(t *testing.T) {
	loc := time.UTC
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	window := SessionWindow{
		Start: time.Date(2026, 3, 2, 9, 30, 0, 0, loc),
		End:   time.Date(2026, 3, 2, 9, 35, 0, 0, loc),
	}

	all := []rawTick{
		{T: window.Start.UnixNano() + 1, P: 100, S: 1},
		{T: window.Start.UnixNano() + 2, P: 101, S: 2},
		{T: window.Start.Add(time.Minute).UnixNano(), P: 102, S: 3},
		{T: window.Start.Add(2 * time.Minute).UnixNano(), P: 103, S: 4},
		{T: window.Start.Add(3 * time.Minute).UnixNano(), P: 104, S: 5},
	}

	var lowerBounds []int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gte, _ := strconv.ParseInt(r.URL.Query().Get("timestamp.gte"), 10, 64)
		lowerBounds = append(lowerBounds, gte)

		var page []rawTick
		for _, tick := range all {
			if tick.T >= gte && len(page) < 2 {
				page = append(page, tick)
			}
		}
		w.Write(pageResponse(page, "tok"))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), loc)
	ticks, err := client.FetchTicks(context.Background(), "AAPL", date, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ticks) != 5 {
		t.Fatalf("expected 5 ticks, got %d", len(ticks))
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i].Timestamp.Before(ticks[i-1].Timestamp) {
			t.Errorf("ticks out of order at %d", i)
		}
	}

	// Each page's lower bound must be the previous page's last timestamp
	// plus one, regardless of the token the server returned.
	if len(lowerBounds) < 3 {
		t.Fatalf("expected at least 3 pages, got %d", len(lowerBounds))
	}
	if lowerBounds[1] != all[1].T+1 {
		t.Errorf("second page lower bound: expected %d, got %d", all[1].T+1, lowerBounds[1])
	}
	if lowerBounds[2] != all[3].T+1 {
		t.Errorf("third page lower bound: expected %d, got %d", all[3].T+1, lowerBounds[2])
	}
}

func TestFetchTicksIgnoresStuckToken(t *testing.T) {
	loc := time.UTC
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	window := SessionWindow{
		Start: time.Date(2026, 3, 2, 9, 30, 0, 0, loc),
		End:   time.Date(2026, 3, 2, 9, 35, 0, 0, loc),
	}

	// The server always returns the same stuck token. Progress must come
	// from the timestamp lower bound alone.
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		gte, _ := strconv.ParseInt(r.URL.Query().Get("timestamp.gte"), 10, 64)

		base := window.Start.UnixNano()
		var page []rawTick
		for i := int64(0); i < 6; i++ {
			ts := base + i*int64(time.Minute)/2
			if ts >= gte && len(page) < 2 {
				page = append(page, rawTick{T: ts, P: 100, S: 1})
			}
		}
		w.Write(pageResponse(page, "stuck-token"))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), loc)
	ticks, err := client.FetchTicks(context.Background(), "TSLA", date, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ticks) != 6 {
		t.Fatalf("expected 6 distinct ticks, got %d", len(ticks))
	}
	seen := map[int64]bool{}
	for _, tick := range ticks {
		ns := tick.Timestamp.UnixNano()
		if seen[ns] {
			t.Fatalf("duplicate tick at %d: stuck token replayed a page", ns)
		}
		seen[ns] = true
	}
	if requests > 10 {
		t.Errorf("pagination did not terminate promptly: %d requests", requests)
	}
}

func TestFetchTicksDropsCrossDateTicks(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	window := SessionWindow{
		Start: time.Date(2026, 3, 2, 9, 30, 0, 0, loc),
		End:   time.Date(2026, 3, 2, 9, 35, 0, 0, loc),
	}

	nextDay := time.Date(2026, 3, 3, 9, 31, 0, 0, loc)
	served := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served {
			w.Write(pageResponse(nil, ""))
			return
		}
		served = true
		w.Write(pageResponse([]rawTick{
			{T: window.Start.Add(30 * time.Second).UnixNano(), P: 100, S: 1},
			// contaminated entry from the next calendar day
			{T: nextDay.UnixNano(), P: 999, S: 1},
		}, ""))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), loc)
	ticks, err := client.FetchTicks(context.Background(), "AAPL", date, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick after date filtering, got %d", len(ticks))
	}
	if ticks[0].Price != 100 {
		t.Errorf("wrong tick survived filtering: %+v", ticks[0])
	}
}

func TestFetchTicksRetriesThenFails(t *testing.T) {
	loc := time.UTC
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	window := SessionWindow{
		Start: time.Date(2026, 3, 2, 9, 30, 0, 0, loc),
		End:   time.Date(2026, 3, 2, 9, 35, 0, 0, loc),
	}

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), loc)
	_, err := client.FetchTicks(context.Background(), "AAPL", date, window)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !IsProviderError(err) {
		t.Errorf("expected a provider error, got %T: %v", err, err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestFetchTicksRecoversFromTransientFailure(t *testing.T) {
	loc := time.UTC
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	window := SessionWindow{
		Start: time.Date(2026, 3, 2, 9, 30, 0, 0, loc),
		End:   time.Date(2026, 3, 2, 9, 35, 0, 0, loc),
	}

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		w.Write(pageResponse([]rawTick{
			{T: window.Start.Add(time.Second).UnixNano(), P: 100, S: 1},
		}, ""))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), loc)
	ticks, err := client.FetchTicks(context.Background(), "AAPL", date, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}
}

func TestResolveSessionWindow(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)

	tests := []struct {
		session Session
		start   string
		end     string
		wantErr bool
	}{
		{session: SessionRegular, start: "09:30", end: "16:00"},
		{session: "", start: "09:30", end: "16:00"},
		{session: SessionPre, start: "04:00", end: "09:30"},
		{session: SessionPost, start: "16:00", end: "20:00"},
		{session: Session("overnight"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.session), func(t *testing.T) {
			window, err := ResolveSessionWindow(date, tt.session, loc, "09:30", "16:00")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := window.Start.Format("15:04"); got != tt.start {
				t.Errorf("start: expected %s, got %s", tt.start, got)
			}
			if got := window.End.Format("15:04"); got != tt.end {
				t.Errorf("end: expected %s, got %s", tt.end, got)
			}
		})
	}
}

func TestSessionWindowMinutes(t *testing.T) {
	loc := time.UTC
	window := SessionWindow{
		Start: time.Date(2026, 3, 2, 9, 30, 0, 0, loc),
		End:   time.Date(2026, 3, 2, 9, 35, 0, 0, loc),
	}

	minutes := window.Minutes()
	if len(minutes) != 5 {
		t.Fatalf("expected 5 minutes, got %d", len(minutes))
	}
	for i, m := range minutes {
		want := window.Start.Add(time.Duration(i) * time.Minute)
		if !m.Equal(want) {
			t.Errorf("minute %d: expected %s, got %s", i, want, m)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("connection reset")
	err := NewProviderError("AAPL", "request failed", inner)

	if !IsProviderError(err) {
		t.Error("expected IsProviderError to match")
	}
	wrapped := fmt.Errorf("fetch: %w", err)
	if !IsProviderError(wrapped) {
		t.Error("expected IsProviderError to match through wrapping")
	}
}
