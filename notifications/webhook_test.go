package notifications

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"intraday-autotrader/config"
	models "intraday-autotrader/database/models_pkg"
)

func finishedRun(status string) *models.RunRecord {
	ended := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	return &models.RunRecord{
		ID:             "run-1",
		Tenant:         "acme",
		Symbol:         "AAPL",
		Date:           time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Session:        "regular",
		Status:         status,
		TradeCount:     3,
		FinalValue:     10250.50,
		FinalReturnPct: 2.505,
		StartedAt:      time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		EndedAt:        &ended,
	}
}

func TestNotifyRunFinished(t *testing.T) {
	received := make(chan RunPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing auth header, got %q", got)
		}
		var payload RunPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- payload
	}))
	defer server.Close()

	wm := NewWebhookManager(config.WebhookConfig{
		URLs:       []string{server.URL},
		AuthToken:  "secret",
		MaxRetries: 1,
	})

	wm.NotifyRunFinished(finishedRun(models.StatusCompleted))

	select {
	case payload := <-received:
		if payload.Event != "run_completed" {
			t.Errorf("expected event run_completed, got %s", payload.Event)
		}
		if payload.RunID != "run-1" || payload.Tenant != "acme" {
			t.Errorf("payload mismatch: %+v", payload)
		}
		if payload.Date != "2026-03-02" {
			t.Errorf("expected formatted date, got %s", payload.Date)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestNotifyRunFinishedEventNames(t *testing.T) {
	wm := NewWebhookManager(config.WebhookConfig{})

	tests := []struct {
		status string
		event  string
	}{
		{status: models.StatusCompleted, event: "run_completed"},
		{status: models.StatusHalted, event: "run_halted"},
		{status: models.StatusFailed, event: "run_failed"},
	}

	for _, tt := range tests {
		payload := wm.createPayload(finishedRun(tt.status))
		if payload.Event != tt.event {
			t.Errorf("status %s: expected event %s, got %s", tt.status, tt.event, payload.Event)
		}
	}
}

func TestDeliverRetriesOnFailure(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wm := NewWebhookManager(config.WebhookConfig{
		URLs:              []string{server.URL},
		MaxRetries:        3,
		RetryDelaySeconds: 0,
	})

	wm.deliver(server.URL, "run-1", []byte(`{"event":"run_completed"}`))

	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}
