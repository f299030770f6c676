package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"intraday-autotrader/config"
	models "intraday-autotrader/database/models_pkg"
)

// WebhookManager delivers run lifecycle notifications to configured
// endpoints. Delivery is fire-and-forget from the caller's point of view:
// a run never waits on, or fails because of, a webhook.
type WebhookManager struct {
	cfg    config.WebhookConfig
	client *http.Client
	log    *logrus.Entry
}

// RunPayload is the JSON body sent when a run finishes
type RunPayload struct {
	Event          string     `json:"event"` // run_completed, run_halted, run_failed
	RunID          string     `json:"run_id"`
	Tenant         string     `json:"tenant"`
	Symbol         string     `json:"symbol"`
	Date           string     `json:"date"`
	Session        string     `json:"session"`
	Status         string     `json:"status"`
	FailureCause   string     `json:"failure_cause,omitempty"`
	Cancelled      bool       `json:"cancelled,omitempty"`
	TradeCount     int        `json:"trade_count"`
	FinalValue     float64    `json:"final_value"`
	FinalReturnPct float64    `json:"final_return_pct"`
	MaxDrawdownPct float64    `json:"max_drawdown_pct"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Message        string     `json:"message"`
}

// NewWebhookManager creates a new webhook manager
func NewWebhookManager(cfg config.WebhookConfig) *WebhookManager {
	return &WebhookManager{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logrus.WithField("component", "webhooks"),
	}
}

// NotifyRunFinished sends the final run record to every configured endpoint
func (wm *WebhookManager) NotifyRunFinished(run *models.RunRecord) {
	if len(wm.cfg.URLs) == 0 {
		return
	}

	payload := wm.createPayload(run)
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		wm.log.WithError(err).Warn("failed to marshal webhook payload")
		return
	}

	for _, url := range wm.cfg.URLs {
		go wm.deliver(url, run.ID, payloadBytes)
	}
}

func (wm *WebhookManager) createPayload(run *models.RunRecord) RunPayload {
	event := "run_completed"
	switch run.Status {
	case models.StatusHalted:
		event = "run_halted"
	case models.StatusFailed:
		event = "run_failed"
	}

	message := fmt.Sprintf("Run %s %s %s/%s: %d trades, final value %.2f (%+.2f%%), max drawdown %.2f%%",
		run.ID, run.Status, run.Symbol, run.Date.Format("2006-01-02"),
		run.TradeCount, run.FinalValue, run.FinalReturnPct, run.MaxDrawdownPct)
	if run.FailureCause != "" {
		message += " | " + run.FailureCause
	}
	if run.Cancelled {
		message += " | cancelled before session end"
	}

	return RunPayload{
		Event:          event,
		RunID:          run.ID,
		Tenant:         run.Tenant,
		Symbol:         run.Symbol,
		Date:           run.Date.Format("2006-01-02"),
		Session:        run.Session,
		Status:         run.Status,
		FailureCause:   run.FailureCause,
		Cancelled:      run.Cancelled,
		TradeCount:     run.TradeCount,
		FinalValue:     run.FinalValue,
		FinalReturnPct: run.FinalReturnPct,
		MaxDrawdownPct: run.MaxDrawdownPct,
		StartedAt:      run.StartedAt,
		EndedAt:        run.EndedAt,
		Message:        message,
	}
}

func (wm *WebhookManager) deliver(url, runID string, payload []byte) {
	maxRetries := wm.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			wm.log.WithError(err).WithField("url", url).Warn("failed to build webhook request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Intraday-Autotrader/1.0")
		if wm.cfg.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+wm.cfg.AuthToken)
		}

		resp, err := wm.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			wm.log.WithFields(logrus.Fields{
				"run_id": runID,
				"url":    url,
			}).Debug("webhook delivered")
			return
		}
		if resp != nil {
			resp.Body.Close()
		}

		if attempt < maxRetries {
			time.Sleep(time.Duration(wm.cfg.RetryDelaySeconds) * time.Second)
		}
	}

	wm.log.WithFields(logrus.Fields{
		"run_id": runID,
		"url":    url,
	}).Warn("webhook delivery failed after retries")
}
