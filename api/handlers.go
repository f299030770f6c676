package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	models "intraday-autotrader/database/models_pkg"
	"intraday-autotrader/marketdata"
	"intraday-autotrader/rules"
	"intraday-autotrader/run"
)

// StartRunRequest is the body of POST /api/runs
type StartRunRequest struct {
	Tenant  string `json:"tenant"`
	Symbol  string `json:"symbol"`
	Date    string `json:"date"`    // YYYY-MM-DD
	Session string `json:"session"` // regular, pre, post; defaults to regular
}

// handleStartRun launches a new run and returns its id immediately. The run
// itself executes in the background; progress is observable on /api/events
// and the final record on /api/runs/{id}.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		writeError(w, http.StatusServiceUnavailable, "run launcher not configured")
		return
	}

	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Tenant == "" || req.Symbol == "" || req.Date == "" {
		writeError(w, http.StatusBadRequest, "tenant, symbol and date are required")
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	session := marketdata.Session(req.Session)
	if req.Session == "" {
		session = marketdata.SessionRegular
	}

	runID, err := s.launcher.StartRun(run.Params{
		Tenant:  req.Tenant,
		Symbol:  req.Symbol,
		Date:    date,
		Session: session,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	records, err := s.runs.GetRunsByTenant(tenant, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load runs")
		return
	}
	if records == nil {
		records = []models.RunRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	record, err := s.runs.GetRun(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetRunTrades(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	records, err := s.trades.GetTradesByRun(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	if records == nil {
		records = []models.TradeRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		writeError(w, http.StatusServiceUnavailable, "run launcher not configured")
		return
	}

	runID := r.PathValue("id")
	if !s.launcher.CancelRun(runID) {
		writeError(w, http.StatusNotFound, "no active run with that id")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}

	records, err := s.rules.GetActiveRules(tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rules")
		return
	}
	if records == nil {
		records = []models.RuleRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSaveRule(w http.ResponseWriter, r *http.Request) {
	var record models.RuleRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if record.Tenant == "" || record.Category == "" {
		writeError(w, http.StatusBadRequest, "tenant and category are required")
		return
	}

	// A rule that cannot be decoded would fail every subsequent run for this
	// tenant at load time, so reject it here instead of persisting it.
	if _, err := rules.Decode(record); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	if err := s.rules.SaveRule(&record); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
