package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"intraday-autotrader/database/rules"
	"intraday-autotrader/database/runs"
	"intraday-autotrader/database/trades"
	"intraday-autotrader/realtime"
	"intraday-autotrader/run"
)

// RunLauncher starts and cancels runs. Implemented by the application
// composition root, which owns the lifecycle of run controllers.
type RunLauncher interface {
	StartRun(params run.Params) (string, error)
	CancelRun(runID string) bool
}

// Server handles HTTP API requests
type Server struct {
	runs     *runs.Repository
	trades   *trades.Repository
	rules    *rules.Repository
	broker   *realtime.Broker
	launcher RunLauncher
}

// NewServer creates a new API server instance
func NewServer(runsRepo *runs.Repository, tradesRepo *trades.Repository,
	rulesRepo *rules.Repository, broker *realtime.Broker, launcher RunLauncher) *Server {
	return &Server{
		runs:     runsRepo,
		trades:   tradesRepo,
		rules:    rulesRepo,
		broker:   broker,
		launcher: launcher,
	}
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	// Register routes
	mux.Handle("GET /api/events", s.broker) // live run event stream
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/trades", s.handleGetRunTrades)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancelRun)

	// Tenant rule management
	mux.HandleFunc("GET /api/rules", s.handleGetRules)
	mux.HandleFunc("POST /api/rules", s.handleSaveRule)

	mux.HandleFunc("GET /health", s.handleHealth)

	// Add middleware
	handler := s.corsMiddleware(s.loggingMiddleware(mux))

	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	logrus.Infof("API server starting on %s", serverAddr)
	return http.ListenAndServe(serverAddr, handler)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.Debugf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
