// Package app wires the simulator together: configuration, storage, cache,
// oracle, event broker, API server, and the lifecycle of concurrent runs.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"intraday-autotrader/api"
	"intraday-autotrader/cache"
	"intraday-autotrader/config"
	"intraday-autotrader/database"
	rulesrepo "intraday-autotrader/database/rules"
	runsrepo "intraday-autotrader/database/runs"
	tradesrepo "intraday-autotrader/database/trades"
	"intraday-autotrader/marketdata"
	"intraday-autotrader/notifications"
	"intraday-autotrader/oracle"
	"intraday-autotrader/realtime"
	"intraday-autotrader/run"
)

// App represents the main application
type App struct {
	config *config.Config
	loc    *time.Location

	db         *database.Database
	redis      *cache.RedisClient
	tradesRepo *tradesrepo.Repository
	runsRepo   *runsrepo.Repository
	rulesRepo  *rulesrepo.Repository

	barCache *cache.BarCache
	ticks    *marketdata.Client
	advisor  *oracle.Advisor
	broker   *realtime.Broker
	webhooks *notifications.WebhookManager

	// Active run controllers by run id. Runs execute concurrently and are
	// fully independent; the map only exists for cancellation and shutdown.
	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new application instance
func New(cfg *config.Config) (*App, error) {
	loc, err := time.LoadLocation(cfg.Trading.ExchangeTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange timezone %q: %w", cfg.Trading.ExchangeTimezone, err)
	}

	return &App{
		config: cfg,
		loc:    loc,
		active: make(map[string]context.CancelFunc),
	}, nil
}

// Start starts the application and blocks until shutdown
func (a *App) Start() error {
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Database connection
	logrus.Info("connecting to database")
	dbPort, err := strconv.Atoi(a.config.DatabasePort)
	if err != nil {
		return fmt.Errorf("invalid database port: %w", err)
	}

	db, err := database.Connect(
		a.config.DatabaseHost,
		dbPort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	if err := a.db.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	a.tradesRepo = tradesrepo.NewRepository(a.db.DB())
	a.runsRepo = runsrepo.NewRepository(a.db.DB())
	a.rulesRepo = rulesrepo.NewRepository(a.db.DB())

	// 2. Redis connection; an in-memory store keeps runs working when Redis
	// is down, at the cost of losing cross-restart bar reuse.
	logrus.Info("connecting to Redis")
	var store cache.Store
	if redisClient := cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword); redisClient != nil {
		a.redis = redisClient
		store = redisClient
	} else {
		logrus.Warn("Redis unavailable, using in-memory bar cache")
		store = cache.NewMemoryStore()
	}
	a.barCache = cache.NewBarCache(store, a.config.Trading.CacheNamespace, a.config.CacheTTL(), a.loc)

	// 3. Market data and oracle clients
	a.ticks = marketdata.NewClient(a.config.Provider, a.loc)
	a.advisor = oracle.NewAdvisor(oracle.NewClient(
		a.config.Oracle.Endpoint,
		a.config.Oracle.APIKey,
		a.config.Oracle.Model,
	))

	// 4. Event broker and webhooks
	a.broker = realtime.NewBroker()
	go a.broker.Run()
	a.webhooks = notifications.NewWebhookManager(a.config.Webhooks)

	// 5. API server
	apiServer := api.NewServer(a.runsRepo, a.tradesRepo, a.rulesRepo, a.broker, a)
	go func() {
		if err := apiServer.Start(a.config.APIPort); err != nil {
			logrus.WithError(err).Error("API server failed")
		}
	}()

	logrus.WithField("port", a.config.APIPort).Info("application started")

	return a.gracefulShutdown(cancel)
}

// StartRun launches a run in the background and returns its id
func (a *App) StartRun(params run.Params) (string, error) {
	if params.Tenant == "" || params.Symbol == "" || params.Date.IsZero() {
		return "", fmt.Errorf("tenant, symbol and date are required")
	}

	controller := run.NewController(a.config, a.ticks, a.barCache, a.advisor,
		a.tradesRepo, a.runsRepo, a.rulesRepo, a.broker, a.loc)

	runCtx, cancel := context.WithCancel(context.Background())
	runID := controller.RunID()

	a.mu.Lock()
	a.active[runID] = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			delete(a.active, runID)
			a.mu.Unlock()
			cancel()
		}()

		record, err := controller.Execute(runCtx, params)
		if err != nil {
			logrus.WithError(err).WithField("run_id", runID).Error("run failed before trading")
		}
		if record != nil {
			a.webhooks.NotifyRunFinished(record)
		}
	}()

	return runID, nil
}

// CancelRun requests cancellation of an active run. The run stops at the
// next minute boundary and finalizes normally.
func (a *App) CancelRun(runID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	cancel, ok := a.active[runID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// gracefulShutdown waits for an interrupt, cancels active runs, and waits
// for them to finalize.
func (a *App) gracefulShutdown(cancel context.CancelFunc) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	logrus.Info("shutdown signal received, cancelling active runs")
	cancel()

	a.mu.Lock()
	for _, cancelRun := range a.active {
		cancelRun()
	}
	a.mu.Unlock()

	// Active runs stop at their next minute boundary and finalize their
	// records before the process exits.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("all runs finalized")
	case <-time.After(30 * time.Second):
		logrus.Warn("shutdown timeout reached with runs still active")
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logrus.WithError(err).Warn("database close failed")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logrus.WithError(err).Warn("redis close failed")
		}
	}

	return nil
}
