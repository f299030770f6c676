package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"intraday-autotrader/bars"
)

// BarCache holds minute bars between the ingestion and decision phases of a
// run. Keys are scoped by run identifier so concurrent runs for different
// tenants trading the same symbol and date never collide.
//
// Key format: {namespace}:{run-id}:{date}:{symbol}:{HH:MM}, wall-clock
// minute in the exchange timezone.
type BarCache struct {
	store     Store
	namespace string
	ttl       time.Duration
	loc       *time.Location
}

// NewBarCache creates a bar cache on top of a Store
func NewBarCache(store Store, namespace string, ttl time.Duration, loc *time.Location) *BarCache {
	if namespace == "" {
		namespace = "bars"
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &BarCache{store: store, namespace: namespace, ttl: ttl, loc: loc}
}

// Key builds the cache key for one minute bar
func (c *BarCache) Key(runID, symbol string, minute time.Time) string {
	local := minute.In(c.loc)
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		c.namespace, runID, local.Format("2006-01-02"), symbol, local.Format("15:04"))
}

// Put stores one bar for the run
func (c *BarCache) Put(ctx context.Context, runID string, bar bars.Bar) error {
	if err := c.store.Set(ctx, c.Key(runID, bar.Symbol, bar.Minute), bar, c.ttl); err != nil {
		return fmt.Errorf("BarCache.Put: %w", err)
	}
	return nil
}

// PutAll stores a full aggregation result
func (c *BarCache) PutAll(ctx context.Context, runID string, all []bars.Bar) error {
	for _, bar := range all {
		if err := c.Put(ctx, runID, bar); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves the bar for a minute. The second return value is false when
// no bar exists for that minute, which is not an error.
func (c *BarCache) Get(ctx context.Context, runID, symbol string, minute time.Time) (*bars.Bar, bool, error) {
	var bar bars.Bar
	err := c.store.Get(ctx, c.Key(runID, symbol, minute), &bar)
	if err == ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("BarCache.Get: %w", err)
	}
	return &bar, true, nil
}

// HealthCheck samples the given minutes and returns the fraction that are
// present in the cache. The run controller reloads the full dataset through
// the fetcher and aggregator when completeness falls below its threshold,
// rather than trading on a degraded dataset.
//
// Sample minutes should be the minutes that actually produced bars; sparse
// minutes with no trades would otherwise drag the ratio down for thin
// symbols.
func (c *BarCache) HealthCheck(ctx context.Context, runID, symbol string, sampleMinutes []time.Time) float64 {
	if len(sampleMinutes) == 0 {
		return 0
	}

	present := 0
	for _, minute := range sampleMinutes {
		if c.store.Exists(ctx, c.Key(runID, symbol, minute)) {
			present++
		}
	}

	ratio := float64(present) / float64(len(sampleMinutes))
	logrus.WithFields(logrus.Fields{
		"run_id":   runID,
		"symbol":   symbol,
		"sampled":  len(sampleMinutes),
		"present":  present,
		"complete": ratio,
	}).Debug("bar cache health check")

	return ratio
}

// SampleMinutes picks n evenly spaced minutes from the candidates
func SampleMinutes(candidates []time.Time, n int) []time.Time {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	if len(candidates) <= n {
		return candidates
	}
	if n == 1 {
		return candidates[len(candidates)/2 : len(candidates)/2+1]
	}

	sampled := make([]time.Time, 0, n)
	step := float64(len(candidates)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		sampled = append(sampled, candidates[int(float64(i)*step+0.5)])
	}
	return sampled
}
