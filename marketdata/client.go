package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"intraday-autotrader/config"
)

// Client fetches raw trade ticks from the market data provider.
//
// Pagination advances by the timestamp of the last received tick plus one
// nanosecond. The provider's next-page token is only used to detect whether
// more pages exist: for high-volume symbols the token has a known failure
// mode where it gets stuck and replays the same page, so it is never trusted
// as a cursor.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	cfg         config.ProviderConfig
	loc         *time.Location
	log         *logrus.Entry
}

// NewClient creates a new market data client
func NewClient(cfg config.ProviderConfig, loc *time.Location) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5000
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 500
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 100
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}

	// Connection pooling matters here: a single session fetch can be a few
	// hundred sequential page requests against the same host.
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 2),
		cfg:         cfg,
		loc:         loc,
		log:         logrus.WithField("component", "marketdata"),
	}
}

// tickPage is the provider's paginated response shape
type tickPage struct {
	Results []struct {
		Timestamp int64   `json:"t"` // unix nanoseconds
		Price     float64 `json:"p"`
		Size      int64   `json:"s"`
	} `json:"results"`
	NextToken string `json:"next_token"`
}

// FetchTicks retrieves every tick for the symbol strictly inside the session
// window on the given calendar date, in ascending time order. Ticks whose
// calendar date (exchange timezone) differs from the target are dropped
// regardless of what the provider returned; cross-date contamination has
// been observed around page boundaries.
func (c *Client) FetchTicks(ctx context.Context, symbol string, date time.Time, window SessionWindow) ([]Tick, error) {
	targetDate := date.In(c.loc).Format("2006-01-02")
	lower := window.Start.UnixNano()
	upper := window.End.UnixNano()

	var ticks []Tick
	for page := 0; page < c.cfg.MaxPages; page++ {
		result, err := c.fetchPage(ctx, symbol, lower, upper)
		if err != nil {
			return nil, err
		}

		if len(result.Results) == 0 {
			break
		}

		for _, raw := range result.Results {
			ts := time.Unix(0, raw.Timestamp).In(c.loc)
			if raw.Timestamp > upper {
				continue
			}
			if ts.Format("2006-01-02") != targetDate {
				continue
			}
			ticks = append(ticks, Tick{Timestamp: ts, Price: raw.Price, Size: raw.Size})
		}

		last := result.Results[len(result.Results)-1].Timestamp
		if last >= upper {
			break
		}
		if len(result.Results) < c.cfg.PageSize && result.NextToken == "" {
			break
		}

		// Timestamp-advance pagination: the next lower bound is derived from
		// the last tick we actually received, never from the token.
		lower = last + 1
	}

	c.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"date":   targetDate,
		"ticks":  len(ticks),
	}).Info("tick fetch complete")

	return ticks, nil
}

// fetchPage requests a single page with retry and exponential backoff
func (c *Client) fetchPage(ctx context.Context, symbol string, lower, upper int64) (*tickPage, error) {
	params := url.Values{
		"timestamp.gte": {strconv.FormatInt(lower, 10)},
		"timestamp.lte": {strconv.FormatInt(upper, 10)},
		"limit":         {strconv.Itoa(c.cfg.PageSize)},
		"order":         {"asc"},
	}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	requestURL := c.baseURL + "/v3/trades/" + url.PathEscape(symbol) + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(c.cfg.BackoffBaseMs*(1<<attempt)) * time.Millisecond
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, NewProviderError(symbol, "fetch cancelled", ctx.Err())
			case <-time.After(backoff + jitter):
			}
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, NewProviderError(symbol, "rate limit wait cancelled", err)
		}

		page, err := c.doRequest(ctx, symbol, requestURL)
		if err != nil {
			lastErr = err
			c.log.WithError(err).WithField("attempt", attempt+1).Warn("tick page fetch failed")
			continue
		}
		return page, nil
	}

	return nil, NewProviderError(symbol, fmt.Sprintf("retry budget exhausted after %d attempts", c.cfg.MaxRetries), lastErr)
}

func (c *Client) doRequest(ctx context.Context, symbol, requestURL string) (*tickPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, NewProviderError(symbol, "failed to create request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewProviderError(symbol, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Symbol: symbol}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), nil)
	}

	var page tickPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, NewProviderError(symbol, "failed to parse response", err)
	}
	return &page, nil
}
