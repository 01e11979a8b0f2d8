// Package fetcher talks to the external market-data provider. It never
// retries internally: a failed fetch returns a typed error and lets the
// queue's redelivery policy decide whether to try again (§4.2).
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sentinel-quant/nightly-compute/internal/domain"
	"github.com/sentinel-quant/nightly-compute/internal/errs"
)

// Client fetches daily OHLCV series for one symbol at a time. Rate limiting
// and the circuit breaker are shared across every call the worker pool
// makes, so one slow or failing provider can't starve the others.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	baseURL string
	log     zerolog.Logger
}

// Config tunes the provider client.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "market-data-provider",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: breaker,
		baseURL: cfg.BaseURL,
		log:     log.With().Str("component", "fetcher").Logger(),
	}
}

// providerObservation mirrors the provider's raw wire shape before
// sanitization. Its fields are plain float64: a payload carrying NaN or
// Infinity tokens, or a number out of float64 range, fails to decode as a
// whole, and doFetch returns a transport FetchError with no observations.
type providerObservation struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FetchDaily retrieves the daily OHLCV series for displaySymbol. It never
// retries: the caller's queue redelivery handles transient failures.
func (c *Client) FetchDaily(ctx context.Context, displaySymbol string, from, to time.Time) ([]domain.OHLCV, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.NewFetchError(displaySymbol, errs.KindTimeout, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doFetch(ctx, displaySymbol, from, to)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errs.NewFetchError(displaySymbol, errs.KindTransport, err)
		}
		if fe, ok := err.(*errs.FetchError); ok {
			return nil, fe
		}
		return nil, errs.NewFetchError(displaySymbol, errs.KindTransport, err)
	}

	return result.([]domain.OHLCV), nil
}

func (c *Client) doFetch(ctx context.Context, displaySymbol string, from, to time.Time) ([]domain.OHLCV, error) {
	q := url.Values{}
	q.Set("symbol", displaySymbol)
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/daily?"+q.Encode(), nil)
	if err != nil {
		return nil, errs.NewFetchError(displaySymbol, errs.KindTransport, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.NewFetchError(displaySymbol, errs.KindTimeout, err)
		}
		return nil, errs.NewFetchError(displaySymbol, errs.KindTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errs.NewFetchError(displaySymbol, errs.KindRateLimit, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.NewFetchError(displaySymbol, errs.KindTransport, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewFetchError(displaySymbol, errs.KindTransport, err)
	}

	var raw []providerObservation
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.NewFetchError(displaySymbol, errs.KindTransport, err)
	}
	if len(raw) == 0 {
		return nil, errs.NewFetchError(displaySymbol, errs.KindEmpty, fmt.Errorf("no observations for %s", displaySymbol))
	}

	out := make([]domain.OHLCV, 0, len(raw))
	for _, o := range raw {
		date, err := time.Parse("2006-01-02", o.Date)
		if err != nil {
			c.log.Warn().Str("symbol", displaySymbol).Str("date", o.Date).Msg("dropping observation with unparseable date")
			continue
		}
		out = append(out, domain.OHLCV{
			Date:   date,
			Open:   sanitize(o.Open),
			High:   sanitize(o.High),
			Low:    sanitize(o.Low),
			Close:  sanitize(o.Close),
			Volume: sanitize(o.Volume),
		})
	}
	return out, nil
}

// sanitize maps NaN and +/-Inf to the absent-value sentinel (nil) and every
// finite value to a pointer to itself. Values reaching it from doFetch have
// already decoded as JSON numbers; a non-finite token in the payload fails
// the decode before sanitize runs.
func sanitize(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
