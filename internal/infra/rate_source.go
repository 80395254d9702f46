package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"offramp_go/internal/domain"

	"github.com/shopspring/decimal"
)

// rateResponse is the body returned by the rate endpoint.
type rateResponse struct {
	Rate      decimal.Decimal `json:"rate"`
	Timestamp int64           `json:"timestamp"` // unix millis
}

// HTTPRateSource fetches fiat-per-asset rates from a JSON endpoint.
type HTTPRateSource struct {
	apiURL     string
	httpClient *http.Client
	attempts   int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewHTTPRateSource creates a rate source for apiURL.
func NewHTTPRateSource(apiURL string) *HTTPRateSource {
	return &HTTPRateSource{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		attempts:   3,
		baseDelay:  time.Second,
		logger:     slog.Default().With(slog.String("module", "rate_source")),
	}
}

// WithBackoff overrides the retry policy. Used by tests to avoid real sleeps.
func (c *HTTPRateSource) WithBackoff(attempts int, baseDelay time.Duration) *HTTPRateSource {
	if attempts > 0 {
		c.attempts = attempts
	}
	c.baseDelay = baseDelay
	return c
}

// FetchRate fetches the current rate with retry logic.
func (c *HTTPRateSource) FetchRate(ctx context.Context, asset, fiat string) (domain.Rate, error) {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, ...
			delay := time.Duration(1<<uint(i-1)) * c.baseDelay
			c.logger.Info("Retrying rate fetch", slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return domain.Rate{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		rate, err := c.doFetch(ctx, asset, fiat)
		if err == nil {
			return rate, nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			break
		}
		c.logger.Warn("Rate fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return domain.Rate{}, lastErr
}

func (c *HTTPRateSource) doFetch(ctx context.Context, asset, fiat string) (domain.Rate, error) {
	q := url.Values{}
	q.Set("asset", asset)
	q.Set("fiat", fiat)
	sep := "?"
	if strings.Contains(c.apiURL, "?") {
		sep = "&"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+sep+q.Encode(), nil)
	if err != nil {
		return domain.Rate{}, domain.NewFatalNetworkError("fetch_rate", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Rate{}, domain.NewNetworkError("fetch_rate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return domain.Rate{}, domain.NewNetworkError("fetch_rate", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Rate{}, domain.NewFatalNetworkError("fetch_rate", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Rate{}, domain.NewNetworkError("fetch_rate", err)
	}

	var data rateResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.Rate{}, domain.NewFatalNetworkError("fetch_rate", fmt.Errorf("malformed response: %w", err))
	}
	if !data.Rate.IsPositive() {
		return domain.Rate{}, domain.NewFatalNetworkError("fetch_rate", fmt.Errorf("non-positive rate %s", data.Rate))
	}

	ts := time.Now().UTC()
	if data.Timestamp > 0 {
		ts = time.UnixMilli(data.Timestamp).UTC()
	}
	return domain.Rate{Asset: asset, Fiat: fiat, Value: data.Rate, Timestamp: ts}, nil
}

// StaticRateSource serves fixed rates keyed by asset code.
type StaticRateSource struct {
	rates map[string]decimal.Decimal
}

// NewStaticRateSource creates a source over rates. Keys are matched case-insensitively.
func NewStaticRateSource(rates map[string]decimal.Decimal) *StaticRateSource {
	m := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		m[strings.ToUpper(k)] = v
	}
	return &StaticRateSource{rates: m}
}

func (s *StaticRateSource) FetchRate(_ context.Context, asset, fiat string) (domain.Rate, error) {
	v, ok := s.rates[strings.ToUpper(asset)]
	if !ok {
		return domain.Rate{}, domain.NewFatalNetworkError("fetch_rate", fmt.Errorf("no static rate for %s", asset))
	}
	// Configured rates have no observation time.
	return domain.Rate{Asset: asset, Fiat: fiat, Value: v}, nil
}
