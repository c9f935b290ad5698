// Package names is the client of the name resolution service, which maps a wallet address to a registered
// display name. Lookups are informational: callers must not let a failure affect the connection.
package names

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tarancss/walletlink/lib/metrics"
)

// Errors returned by LookupNameByAddress.
var (
	ErrNotConfigured = errors.New("name service not configured")
	ErrLookupFailed  = errors.New("name lookup failed")
)

// Result is the name service response body.
type Result struct {
	Success bool   `json:"success"`
	Name    string `json:"name,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client calls the name service at most rps times per second.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	enabled bool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns a client for the service at base (ie. https://host/api). An empty base returns a client whose lookups
// fail with ErrNotConfigured.
func New(base string, rps float64, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	if m == nil {
		m = metrics.New()
	}

	if rps <= 0 {
		rps = 1
	}

	return &Client{
		http:    resty.New().SetBaseURL(base).SetTimeout(timeout),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		enabled: base != "",
		logger:  logger.Named("names"),
		metrics: m,
	}
}

// LookupNameByAddress returns the name registered for addr, or "" if there is none.
func (c *Client) LookupNameByAddress(ctx context.Context, addr string) (string, error) {
	if !c.enabled {
		return "", ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookupFailed, err) //nolint:errorlint // limiter error is context only
	}

	var res Result

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&res).
		SetError(&res).
		Get("/address/" + url.PathEscape(addr))
	if err != nil {
		c.metrics.NameLookups.WithLabelValues("error").Inc()

		return "", fmt.Errorf("%w: %v", ErrLookupFailed, err) //nolint:errorlint // transport error is context only
	}

	if resp.IsError() {
		c.metrics.NameLookups.WithLabelValues(strconv.Itoa(resp.StatusCode())).Inc()

		return "", fmt.Errorf("%w: status %d: %s", ErrLookupFailed, resp.StatusCode(), res.Error)
	}

	if !res.Success {
		c.metrics.NameLookups.WithLabelValues("unknown").Inc()
		c.logger.Debug("no name", zap.String("address", addr), zap.String("reason", res.Error))

		return "", nil
	}

	c.metrics.NameLookups.WithLabelValues("ok").Inc()

	return res.Name, nil
}
