// Package feed talks to the payment processor's REST API.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

const (
	DefaultBaseURL = "https://api.mollie.com/v2"
	DefaultTimeout = 20 * time.Second
)

// ErrNotFound is the soft result of a 404 on a single-record lookup.
var ErrNotFound = models.ErrNotFound

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Breaker trips after this many consecutive server-side failures.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is an authenticated client scoped to one processor account.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "feed",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var terr *models.TransportError
			if errors.As(err, &terr) && terr.StatusCode != 0 && terr.StatusCode < 500 {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("feed circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		breaker: breaker,
		logger:  logger,
	}
}

// resolve accepts both absolute next links and API-relative paths.
func (c *Client) resolve(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return c.baseURL + "/" + strings.TrimLeft(href, "/")
}

// get performs an authenticated GET and decodes the JSON body into out.
// A 404 is reported as ErrNotFound wrapped in a TransportError.
func (c *Client) get(ctx context.Context, href string, out any) error {
	url := c.resolve(href)
	c.logger.Debug("feed call", zap.String("url", url))

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, url, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &models.TransportError{Op: "GET", URL: url, Err: err}
	}
	if err != nil {
		c.logger.Error("feed call failed", zap.String("url", url), zap.Error(err))
	}
	return err
}

func (c *Client) do(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &models.TransportError{Op: "GET", URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return &models.TransportError{Op: "GET", URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &models.TransportError{Op: "GET", URL: url, StatusCode: resp.StatusCode, Err: ErrNotFound}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &models.TransportError{
			Op:         "GET",
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", http.StatusText(resp.StatusCode), strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.ValidationError{Record: url, Reason: "decode response: " + err.Error()}
	}
	return nil
}
