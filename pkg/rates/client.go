package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ferramas/ferramas-backend/pkg/config"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL           = "https://api.exchangerate-api.com/v4"
	errorBodyLimit     int64 = 1024
	defaultCacheTTL          = 10 * time.Minute
	defaultHTTPTimeout       = 5 * time.Second
)

// Client looks up exchange rates and keeps the last answer per base currency for a while.
type Client struct {
	httpClient *http.Client
	baseURL    string
	ttl        time.Duration
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cachedRates
}

type cachedRates struct {
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg config.RatesConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		ttl:        ttl,
		now:        time.Now,
		cache:      map[string]cachedRates{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

type latestResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Rate returns how many units of quote one unit of base buys.
func (c *Client) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	if c == nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency, "exchange rate client not configured")
	}
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "base and quote currencies are required")
	}

	rates, err := c.latest(ctx, base)
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := rates[quote]
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("no %s rate for %s", quote, base))
	}
	return rate, nil
}

func (c *Client) latest(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	entry, ok := c.cache[base]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.rates, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/latest/"+base, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build exchange rate request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute exchange rate request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("exchange rate api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode exchange rate response")
	}
	if len(payload.Rates) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "exchange rate response had no rates")
	}

	c.mu.Lock()
	c.cache[base] = cachedRates{rates: payload.Rates, fetchedAt: c.now()}
	c.mu.Unlock()
	return payload.Rates, nil
}
