package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// IsoCategory is one entry of the ISO 9999 classification.
type IsoCategory struct {
	Code  string `json:"isoCode"`
	Title string `json:"isoTitle"`
	Level int    `json:"isoLevel"`
}

// Page is one slice of a paged catalog listing.
type Page struct {
	Content []IsoCategory `json:"content"`
	Last    bool          `json:"last"`
}

type ClientConfig struct {
	// BaseURL is the catalog service root, e.g. http://catalog:8080.
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// HTTPClient reads reference data from the catalog service.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 5
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// FetchIsoCategories returns one page of the classification.
func (c *HTTPClient) FetchIsoCategories(ctx context.Context, page, size int) (*Page, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/isocategories?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch iso categories: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch iso categories: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode iso categories: %w", err)
	}
	return &p, nil
}
