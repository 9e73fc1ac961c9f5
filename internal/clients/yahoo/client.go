// Package yahoo provides a market data provider backed by the Yahoo Finance
// chart endpoint.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/models"
)

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
	DefaultParallel  = 4 // chart requests in flight per batch
	userAgent        = "Mozilla/5.0"
)

// Client implements interfaces.Provider for Yahoo Finance
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	parallel   int
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithParallel bounds the chart requests a batch keeps in flight. The rate
// limiter still gates every request.
func WithParallel(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.parallel = n
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new Yahoo Finance client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:   common.NewSilentLogger(),
		parallel: DefaultParallel,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the provider name
func (c *Client) Name() string { return "yahoo" }

// get performs a rate-limited GET request and returns the raw body
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug().Str("url", c.baseURL+path).Msg("Yahoo API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &models.APIError{
			Provider:   "Yahoo",
			StatusCode: resp.StatusCode,
			Message:    msg,
			Endpoint:   path,
		}
	}
	return body, nil
}

// rangeParams encodes the request as range/interval or period1/period2.
func (c *Client) rangeParams(req models.HistoryRequest) (url.Values, error) {
	params := url.Values{}
	interval := req.Interval
	if interval == "" {
		interval = "1d"
	}
	params.Set("interval", interval)
	if req.End.IsZero() {
		if _, _, _, err := models.ParsePeriod(req.Period); err != nil {
			return nil, err
		}
		params.Set("range", req.Period)
		return params, nil
	}
	from, to, err := req.Window(c.now())
	if err != nil {
		return nil, err
	}
	params.Set("period1", strconv.FormatInt(from.Unix(), 10))
	// period2 is exclusive upstream; extend to the end of the day
	params.Set("period2", strconv.FormatInt(to.AddDate(0, 0, 1).Unix(), 10))
	return params, nil
}

// FetchOne retrieves bars for a single instrument from the chart endpoint.
func (c *Client) FetchOne(ctx context.Context, ticker string, req models.HistoryRequest) (*models.BarSeries, error) {
	params, err := c.rangeParams(req)
	if err != nil {
		return nil, err
	}
	return c.chart(ctx, ticker, req.Interval, params)
}

func (c *Client) chart(ctx context.Context, ticker, interval string, params url.Values) (*models.BarSeries, error) {
	body, err := c.get(ctx, "/v8/finance/chart/"+url.PathEscape(ticker), params)
	if err != nil {
		return nil, err
	}
	return decodeChart(body, ticker, interval)
}

// FetchBatch requests the chart of every ticker, at most c.parallel at a
// time, and returns them as one MultiInstrumentTable. Yahoo's multi-symbol
// spark endpoint only carries closes, so it cannot serve OHLC bars.
// Per-instrument errors stay in the table. When nothing resolved and a
// failure was transient, that failure is returned so the batch is retried.
func (c *Client) FetchBatch(ctx context.Context, tickers []string, req models.HistoryRequest) (models.BatchResponse, error) {
	if len(tickers) == 0 {
		return models.EmptyBatch{}, nil
	}
	params, err := c.rangeParams(req)
	if err != nil {
		return nil, err
	}

	table := &models.MultiInstrumentTable{
		Series: make(map[string]*models.BarSeries, len(tickers)),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.parallel)

	for _, ticker := range tickers {
		wg.Add(1)
		sem <- struct{}{}
		go func(ticker string) {
			defer wg.Done()
			defer func() { <-sem }()

			s, err := c.chart(ctx, ticker, req.Interval, params)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				table.Errors[ticker] = err
				return
			}
			table.Series[ticker] = s
		}(ticker)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(table.Series) == 0 {
		for _, t := range tickers {
			if err := table.Errors[t]; err != nil && !definitive(err) {
				return nil, err
			}
		}
	}
	c.logger.Debug().Int("size", len(tickers)).Int("failed", len(table.Errors)).Msg("Yahoo batch fetched")
	return table, nil
}

// definitive reports whether err settles the instrument for this request:
// an unknown symbol or a payload without usable bars.
func definitive(err error) bool {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	return errors.Is(err, models.ErrNoUsableData) || errors.Is(err, models.ErrMalformedResponse)
}
