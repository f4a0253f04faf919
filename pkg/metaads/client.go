// Package metaads is a Meta Marketing (Graph) API client that fetches every
// page of an edge with retry, backoff and a fixed inter-page delay.
package metaads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/metasync/pkg/config"
	jsonpool "github.com/ajitpratap0/metasync/pkg/json"
	"github.com/ajitpratap0/metasync/pkg/logger"
	"github.com/ajitpratap0/metasync/pkg/metrics"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/retry"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 4 << 10

var errCancelled = errors.New("request cancelled")

// Client talks to the Graph API on behalf of one access token.
type Client struct {
	httpClient       *http.Client
	graphURL         string
	token            string
	pageSize         int
	interPageDelay   time.Duration
	emptyPageRetries int
	policy           *retry.Policy
	breaker          *gobreaker.CircuitBreaker[interface{}]
	logger           *zap.Logger

	userID   string
	userName string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is
// wrapped with the token source.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient = &http.Client{
			Timeout:   hc.Timeout,
			Transport: &oauth2.Transport{Source: staticToken(c.token), Base: base},
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for token using the meta section of the
// configuration and the given retry policy.
func NewClient(token string, cfg config.MetaConfig, policy *retry.Policy, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, syncerrors.New(syncerrors.ErrorTypeConfig, "meta access token is required")
	}
	if policy == nil {
		policy = retry.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	c := &Client{
		graphURL:         strings.TrimRight(cfg.GraphURL(), "/"),
		token:            token,
		pageSize:         pageSize,
		interPageDelay:   cfg.InterPageDelay,
		emptyPageRetries: cfg.EmptyPageRetries,
		policy:           policy,
		logger:           logger.Get(),
	}
	c.httpClient = &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: &oauth2.Transport{Source: staticToken(token), Base: http.DefaultTransport},
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "metaads"))
	c.breaker = newBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout, c.logger)

	return c, nil
}

func staticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// page is one Graph API list response.
type page struct {
	Data   []models.RawRecord `json:"data"`
	Paging struct {
		Cursors struct {
			Before string `json:"before"`
			After  string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

// statusError is a non-2xx response.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// Fetch returns every record of endpoint (a path below the versioned Graph
// root, e.g. "act_123/campaigns") in page order. fields are sent as the
// comma-separated field selection and params are added to the first
// request; later pages follow the API's next URL verbatim.
//
// A failing request is retried with exponential backoff; once the policy is
// exhausted Fetch fails with an extraction error naming the endpoint and
// the last response. A page that comes back empty while a next cursor is
// present is re-requested up to the configured number of times and is then
// accepted as the end of the data.
func (c *Client) Fetch(ctx context.Context, endpoint string, fields []string, params url.Values) ([]models.RawRecord, error) {
	endpoint = strings.Trim(endpoint, "/")
	log := logger.FromContext(ctx, c.logger).With(zap.String("endpoint", endpoint))

	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("access_token", c.token)

	var limiter *rate.Limiter
	if c.interPageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(c.interPageDelay), 1)
	}

	var (
		records []models.RawRecord
		pages   int
		next    = c.graphURL + "/" + endpoint + "?" + q.Encode()
	)
	for next != "" {
		p, err := c.fetchPage(ctx, limiter, endpoint, next)
		if err != nil {
			return nil, err
		}

		for attempt := 0; len(p.Data) == 0 && p.Paging.Next != "" && attempt < c.emptyPageRetries; attempt++ {
			log.Warn("empty page with next cursor, retrying",
				zap.Int("page", pages+1),
				zap.Int("attempt", attempt+1))
			if err := retry.Sleep(ctx, c.policy.Delay(attempt)); err != nil {
				return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeTimeout, "fetch cancelled").
					WithDetail("endpoint", endpoint)
			}
			if p, err = c.fetchPage(ctx, limiter, endpoint, next); err != nil {
				return nil, err
			}
		}

		pages++
		if len(p.Data) == 0 && p.Paging.Next != "" {
			log.Warn("page still empty after retries, treating as end of data", zap.Int("page", pages))
			break
		}

		records = append(records, p.Data...)
		next = p.Paging.Next
	}

	log.Debug("fetch complete", zap.Int("pages", pages), zap.Int("records", len(records)))
	return records, nil
}

func (c *Client) fetchPage(ctx context.Context, limiter *rate.Limiter, endpoint, pageURL string) (*page, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeTimeout, "fetch cancelled").
				WithDetail("endpoint", endpoint)
		}
	}

	p := &page{}
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		*p = page{}
		return c.get(ctx, endpoint, pageURL, p)
	}, func(a retry.Attempt) {
		metrics.APIRetries.WithLabelValues(endpointLabel(endpoint)).Inc()
		c.logger.Warn("request failed, backing off",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", a.Number),
			zap.Duration("delay", a.Delay),
			zap.Error(a.Err))
	})
	if err != nil {
		return nil, c.fetchError(ctx, endpoint, err)
	}
	return p, nil
}

func (c *Client) fetchError(ctx context.Context, endpoint string, err error) error {
	if ctx.Err() != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeTimeout, "fetch cancelled").
			WithDetail("endpoint", endpoint)
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return syncerrors.Wrap(exhausted.Last, syncerrors.ErrorTypeExtraction,
			fmt.Sprintf("request to %s failed after %d attempts", endpoint, exhausted.Attempts)).
			WithDetail("endpoint", endpoint).
			WithDetail("attempts", exhausted.Attempts)
	}
	return syncerrors.Wrap(err, syncerrors.ErrorTypeExtraction, fmt.Sprintf("request to %s failed", endpoint)).
		WithDetail("endpoint", endpoint)
}

// get performs one GET through the circuit breaker and decodes a 2xx body
// into v.
func (c *Client) get(ctx context.Context, endpoint, rawURL string, v interface{}) error {
	timer := metrics.NewTimer()
	label := endpointLabel(endpoint)

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, rawURL, v)
	})

	metrics.APIRequestDuration.WithLabelValues(label).Observe(timer.Seconds())
	metrics.APIRequests.WithLabelValues(label, statusLabel(err)).Inc()

	if errors.Is(err, errCancelled) {
		return retry.Permanent(err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, rawURL string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeInternal, "failed to create HTTP request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "metasync/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", errCancelled, ctx.Err())
		}
		return syncerrors.Wrap(redact(err, c.token), syncerrors.ErrorTypeConnection, "HTTP request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		errType := syncerrors.ErrorTypeConnection
		if resp.StatusCode == http.StatusTooManyRequests {
			errType = syncerrors.ErrorTypeRateLimit
		}
		return syncerrors.Wrap(&statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))},
			errType, "unexpected response").WithDetail("status", resp.StatusCode)
	}

	if err := jsonpool.Decode(resp.Body, v); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "failed to decode API response")
	}
	return nil
}

// redact strips the access token from transport errors, which embed the URL.
func redact(err error, token string) error {
	msg := err.Error()
	if token == "" || !strings.Contains(msg, token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, token, "REDACTED"))
}

func statusLabel(err error) string {
	if err == nil {
		return "200"
	}
	var se *statusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.StatusCode)
	}
	if isBreakerRejection(err) {
		return "rejected"
	}
	return "error"
}

// endpointLabel reduces an endpoint path to its edge so metric labels stay
// bounded across accounts.
func endpointLabel(endpoint string) string {
	if i := strings.LastIndex(endpoint, "/"); i >= 0 {
		return endpoint[i+1:]
	}
	return endpoint
}
