// Package nylas is a minimal client for the Nylas v3 email and calendar
// API. Responses arrive in the standard {request_id, data, next_cursor}
// envelope; errors are mapped onto the resilience taxonomy so callers can
// classify without inspecting status codes.
package nylas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/inbox-sync/internal/resilience"
)

const defaultBaseURL = "https://api.us.nylas.com"

// Client is the Nylas API surface the sync pipeline uses.
type Client interface {
	// ListThreads returns one page of threads for a grant, oldest first.
	ListThreads(ctx context.Context, grantID string, q ThreadQuery) (*ThreadPage, error)
	// ListMessages returns every message in one thread.
	ListMessages(ctx context.Context, grantID, threadID string) ([]Message, error)
	// GetEvent fetches a single calendar event.
	GetEvent(ctx context.Context, grantID, calendarID, eventID string) (*Event, error)
}

// ThreadQuery narrows ListThreads.
type ThreadQuery struct {
	// LatestMessageAfter bounds the page to threads with activity after
	// this instant.
	LatestMessageAfter time.Time
	Limit              int
	PageToken          string
}

// ThreadPage is one page of the thread listing.
type ThreadPage struct {
	RequestID  string
	Threads    []Thread
	NextCursor string
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		}
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithBreaker routes every request through a shared circuit breaker. An
// open circuit rejects calls with resilience.ErrCircuitOpen, which the
// retry planner schedules on the infra backoff.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewClient creates a Nylas API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ListThreads(ctx context.Context, grantID string, q ThreadQuery) (*ThreadPage, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.LatestMessageAfter.IsZero() {
		params.Set("latest_message_after", strconv.FormatInt(q.LatestMessageAfter.Unix(), 10))
	}
	if q.PageToken != "" {
		params.Set("page_token", q.PageToken)
	}

	var resp threadsResponse
	path := fmt.Sprintf("/v3/grants/%s/threads", url.PathEscape(grantID))
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	return &ThreadPage{
		RequestID:  resp.RequestID,
		Threads:    resp.Data,
		NextCursor: resp.NextCursor,
	}, nil
}

func (c *httpClient) ListMessages(ctx context.Context, grantID, threadID string) ([]Message, error) {
	var all []Message
	params := url.Values{}
	params.Set("thread_id", threadID)
	params.Set("limit", "50")

	path := fmt.Sprintf("/v3/grants/%s/messages", url.PathEscape(grantID))
	for {
		var resp messagesResponse
		if err := c.get(ctx, path, params, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		if resp.NextCursor == "" {
			return all, nil
		}
		params.Set("page_token", resp.NextCursor)
	}
}

func (c *httpClient) GetEvent(ctx context.Context, grantID, calendarID, eventID string) (*Event, error) {
	params := url.Values{}
	params.Set("calendar_id", calendarID)

	var resp eventResponse
	path := fmt.Sprintf("/v3/grants/%s/events/%s", url.PathEscape(grantID), url.PathEscape(eventID))
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, target any) error {
	if c.breaker != nil {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doGet(ctx, path, params, target)
		})
	}
	return c.doGet(ctx, path, params, target)
}

func (c *httpClient) doGet(ctx context.Context, path string, params url.Values, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "nylas: rate limit wait")
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrap(err, "nylas: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "nylas: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "nylas: read response")
	}

	if err := classifyStatus(resp, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, target); err != nil {
		return eris.Wrap(err, "nylas: unmarshal response")
	}
	return nil
}

// classifyStatus maps provider status codes to resilience error types.
func classifyStatus(resp *http.Response, body []byte) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return resilience.NewAuthError(
			eris.Errorf("nylas: status %d: %s", code, truncate(body)), code)
	case code == http.StatusTooManyRequests:
		return resilience.NewRateLimitError(
			eris.Errorf("nylas: status %d: %s", code, truncate(body)),
			retryAfter(resp))
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return resilience.NewValidationError(
			eris.Errorf("nylas: status %d: %s", code, truncate(body)))
	case code >= 500:
		return resilience.NewTransientError(
			eris.Errorf("nylas: status %d: %s", code, truncate(body)), code)
	default:
		return eris.Errorf("nylas: unexpected status %d: %s", code, truncate(body))
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
