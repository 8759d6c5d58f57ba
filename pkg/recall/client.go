// Package recall is a minimal client for the Recall.ai meeting bot API.
// DeleteBot treats 404 as success so a retried cancellation of an
// already-removed bot stays idempotent.
package recall

import (
	"bytes"
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

const defaultBaseURL = "https://us-east-1.recall.ai"

// Bot is a scheduled meeting recording bot.
type Bot struct {
	ID            string         `json:"id"`
	MeetingURL    MeetingURL     `json:"meeting_url"`
	BotName       string         `json:"bot_name,omitempty"`
	JoinAt        *time.Time     `json:"join_at,omitempty"`
	StatusChanges []StatusChange `json:"status_changes,omitempty"`
}

// MeetingURL wraps the platform join link.
type MeetingURL struct {
	MeetingID string `json:"meeting_id,omitempty"`
	Platform  string `json:"platform,omitempty"`
	URL       string `json:"url,omitempty"`
}

// StatusChange is one entry in the bot lifecycle log.
type StatusChange struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Status returns the most recent lifecycle code, or "".
func (b *Bot) Status() string {
	if len(b.StatusChanges) == 0 {
		return ""
	}
	return b.StatusChanges[len(b.StatusChanges)-1].Code
}

// CreateBotRequest schedules a bot for a meeting.
type CreateBotRequest struct {
	MeetingURL string     `json:"meeting_url"`
	BotName    string     `json:"bot_name,omitempty"`
	JoinAt     *time.Time `json:"join_at,omitempty"`
}

// Client is the Recall API surface the dispatcher uses.
type Client interface {
	CreateBot(ctx context.Context, req CreateBotRequest) (*Bot, error)
	// DeleteBot removes a scheduled bot. A bot that no longer exists is
	// not an error.
	DeleteBot(ctx context.Context, botID string) error
	GetBot(ctx context.Context, botID string) (*Bot, error)
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

// NewClient creates a Recall API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) CreateBot(ctx context.Context, req CreateBotRequest) (*Bot, error) {
	var bot Bot
	if err := c.do(ctx, http.MethodPost, "/api/v1/bot/", req, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

func (c *httpClient) DeleteBot(ctx context.Context, botID string) error {
	path := fmt.Sprintf("/api/v1/bot/%s/", url.PathEscape(botID))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (c *httpClient) GetBot(ctx context.Context, botID string) (*Bot, error) {
	var bot Bot
	path := fmt.Sprintf("/api/v1/bot/%s/", url.PathEscape(botID))
	if err := c.do(ctx, http.MethodGet, path, nil, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// notFoundError marks a 404 so DeleteBot can absorb it.
type notFoundError struct {
	msg string
}

func (e *notFoundError) Error() string { return e.msg }

func isNotFound(err error) bool {
	var nf *notFoundError
	return eris.As(err, &nf)
}

func (c *httpClient) do(ctx context.Context, method, path string, payload, target any) error {
	if c.breaker != nil {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doRequest(ctx, method, path, payload, target)
		})
	}
	return c.doRequest(ctx, method, path, payload, target)
}

func (c *httpClient) doRequest(ctx context.Context, method, path string, payload, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "recall: rate limit wait")
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "recall: marshal request")
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return eris.Wrap(err, "recall: create request")
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "recall: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "recall: read response")
	}

	if err := classifyStatus(resp, body); err != nil {
		return err
	}

	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return eris.Wrap(err, "recall: unmarshal response")
	}
	return nil
}

func classifyStatus(resp *http.Response, body []byte) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return &notFoundError{msg: fmt.Sprintf("recall: status 404: %s", truncate(body))}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return resilience.NewAuthError(
			eris.Errorf("recall: status %d: %s", code, truncate(body)), code)
	case code == http.StatusTooManyRequests:
		return resilience.NewRateLimitError(
			eris.Errorf("recall: status %d: %s", code, truncate(body)),
			retryAfter(resp))
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return resilience.NewValidationError(
			eris.Errorf("recall: status %d: %s", code, truncate(body)))
	case code >= 500:
		return resilience.NewTransientError(
			eris.Errorf("recall: status %d: %s", code, truncate(body)), code)
	default:
		return eris.Errorf("recall: unexpected status %d: %s", code, truncate(body))
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
