package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"counsel-bot/internal/reliability"
)

const (
	defaultBaseURL     = "https://api.line.me"
	defaultCallTimeout = 5 * time.Second

	// MaxTextLength is the longest text message the reply API accepts, in runes.
	MaxTextLength = 5000
)

var (
	// ErrInvalidReplyToken means the token was already used or has expired.
	ErrInvalidReplyToken = errors.New("line: invalid reply token")
	// ErrPlatformUnavailable covers transport failures, timeouts, 429 and 5xx.
	ErrPlatformUnavailable = errors.New("line: platform unavailable")
	// ErrRejected covers other 4xx responses (credentials, payload).
	ErrRejected = errors.New("line: request rejected")
)

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

// HTTPStatusError captures non-2xx responses from the Messaging API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("line: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends replies through the LINE Messaging API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	callTimeout time.Duration
	retry       reliability.Policy
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

func WithRetryPolicy(p reliability.Policy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a reply Client for the channel identified by accessToken.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("line: channel access token must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		accessToken: accessToken,
		callTimeout: defaultCallTimeout,
		retry: reliability.Policy{
			MaxAttempts: 2,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    time.Second,
		},
		sleep: reliability.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func replyURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/v2/bot/message/reply"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: c.callTimeout}
}

// Reply delivers text using replyToken. Token errors are returned at once;
// platform unavailability is retried within the configured policy.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	if strings.TrimSpace(replyToken) == "" {
		return fmt.Errorf("%w: empty reply token", ErrInvalidReplyToken)
	}
	body, err := json.Marshal(replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return fmt.Errorf("line: marshal reply: %w", err)
	}

	attempts := c.retry.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.replyOnce(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, ErrPlatformUnavailable) || attempt == attempts {
			return fmt.Errorf("line: reply failed after %d attempt(s): %w", attempt, lastErr)
		}
		if err := c.sleep(ctx, c.retry.Delay(attempt)); err != nil {
			return fmt.Errorf("line: retry aborted after %d attempt(s): %w", attempt, lastErr)
		}
	}
	return fmt.Errorf("line: reply failed: %w", lastErr)
}

func (c *Client) replyOnce(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	url := replyURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("line: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("line: request canceled: %w", err)
		}
		return fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return nil
	}

	buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	statusErr := &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	switch {
	case reliability.IsRetryableHTTPStatus(res.StatusCode):
		return fmt.Errorf("%w: %w", ErrPlatformUnavailable, statusErr)
	case res.StatusCode == http.StatusBadRequest && mentionsReplyToken(buf):
		return fmt.Errorf("%w: %w", ErrInvalidReplyToken, statusErr)
	default:
		return fmt.Errorf("%w: %w", ErrRejected, statusErr)
	}
}

type apiError struct {
	Message string `json:"message"`
}

func mentionsReplyToken(body []byte) bool {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(e.Message), "reply token")
}
