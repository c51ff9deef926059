package yt

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL    = "https://www.googleapis.com/youtube/v3"
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second

	maxErrorBody = 1024
)

// Page is one page of a paginated listing.
type Page struct {
	Items         []*gabs.Container
	NextPageToken string
}

// Client talks to the comment endpoints of the Data API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithRetry sets the number of extra attempts on 429/5xx and the first backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage requests one page of endpoint ("commentThreads", "comments", ...).
func (c *Client) FetchPage(ctx context.Context, endpoint string, params url.Values, pageToken string) (*Page, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("key", c.apiKey)
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	body, err := c.FetchWithRetry(ctx, c.baseURL+"/"+endpoint+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	json, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s page: %w", endpoint, err)
	}
	next, _ := json.Path("nextPageToken").Data().(string)
	return &Page{
		Items:         json.Path("items").Children(),
		NextPageToken: next,
	}, nil
}

// FetchWithRetry GETs rawURL, retrying 429, 5xx and transport failures with
// exponential backoff. Any other non-2xx status is classified immediately.
func (c *Client) FetchWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		status, body, err := c.get(ctx, rawURL)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case status >= 200 && status < 300:
			return body, nil
		case !retryableStatus(status) || attempt == c.maxRetries:
			apiErr := classify(status, errorReason(body), truncate(body))
			apiErr.Attempts = attempt + 1
			return nil, apiErr
		default:
			lastErr = fmt.Errorf("upstream status %d", status)
		}

		if attempt == c.maxRetries {
			break
		}
		delay := c.baseDelay << attempt
		c.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("backoff", delay).Msg("upstream request failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, &APIError{Kind: KindMaxRetries, Attempts: c.maxRetries + 1, Err: lastErr}
}

func (c *Client) get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return 0, nil, fmt.Errorf("gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func errorReason(body []byte) string {
	json, err := gabs.ParseJSON(body)
	if err != nil {
		return ""
	}
	reason, _ := json.Path("error.errors.0.reason").Data().(string)
	return reason
}

func truncate(body []byte) []byte {
	body = bytes.TrimSpace(body)
	if len(body) > maxErrorBody {
		return body[:maxErrorBody]
	}
	return body
}
