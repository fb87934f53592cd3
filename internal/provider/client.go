package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	Token             string
	PageSize          int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client is a thin HTTP client for the mail provider's REST API. It
// handles Bearer token authentication, JSON unmarshaling, client-side
// rate limiting, and classification of transient transport failures.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retryPolicy
	pageSize   int
	log        *logrus.Logger
}

// NewClient creates a new provider client. The baseURL should be the
// root URL of the provider API (e.g. https://mail.example.com/api/v1).
func NewClient(opts Options, log *logrus.Logger) *Client {
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = 100
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	baseDelay := opts.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		retry:      retryPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay},
		pageSize:   pageSize,
		log:        log,
	}
}

// ListThreads retrieves one page of the thread listing. An empty
// pageToken starts a fresh cursor walk; the returned NextPageToken is
// empty on the final page.
func (c *Client) ListThreads(
	ctx context.Context,
	pageToken string,
) (*ThreadPage, error) {
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(c.pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var page ThreadPage
	if err := c.get(ctx, "/threads?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetThread retrieves the full detail for one thread, including nested
// message payloads.
func (c *Client) GetThread(
	ctx context.Context,
	id string,
) (*RawThread, error) {
	var thread RawThread
	path := "/threads/" + url.PathEscape(id) + "?format=full"
	if err := c.get(ctx, path, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// get performs a rate-limited HTTP GET and unmarshals the JSON
// response. Timeouts and 5xx responses are wrapped as TransientError.
func (c *Client) get(
	ctx context.Context,
	path string,
	result interface{},
) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &TransientError{Op: path, Err: err}
		}
		return fmt.Errorf("executing GET %s: %w", path, err)
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("reading response body: %w", readErr)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &TransientError{
			Op:     path,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("provider returned %s", resp.Status),
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf(
			"authentication failed (401): check the provider token for %s",
			c.baseURL,
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf(
			"unexpected status %d on GET %s: %s",
			resp.StatusCode, path, string(respBody),
		)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s: %w", path, err)
	}

	return nil
}

// isTimeout reports whether err represents a network timeout or a
// cancelled/expired request deadline at the transport level.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
