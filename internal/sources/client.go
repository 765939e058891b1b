package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rewired-gh/matchoracle/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotAdmitted is returned when the admission hook refuses an upstream
// request. No request was sent.
var ErrNotAdmitted = fmt.Errorf("%w: request not admitted", models.ErrRateLimited)

// IsNotAdmitted reports whether err came from a refused admission.
func IsNotAdmitted(err error) bool {
	return errors.Is(err, ErrNotAdmitted)
}

// httpClient is the transport shared by the REST adapters: one auth header,
// a per-request timeout and a bounded retry on 5xx.
type httpClient struct {
	baseURL    string
	authHeader string
	apiKey     string
	maxRetries int
	retryDelay time.Duration
	http       *http.Client

	// admit is consulted before every attempt, retries included.
	admit func() bool
}

func newHTTPClient(baseURL, authHeader, apiKey string, timeout time.Duration, maxRetries int) *httpClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: authHeader,
		apiKey:     apiKey,
		maxRetries: maxRetries,
		retryDelay: time.Second,
		http:       &http.Client{Timeout: timeout},
	}
}

// getJSON fetches path with query and decodes the body into out.
func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", models.ErrSourceUnavailable, path, err)
	}
	return nil
}

// doRequest performs HTTP request with retry logic
func (c *httpClient) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, ctx.Err())
			case <-time.After(time.Duration(i) * c.retryDelay):
			}
		}

		if c.admit != nil && !c.admit() {
			if lastErr != nil {
				return nil, fmt.Errorf("%w after %d attempts: %v", ErrNotAdmitted, i, lastErr)
			}
			return nil, ErrNotAdmitted
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.authHeader != "" && c.apiKey != "" {
			req.Header.Set(c.authHeader, c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp)
			return nil, models.ErrRateLimited
		case resp.StatusCode >= 500:
			drain(resp)
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			drain(resp)
			return nil, fmt.Errorf("%w: client error: %d", models.ErrSourceUnavailable, resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%w: max retries exceeded: %v", models.ErrSourceUnavailable, lastErr)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
