package transit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

// scheme is swapped for "http" by tests talking to httptest servers.
var scheme = "https"

const userAgent = "abfahrt/1.0 (live departure board)"

// ErrInvalidJSON is returned when the API answers with a body that is not JSON.
var ErrInvalidJSON = errors.New("response is not valid JSON")

// DeparturesURL builds the departures request for one station. The query
// parameters and their order are what the upstream API expects.
func DeparturesURL(source string, stationID string, duration int) string {
	return fmt.Sprintf(
		"%s://%s/stops/%s/departures?duration=%d&linesOfStops=false&remarks=true&language=en",
		scheme, source, stationID, duration,
	)
}

// StopURL builds the request for a single stop's details.
func StopURL(source string, stationID string) string {
	return fmt.Sprintf("%s://%s/stops/%s?linesOfStops=false&language=en", scheme, source, stationID)
}

// Client interacts with a HAFAS-style REST API (transport.rest)
type Client struct {
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// Option tweaks a Client
type Option func(*Client)

// WithAttempts sets how often a request is tried before giving up.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithBackoff sets the base delay between attempts; attempt i waits i*backoff.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithTimeout sets the timeout of the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   3,
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getWithRetries performs a GET, retrying on 502/503/504 and transport errors
func (c *Client) getWithRetries(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt < c.attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		// Public APIs often block default Go user agents
		req.Header.Set("User-Agent", userAgent)

		resp, lastErr = c.httpClient.Do(req)

		if lastErr == nil && (resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusBadGateway) {
			resp.Body.Close()
			lastErr = fmt.Errorf("transient status code: %d", resp.StatusCode)
		} else if lastErr == nil {
			return resp, nil
		}

		if attempt == c.attempts-1 {
			break
		}

		log.Debug().Err(lastErr).Str("url", reqURL).Int("attempt", attempt+1).Msg("retrying request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * c.backoff):
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.attempts, lastErr)
}

// Fetch downloads reqURL and returns the body if it is well-formed JSON
func (c *Client) Fetch(ctx context.Context, reqURL string) ([]byte, error) {
	resp, err := c.getWithRetries(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if !jsoniter.Valid(body) {
		return nil, ErrInvalidJSON
	}

	return body, nil
}

// FetchStopName looks up the display name of a station
func (c *Client) FetchStopName(ctx context.Context, source string, stationID string) (string, error) {
	body, err := c.Fetch(ctx, StopURL(source, stationID))
	if err != nil {
		return "", err
	}

	var stop Stop
	if err := jsoniter.Unmarshal(body, &stop); err != nil {
		return "", fmt.Errorf("failed to decode stop JSON: %w", err)
	}
	if stop.Name == "" {
		return "", fmt.Errorf("stop %s has no name", stationID)
	}

	return stop.Name, nil
}

// FetchLocations searches for transit stops matching a text query
func (c *Client) FetchLocations(ctx context.Context, source string, query string) ([]Location, error) {
	reqURL := fmt.Sprintf("%s://%s/locations?query=%s&results=10", scheme, source, url.QueryEscape(query))

	body, err := c.Fetch(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch locations: %w", err)
	}

	var locations []Location
	if err := jsoniter.Unmarshal(body, &locations); err != nil {
		return nil, fmt.Errorf("failed to decode locations JSON: %w", err)
	}

	// Filter down to just actual stations/stops
	var filtered []Location
	for _, l := range locations {
		if l.Type == "station" || l.Type == "stop" {
			filtered = append(filtered, l)
		}
	}

	return filtered, nil
}
