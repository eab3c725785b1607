package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rasnes/covid-duckdb-etl/config"
)

// ErrFetch marks network, status and decoding failures of the trend API.
var ErrFetch = errors.New("fetch error")

// Payload is the decoded trend response: one object per daily record.
type Payload []map[string]any

type CoronaTrackerClient struct {
	HTTPClient *retryablehttp.Client
	Logger     *slog.Logger
	Config     *config.CoronaTrackerConfig
}

func NewCoronaTrackerClient(config *config.Config, logger *slog.Logger) (*CoronaTrackerClient, error) {
	if _, err := url.Parse(config.CoronaTracker.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid coronatracker base_url: %w", err)
	}

	client := &CoronaTrackerClient{
		HTTPClient: retryablehttp.NewClient(),
		Logger:     logger,
		Config:     &config.CoronaTracker,
	}

	client.HTTPClient.RetryWaitMin = config.Extract.Backoff.RetryWaitMin
	client.HTTPClient.RetryWaitMax = config.Extract.Backoff.RetryWaitMax
	client.HTTPClient.RetryMax = config.Extract.Backoff.RetryMax
	client.HTTPClient.HTTPClient.Timeout = config.Extract.Timeout
	client.HTTPClient.Logger = logger

	return client, nil
}

// GetCountryTrend fetches the cumulative daily statistics for one country
// between startDate and endDate (both YYYY-MM-DD, inclusive).
func (c *CoronaTrackerClient) GetCountryTrend(ctx context.Context, countryCode, startDate, endDate string) ([]byte, error) {
	trendURL, err := c.trendURL(countryCode, startDate, endDate)
	if err != nil {
		return nil, err
	}
	return c.FetchData(ctx, trendURL, fmt.Sprintf("trend for country %s", countryCode))
}

// FetchData handles the common logic of making the HTTP request and checking the response status
func (c *CoronaTrackerClient) FetchData(ctx context.Context, url, description string) ([]byte, error) {
	body, resp, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch the %s: %w", ErrFetch, description, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: failed to fetch the %s, status: %s, body: %s", ErrFetch, description, resp.Status, string(body))
	}

	return body, nil
}

// ParseTrend decodes a trend response body. Anything other than a JSON
// array of objects is rejected.
func ParseTrend(body []byte) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON array of records: %w", ErrFetch, err)
	}
	if payload == nil {
		// "null" decodes without error
		return nil, fmt.Errorf("%w: response is null", ErrFetch)
	}
	return payload, nil
}

// trendURL adds countryCode, startDate and endDate to the configured base URL
func (c *CoronaTrackerClient) trendURL(countryCode, startDate, endDate string) (string, error) {
	parsedURL, err := url.Parse(c.Config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	query := parsedURL.Query()
	query.Set("countryCode", countryCode)
	query.Set("startDate", startDate)
	query.Set("endDate", endDate)
	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// get fetches the URL and returns the body and response
func (c *CoronaTrackerClient) get(ctx context.Context, url string) (body []byte, resp *http.Response, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err = c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	return body, resp, nil
}
