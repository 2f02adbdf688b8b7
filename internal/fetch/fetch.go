package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/config"
	"github.com/hacktisch/mailcow-status-tracker/internal/models"
)

// LogFetcher is the upstream log source consumed by the sync cycle.
type LogFetcher interface {
	FetchLogs(ctx context.Context) ([]models.LogRecord, error)
	Close() error
}

// HTTPLogFetcher implements LogFetcher against the mailcow log API:
// GET {base_url}/{page_size} with an X-API-Key header.
type HTTPLogFetcher struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	pageSize int
}

// NewHTTPLogFetcher creates a new HTTP log fetcher with a bounded client
// timeout so a slow log source cannot stall a sync cycle indefinitely.
func NewHTTPLogFetcher(cfg *config.LogSourceConfig) *HTTPLogFetcher {
	return &HTTPLogFetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
	}
}

// FetchLogs fetches the newest page of raw log records. Any transport or
// decode failure is returned to the caller, which treats it as an empty
// batch; the next cycle simply fetches again.
func (f *HTTPLogFetcher) FetchLogs(ctx context.Context) ([]models.LogRecord, error) {
	url := fmt.Sprintf("%s/%d", f.baseURL, f.pageSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build log request: %w", err)
	}
	req.Header.Set("X-API-Key", f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("log source returned status %d", resp.StatusCode)
	}

	var records []models.LogRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode log response: %w", err)
	}

	logrus.Debugf("Fetched %d raw log records", len(records))
	return records, nil
}

// Close closes the fetcher (no-op for the HTTP client)
func (f *HTTPLogFetcher) Close() error {
	return nil
}
