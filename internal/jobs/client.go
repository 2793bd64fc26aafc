package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StatusClient answers job-status queries. Failures are returned as errors
// and treated as transient by the caller; retry policy lives in the polling
// task, not here.
type StatusClient interface {
	GetStatus(ctx context.Context, id string) (Status, error)
}

// HTTPClient queries the server's job-status endpoint.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	userID     string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewHTTPClient creates a status client for the given base URL. The user id
// is sent on every request; the server boundary assumes it is already
// authenticated. ratePerSec bounds outbound queries so a busy poller cannot
// hammer the backend.
func NewHTTPClient(baseURL, userID string, ratePerSec int, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userID:     userID,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		logger:     logger,
	}
}

// GetStatus fetches the current state of one job.
func (c *HTTPClient) GetStatus(ctx context.Context, id string) (Status, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Status{}, fmt.Errorf("rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/api/jobs/%s/status", c.baseURL, id)
	c.logger.Debug("status query", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-User-ID", c.userID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{}, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return Status{}, readErr
	}

	if resp.StatusCode == http.StatusNotFound {
		return Status{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("status query failed: %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return Status{}, fmt.Errorf("decoding status: %w", err)
	}
	return st, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
