package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/agentic-exchange/axp/internal/verify"
)

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// SnapshotClient fetches raw page data through a snapshot service for
// sources without a trusted API. Implements verify.SnapshotProvider.
// The raw bytes are returned untouched so the verifier can hash exactly
// what was fetched; provider quirks stay behind the service.
type SnapshotClient struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	retries    int
	logger     *slog.Logger
}

func NewSnapshotClient(endpoint string, timeout time.Duration, retries int, logger *slog.Logger) *SnapshotClient {
	return &SnapshotClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		timeout:    timeout,
		retries:    retries,
		logger:     logger,
	}
}

func (c *SnapshotClient) FetchSnapshot(ctx context.Context, source, subjectID string) (*verify.ReviewStats, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := fmt.Sprintf("%s/snapshot?source=%s&subject=%s",
		c.endpoint, url.QueryEscape(source), url.QueryEscape(subjectID))

	status, body, err := doWithRetry(ctx, c.retries+1, 0, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return 0, nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		b, err := readBody(resp)
		return resp.StatusCode, b, err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("enrich: snapshot %s/%s: %w", source, subjectID, err)
	}
	if status != http.StatusOK {
		return nil, nil, fmt.Errorf("enrich: snapshot service returned status %d", status)
	}

	var resp statsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("enrich: decode snapshot: %w", err)
	}

	return &verify.ReviewStats{
		AvgRating:     resp.AvgRating,
		TotalReviews:  resp.TotalReviews,
		VerifiedRatio: resp.VerifiedRatio,
		History:       resp.History,
		Distribution:  resp.Distribution,
	}, body, nil
}
