// Package enrich holds the outbound clients for third-party enrichment
// providers: review platform APIs, snapshot fetchers and domain history
// lookups. Responses are untrusted input; callers run them through the
// verification pipeline. Every call is time-bounded and retried only on
// transient failure.
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

const maxResponseBytes = 4 << 20

// Platforms with an official statistics API.
var trustedAPIs = map[string]string{
	"trustpilot":  "https://api.trustpilot.com/v1",
	"google":      "https://maps.googleapis.com/maps/api",
	"tripadvisor": "https://api.tripadvisor.com",
	"bbb":         "https://api.bbb.org",
	"capterra":    "https://api.capterra.com",
}

type statsResponse struct {
	AvgRating     float64             `json:"avg_rating"`
	TotalReviews  int                 `json:"total_reviews"`
	VerifiedRatio float64             `json:"verified_ratio"`
	History       []verify.DailyCount `json:"history"`
	Distribution  [5]int              `json:"distribution"`
	Signature     string              `json:"signature"`
}

// ReviewAPIClient talks to official platform APIs. Implements
// verify.APIProvider.
type ReviewAPIClient struct {
	httpClient *http.Client
	endpoints  map[string]string
	apiKey     string
	timeout    time.Duration
	retries    int
	logger     *slog.Logger
}

func NewReviewAPIClient(timeout time.Duration, retries int, apiKey string, logger *slog.Logger) *ReviewAPIClient {
	return &ReviewAPIClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoints:  trustedAPIs,
		apiKey:     apiKey,
		timeout:    timeout,
		retries:    retries,
		logger:     logger,
	}
}

func (c *ReviewAPIClient) Supports(source string) bool {
	_, ok := c.endpoints[source]
	return ok
}

func (c *ReviewAPIClient) FetchStats(ctx context.Context, source, subjectID string) (*verify.ReviewStats, string, error) {
	endpoint, ok := c.endpoints[source]
	if !ok {
		return nil, "", fmt.Errorf("enrich: no trusted api for source %q", source)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := fmt.Sprintf("%s/business/%s/stats", endpoint, url.PathEscape(subjectID))
	status, body, err := doWithRetry(ctx, c.retries+1, 0, func() (int, []byte, error) {
		return c.get(ctx, target)
	})
	if err != nil {
		return nil, "", fmt.Errorf("enrich: fetch stats from %s: %w", source, err)
	}
	if status != http.StatusOK {
		return nil, "", fmt.Errorf("enrich: %s returned status %d", source, status)
	}

	var resp statsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("enrich: decode %s response: %w", source, err)
	}

	return &verify.ReviewStats{
		AvgRating:     resp.AvgRating,
		TotalReviews:  resp.TotalReviews,
		VerifiedRatio: resp.VerifiedRatio,
		History:       resp.History,
		Distribution:  resp.Distribution,
	}, resp.Signature, nil
}

func (c *ReviewAPIClient) get(ctx context.Context, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
