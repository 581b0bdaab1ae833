package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Independent sighting sources for a domain's first appearance.
const (
	sourceWHOIS   = "whois"
	sourceCTLogs  = "certificate_transparency"
	sourceDNS     = "dns_history"
	sourceArchive = "web_archive"
)

// DomainAgeClient corroborates a domain's earliest existence across
// WHOIS, CT logs, DNS history and web archive lookups. Implements
// verify.DomainHistory. Lookups run in parallel; each source fails
// independently and the result carries whichever ones answered.
type DomainAgeClient struct {
	httpClient *http.Client
	endpoints  map[string]string // source -> service base URL
	timeout    time.Duration
	retries    int
	logger     *slog.Logger
}

func NewDomainAgeClient(endpoints map[string]string, timeout time.Duration, retries int, logger *slog.Logger) *DomainAgeClient {
	return &DomainAgeClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoints:  endpoints,
		timeout:    timeout,
		retries:    retries,
		logger:     logger,
	}
}

type firstSeenResponse struct {
	FirstSeen time.Time `json:"first_seen"`
}

// EarliestSeen returns the earliest corroborated date and the sources
// that answered. An empty source list with a nil error means every
// lookup failed soft; the caller decides how to degrade.
func (c *DomainAgeClient) EarliestSeen(ctx context.Context, domain string) (time.Time, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		earliest time.Time
		sources  []string
	)

	g, ctx := errgroup.WithContext(ctx)
	for source, endpoint := range c.endpoints {
		g.Go(func() error {
			seen, err := c.lookup(ctx, endpoint, domain)
			if err != nil {
				c.logger.Debug("domain lookup failed", "source", source, "domain", domain, "error", err)
				return nil // soft failure, other sources may still corroborate
			}
			if seen.IsZero() {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			sources = append(sources, source)
			if earliest.IsZero() || seen.Before(earliest) {
				earliest = seen
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return time.Time{}, nil, err
	}
	if len(sources) == 0 && ctx.Err() != nil {
		return time.Time{}, nil, ctx.Err()
	}
	return earliest, sources, nil
}

func (c *DomainAgeClient) lookup(ctx context.Context, endpoint, domain string) (time.Time, error) {
	target := fmt.Sprintf("%s/first-seen?domain=%s", endpoint, url.QueryEscape(domain))
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
		return time.Time{}, err
	}
	if status != http.StatusOK {
		return time.Time{}, fmt.Errorf("status %d", status)
	}
	var resp firstSeenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.FirstSeen, nil
}

// DefaultDomainEndpoints builds the lookup table for one aggregator
// service exposing all four source families.
func DefaultDomainEndpoints(base string) map[string]string {
	return map[string]string{
		sourceWHOIS:   base + "/whois",
		sourceCTLogs:  base + "/ct",
		sourceDNS:     base + "/dns",
		sourceArchive: base + "/archive",
	}
}
