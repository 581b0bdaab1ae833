package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReviewAPIClientFetchStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/business/brand-1/stats" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte(`{"avg_rating":4.2,"total_reviews":500,"verified_ratio":0.8,"signature":"sig-abc"}`))
	}))
	defer srv.Close()

	c := NewReviewAPIClient(2*time.Second, 0, "key-1", testLogger())
	c.endpoints = map[string]string{"trustpilot": srv.URL}

	stats, sig, err := c.FetchStats(context.Background(), "trustpilot", "brand-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.AvgRating != 4.2 || stats.TotalReviews != 500 {
		t.Errorf("stats = %+v", stats)
	}
	if sig != "sig-abc" {
		t.Errorf("signature = %q", sig)
	}
}

func TestReviewAPIClientSupports(t *testing.T) {
	c := NewReviewAPIClient(time.Second, 0, "", testLogger())
	if !c.Supports("trustpilot") {
		t.Error("trustpilot should be supported")
	}
	if c.Supports("random-blog") {
		t.Error("unknown sources must not claim API support")
	}
}

func TestReviewAPIClientRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"avg_rating":4.0,"total_reviews":10}`))
	}))
	defer srv.Close()

	c := NewReviewAPIClient(5*time.Second, 2, "", testLogger())
	c.endpoints = map[string]string{"google": srv.URL}

	stats, _, err := c.FetchStats(context.Background(), "google", "b")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalReviews != 10 {
		t.Errorf("stats = %+v", stats)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestReviewAPIClientPermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewReviewAPIClient(time.Second, 2, "", testLogger())
	c.endpoints = map[string]string{"bbb": srv.URL}

	if _, _, err := c.FetchStats(context.Background(), "bbb", "b"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, 4xx must not be retried", calls.Load())
	}
}

func TestSnapshotClientReturnsRawBytes(t *testing.T) {
	body := `{"avg_rating":3.9,"total_reviews":42,"verified_ratio":0.5}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewSnapshotClient(srv.URL, time.Second, 0, testLogger())
	stats, raw, err := c.FetchSnapshot(context.Background(), "random-blog", "brand-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalReviews != 42 {
		t.Errorf("stats = %+v", stats)
	}
	// The verifier hashes exactly what was fetched.
	want := sha256.Sum256([]byte(body))
	got := sha256.Sum256(raw)
	if hex.EncodeToString(got[:]) != hex.EncodeToString(want[:]) {
		t.Error("raw bytes must round-trip unmodified")
	}
}

func TestDomainAgeClientEarliestAcrossSources(t *testing.T) {
	older := time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC)

	whois := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"first_seen":"2019-01-01T00:00:00Z"}`))
	}))
	defer whois.Close()
	ct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"first_seen":"2015-06-01T00:00:00Z"}`))
	}))
	defer ct.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	c := NewDomainAgeClient(map[string]string{
		sourceWHOIS:  whois.URL,
		sourceCTLogs: ct.URL,
		sourceDNS:    broken.URL,
	}, 5*time.Second, 0, testLogger())

	earliest, sources, err := c.EarliestSeen(context.Background(), "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !earliest.Equal(older) {
		t.Errorf("earliest = %v, want %v", earliest, older)
	}
	if len(sources) != 2 {
		t.Errorf("sources = %v, want the two that answered", sources)
	}
}

func TestDomainAgeClientAllSourcesDown(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	c := NewDomainAgeClient(map[string]string{sourceWHOIS: broken.URL}, time.Second, 0, testLogger())
	_, sources, err := c.EarliestSeen(context.Background(), "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 0 {
		t.Errorf("sources = %v, want none", sources)
	}
}

func TestDoWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	_, _, err := doWithRetry(ctx, 3, 10*time.Millisecond, func() (int, []byte, error) {
		calls++
		return http.StatusInternalServerError, nil, nil
	})
	if err == nil {
		t.Fatal("expected context error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, cancellation must stop the retry loop", calls)
	}
}
