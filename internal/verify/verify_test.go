package verify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/agentic-exchange/axp/internal/signal"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	stats    *ReviewStats
	sig      string
	err      error
	supports bool
}

func (f *fakeAPI) Supports(string) bool { return f.supports }

func (f *fakeAPI) FetchStats(context.Context, string, string) (*ReviewStats, string, error) {
	return f.stats, f.sig, f.err
}

type fakeSnapshots struct {
	stats *ReviewStats
	raw   []byte
	err   error
}

func (f *fakeSnapshots) FetchSnapshot(context.Context, string, string) (*ReviewStats, []byte, error) {
	return f.stats, f.raw, f.err
}

type fakeDomains struct {
	earliest time.Time
	sources  []string
	err      error
}

func (f *fakeDomains) EarliestSeen(context.Context, string) (time.Time, []string, error) {
	return f.earliest, f.sources, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cleanStats() *ReviewStats {
	return &ReviewStats{
		AvgRating:     4.2,
		TotalReviews:  500,
		VerifiedRatio: 0.8,
		Distribution:  [5]int{50, 25, 25, 100, 300},
	}
}

func TestVerifyReviewsAPI(t *testing.T) {
	v := New(
		&fakeAPI{stats: cleanStats(), sig: "platform-sig", supports: true},
		&fakeSnapshots{err: errors.New("should not be called")},
		nil, testLogger(),
	)

	res := v.VerifyReviews(context.Background(), "brand-1", "trustpilot",
		ReviewStats{AvgRating: 4.2, TotalReviews: 500}, testNow)

	if res.Method != signal.MethodAPIVerified {
		t.Errorf("method = %q", res.Method)
	}
	if res.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", res.Confidence)
	}
	if res.Evidence != "platform-sig" {
		t.Errorf("evidence = %q", res.Evidence)
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("unexpected anomalies: %+v", res.Anomalies)
	}
}

func TestVerifyReviewsFallsBackToSnapshot(t *testing.T) {
	v := New(
		&fakeAPI{err: errors.New("api down"), supports: true},
		&fakeSnapshots{stats: cleanStats(), raw: []byte("page body")},
		nil, testLogger(),
	)

	res := v.VerifyReviews(context.Background(), "brand-1", "trustpilot",
		ReviewStats{AvgRating: 4.2, TotalReviews: 500}, testNow)

	if res.Method != signal.MethodSnapshotVerified {
		t.Errorf("method = %q", res.Method)
	}
	if res.Confidence != 0.70 {
		t.Errorf("confidence = %v, want 0.70", res.Confidence)
	}
	// SHA-256 hex of the raw snapshot.
	if len(res.Evidence) != 64 {
		t.Errorf("evidence = %q, want 64 hex chars", res.Evidence)
	}
}

func TestVerifyReviewsUnreachable(t *testing.T) {
	v := New(
		&fakeAPI{err: errors.New("api down"), supports: true},
		&fakeSnapshots{err: errors.New("fetch timeout")},
		nil, testLogger(),
	)

	res := v.VerifyReviews(context.Background(), "brand-1", "trustpilot", ReviewStats{}, testNow)

	if res == nil {
		t.Fatal("degraded result must never be omitted")
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", res.Confidence)
	}
	found := false
	for _, a := range res.Anomalies {
		if a.Type == signal.AnomalyUnverifiable {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unverifiable anomaly, got %+v", res.Anomalies)
	}
}

func TestVerifyReviewsMediumAnomalyPenalty(t *testing.T) {
	stats := cleanStats()
	stats.VerifiedRatio = 0.2 // below the 30% floor

	v := New(&fakeAPI{stats: stats, sig: "s", supports: true}, nil, nil, testLogger())
	res := v.VerifyReviews(context.Background(), "brand-1", "google",
		ReviewStats{AvgRating: 4.2, TotalReviews: 500}, testNow)

	// 0.95 * (1 - 0.2)
	if math.Abs(res.Confidence-0.76) > 1e-9 {
		t.Errorf("confidence = %v, want 0.76", res.Confidence)
	}
	if res.HasHighSeverity() {
		t.Error("low verified rate is medium severity")
	}
}

func TestHighSeverityHardCap(t *testing.T) {
	v := New(nil, nil, nil, testLogger())
	anomalies := []signal.Anomaly{{Type: signal.AnomalyReviewSpike, Severity: signal.SeverityHigh}}

	// Even with a base weight that would survive the penalty multiplication,
	// the explicit clamp keeps confidence below 0.5.
	res := v.result("brand-1", "trustpilot", signal.MethodAPIVerified, 1.8, anomalies, "", testNow)
	if res.Confidence >= 0.5 {
		t.Errorf("confidence = %v, must be below 0.5 with a high-severity anomaly", res.Confidence)
	}
}

func TestReviewSpikeScenario(t *testing.T) {
	// 120 reviews over 90 days: 100 five-star posted within a single hour,
	// 20 spread normally.
	history := make([]DailyCount, 90)
	day := testNow.AddDate(0, 0, -90)
	for i := range history {
		history[i] = DailyCount{Day: day.AddDate(0, 0, i)}
	}
	history[45].Count = 100
	for i := 0; i < 20; i++ {
		history[i*4].Count++
	}

	stats := &ReviewStats{
		AvgRating:     4.7,
		TotalReviews:  120,
		VerifiedRatio: 0.9,
		History:       history,
		Distribution:  [5]int{5, 5, 5, 5, 100},
	}

	v := New(&fakeAPI{stats: stats, sig: "s", supports: true}, nil, nil, testLogger())
	res := v.VerifyReviews(context.Background(), "prod-9", "trustpilot",
		ReviewStats{AvgRating: 4.7, TotalReviews: 120}, testNow)

	var spike, fiveStar bool
	for _, a := range res.Anomalies {
		switch a.Type {
		case signal.AnomalyReviewSpike:
			spike = true
			if a.Severity != signal.SeverityHigh {
				t.Errorf("spike severity = %q, want high", a.Severity)
			}
		case signal.AnomalyFiveStarDominance:
			fiveStar = true
		}
	}
	if !spike {
		t.Error("expected review_spike anomaly")
	}
	if !fiveStar {
		t.Error("expected five_star_concentration anomaly")
	}
	if res.Confidence >= 0.5 {
		t.Errorf("confidence = %v, must be capped below 0.5", res.Confidence)
	}
}

func TestVerifyDomainAge(t *testing.T) {
	t.Run("two sources give full confidence and capped score", func(t *testing.T) {
		v := New(nil, nil, &fakeDomains{
			earliest: testNow.AddDate(-10, 0, 0),
			sources:  []string{"whois", "certificate_transparency"},
		}, testLogger())

		res, ageScore := v.VerifyDomainAge(context.Background(), "brand-1", "example.com", testNow)
		if res.Confidence != 1.0 {
			t.Errorf("confidence = %v, want 1.0", res.Confidence)
		}
		if math.Abs(ageScore-0.6) > 1e-9 {
			t.Errorf("ageScore = %v, want 0.6 cap", ageScore)
		}
		if res.Method != signal.MethodDomainAge {
			t.Errorf("method = %q", res.Method)
		}
	})

	t.Run("single source halves confidence", func(t *testing.T) {
		v := New(nil, nil, &fakeDomains{
			earliest: testNow.AddDate(-1, 0, 0),
			sources:  []string{"whois"},
		}, testLogger())

		res, ageScore := v.VerifyDomainAge(context.Background(), "brand-1", "example.com", testNow)
		if res.Confidence != 0.5 {
			t.Errorf("confidence = %v, want 0.5", res.Confidence)
		}
		// 1 - exp(-365/365), below the cap.
		want := 1 - math.Exp(-1)
		if math.Abs(ageScore-want) > 1e-3 {
			t.Errorf("ageScore = %v, want %v", ageScore, want)
		}
	})

	t.Run("unreachable history degrades", func(t *testing.T) {
		v := New(nil, nil, &fakeDomains{err: errors.New("whois timeout")}, testLogger())
		res, ageScore := v.VerifyDomainAge(context.Background(), "brand-1", "example.com", testNow)
		if res.Confidence != 0 || ageScore != 0 {
			t.Errorf("confidence = %v, ageScore = %v, want zeros", res.Confidence, ageScore)
		}
		if len(res.Anomalies) == 0 || res.Anomalies[0].Type != signal.AnomalyUnverifiable {
			t.Errorf("expected unverifiable anomaly, got %+v", res.Anomalies)
		}
	})
}
