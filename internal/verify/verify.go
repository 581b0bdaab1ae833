// Package verify cross-checks externally sourced claims against
// corroborating methods and scores the result. Methods are tried in a
// fixed fallback order: platform API, snapshot hash, domain age. All
// provider responses are untrusted input and pass through the anomaly
// detectors before any confidence is assigned.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/agentic-exchange/axp/internal/signal"
)

// Base confidence weight per verification method.
const (
	apiWeight      = 0.95
	snapshotWeight = 0.70
)

// Anomaly penalties by max severity. A high-severity anomaly also hard-caps
// the final confidence below 0.5 regardless of the multiplication.
const (
	penaltyHigh     = 0.5
	penaltyMedium   = 0.2
	highSeverityCap = 0.49
)

// Domain age saturates with a one-year half-life and is capped so age
// alone can never fully justify trust.
const (
	domainAgeHalfLifeDays = 365
	domainAgeCap          = 0.6
)

// DailyCount is one bucket of a review-volume time series.
type DailyCount struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// ReviewStats is the statistics shape shared by the API and snapshot
// providers. Distribution indexes star buckets 1..5 at [0]..[4].
type ReviewStats struct {
	AvgRating     float64      `json:"avg_rating"`
	TotalReviews  int          `json:"total_reviews"`
	VerifiedRatio float64      `json:"verified_ratio"`
	History       []DailyCount `json:"history"`
	Distribution  [5]int       `json:"distribution"`
}

// APIProvider fetches statistics from an official platform API. Signature
// is the platform's response signature, kept as evidence.
type APIProvider interface {
	Supports(source string) bool
	FetchStats(ctx context.Context, source, subjectID string) (stats *ReviewStats, signature string, err error)
}

// SnapshotProvider fetches raw page data for sources without a trusted
// API. The raw bytes are hashed here; providers never pre-hash.
type SnapshotProvider interface {
	FetchSnapshot(ctx context.Context, source, subjectID string) (stats *ReviewStats, raw []byte, err error)
}

// DomainHistory resolves the earliest corroborated sighting of a domain
// across WHOIS, CT logs, DNS history and web archives.
type DomainHistory interface {
	EarliestSeen(ctx context.Context, domain string) (earliest time.Time, sources []string, err error)
}

// Verifier runs the multi-method verification pipeline. Safe for
// concurrent use; all state is read-only after construction.
type Verifier struct {
	api       APIProvider
	snapshots SnapshotProvider
	domains   DomainHistory
	logger    *slog.Logger
}

func New(api APIProvider, snapshots SnapshotProvider, domains DomainHistory, logger *slog.Logger) *Verifier {
	return &Verifier{api: api, snapshots: snapshots, domains: domains, logger: logger}
}

// VerifyReviews validates claimed review statistics for one subject on one
// platform. A degraded result (confidence 0, unverifiable anomaly) is
// returned when no method is reachable; the result is never omitted.
func (v *Verifier) VerifyReviews(ctx context.Context, subjectID, source string, expected ReviewStats, now time.Time) *signal.TrustVerificationResult {
	if v.api != nil && v.api.Supports(source) {
		stats, sig, err := v.api.FetchStats(ctx, source, subjectID)
		if err == nil {
			anomalies := detectAll(stats, expected)
			return v.result(subjectID, source, signal.MethodAPIVerified, apiWeight, anomalies, sig, now)
		}
		v.logger.Warn("api verification failed, falling back to snapshot",
			"source", source, "subject_id", subjectID, "error", err)
	}

	if v.snapshots != nil {
		stats, raw, err := v.snapshots.FetchSnapshot(ctx, source, subjectID)
		if err == nil {
			anomalies := detectAll(stats, expected)
			hash := sha256.Sum256(raw)
			return v.result(subjectID, source, signal.MethodSnapshotVerified, snapshotWeight,
				anomalies, hex.EncodeToString(hash[:]), now)
		}
		v.logger.Warn("snapshot verification failed",
			"source", source, "subject_id", subjectID, "error", err)
	}

	return v.unverifiable(subjectID, source, "no reachable verification method", now)
}

// VerifyDomainAge scores a domain by its earliest corroborated existence.
// Confidence scales with the number of independent corroborating sources:
// one source gives 0.5, two or more give 1.0.
func (v *Verifier) VerifyDomainAge(ctx context.Context, subjectID, domain string, now time.Time) (*signal.TrustVerificationResult, float64) {
	if v.domains == nil {
		return v.unverifiable(subjectID, domain, "no domain history provider", now), 0
	}
	earliest, sources, err := v.domains.EarliestSeen(ctx, domain)
	if err != nil || len(sources) == 0 {
		v.logger.Warn("domain age lookup failed", "domain", domain, "error", err)
		return v.unverifiable(subjectID, domain, "domain history unreachable", now), 0
	}

	ageDays := now.Sub(earliest).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	ageScore := math.Min(domainAgeCap, 1-math.Exp(-ageDays/domainAgeHalfLifeDays))
	confidence := math.Min(1.0, float64(len(sources))/2)

	return &signal.TrustVerificationResult{
		SubjectID:  subjectID,
		Source:     domain,
		Method:     signal.MethodDomainAge,
		Confidence: confidence,
		Evidence:   fmt.Sprintf("earliest:%s sources:%d", earliest.UTC().Format(time.RFC3339), len(sources)),
		VerifiedAt: now,
	}, ageScore
}

func (v *Verifier) result(subjectID, source, method string, baseWeight float64, anomalies []signal.Anomaly, evidence string, now time.Time) *signal.TrustVerificationResult {
	confidence := baseWeight * (1 - maxPenalty(anomalies))
	if hasHigh(anomalies) && confidence > highSeverityCap {
		confidence = highSeverityCap
	}
	if len(anomalies) > 0 {
		v.logger.Info("verification flagged anomalies",
			"subject_id", subjectID, "source", source, "method", method,
			"anomalies", len(anomalies), "confidence", confidence)
	}
	return &signal.TrustVerificationResult{
		SubjectID:  subjectID,
		Source:     source,
		Method:     method,
		Confidence: confidence,
		Anomalies:  anomalies,
		Evidence:   evidence,
		VerifiedAt: now,
	}
}

func (v *Verifier) unverifiable(subjectID, source, detail string, now time.Time) *signal.TrustVerificationResult {
	return &signal.TrustVerificationResult{
		SubjectID:  subjectID,
		Source:     source,
		Method:     signal.MethodSnapshotVerified,
		Confidence: 0,
		Anomalies: []signal.Anomaly{
			{Type: signal.AnomalyUnverifiable, Severity: signal.SeverityMedium, Detail: detail},
		},
		VerifiedAt: now,
	}
}

func maxPenalty(anomalies []signal.Anomaly) float64 {
	penalty := 0.0
	for _, a := range anomalies {
		switch a.Severity {
		case signal.SeverityHigh:
			if penaltyHigh > penalty {
				penalty = penaltyHigh
			}
		case signal.SeverityMedium:
			if penaltyMedium > penalty {
				penalty = penaltyMedium
			}
		}
	}
	return penalty
}

func hasHigh(anomalies []signal.Anomaly) bool {
	for _, a := range anomalies {
		if a.Severity == signal.SeverityHigh {
			return true
		}
	}
	return false
}
