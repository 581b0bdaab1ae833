// Package signal defines the data model shared across the scoring and
// verification pipeline. All values here are created fresh per computation
// cycle and treated as immutable once emitted; a recomputation supersedes
// rather than mutates.
package signal

import "time"

// Signal names. Soft signals are subjective differentiation scores; the
// rest are objective trust or fit metrics.
const (
	NameUniqueness        = "uniqueness"
	NameCraftsmanship     = "craftsmanship"
	NameSustainability    = "sustainability"
	NameInnovation        = "innovation"
	NameFitHint           = "fit_hint"
	NameReliability       = "reliability"
	NamePerformance       = "performance"
	NameOwnerSatisfaction = "owner_satisfaction"
	NameReturnRate        = "return_rate"
	NameDisputeRate       = "dispute_rate"
	NameChargebackRate    = "chargeback_rate"
	NameBrandTrust        = "brand_trust"
)

// Calculation methods.
const (
	MethodWilsonScore      = "wilson_score"
	MethodWeightedDecay    = "weighted_decay"
	MethodAPIVerified      = "api_verified"
	MethodSnapshotVerified = "snapshot_verified"
	MethodDomainAge        = "domain_age"
)

// Reason codes for withheld signals. Insufficient data is not an error:
// the signal is absent with a reason, never a fabricated midpoint.
const (
	ReasonSampleBelowMinimum = "sample_size_below_minimum"
	ReasonNoData             = "no_data"
)

// EvidenceRef points at the material backing a score.
type EvidenceRef struct {
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
}

// Signal is a scored, evidenced observation.
//
// Invariant: a non-default Value always carries non-empty Evidence; when
// SampleSize is zero the signal is absent (nil), never emitted as zero.
type Signal struct {
	Name         string        `json:"name"`
	Value        float64       `json:"value"`
	SampleSize   int           `json:"sample_size"`
	Confidence   float64       `json:"confidence"`
	Method       string        `json:"method"`
	WindowDays   int           `json:"window_days"`
	Evidence     []EvidenceRef `json:"evidence"`
	CalculatedAt time.Time     `json:"calculated_at"`
	TTLSeconds   int           `json:"ttl_seconds"`
}

// Withheld explains why a signal was not emitted.
type Withheld struct {
	Name       string `json:"name"`
	Reason     string `json:"reason"`
	SampleSize int    `json:"sample_size"`
	Minimum    int    `json:"minimum"`
}

// Intent observation sources, in fixed base-weight order.
const (
	SourceText     = "text"
	SourceBehavior = "behavior"
	SourceCart     = "cart"
	SourceChannel  = "channel"
)

// Intent vocabulary.
const (
	IntentGift            = "gift"
	IntentDailyCommute    = "daily_commute"
	IntentHobby           = "hobby"
	IntentProfessionalUse = "professional_use"
	IntentTravel          = "travel"
	IntentFashion         = "fashion"
	IntentSport           = "sport"
	IntentBasketball      = "basketball"
	IntentRunning         = "running"
	IntentOutdoor         = "outdoor"
	IntentLuxury          = "luxury"
	IntentValue           = "value"
)

// Intents lists the controlled vocabulary.
var Intents = []string{
	IntentGift, IntentDailyCommute, IntentHobby, IntentProfessionalUse,
	IntentTravel, IntentFashion, IntentSport, IntentBasketball,
	IntentRunning, IntentOutdoor, IntentLuxury, IntentValue,
}

// IntentObservation is one source's weighted vote for an intent at a point
// in time. Observations are consumed by the fuser and not persisted beyond
// the fusion window.
type IntentObservation struct {
	Intent      string    `json:"intent"`
	Source      string    `json:"source"`
	RawStrength float64   `json:"raw_strength"`
	ObservedAt  time.Time `json:"observed_at"`
}

// FusedIntentSignal is the fuser output for one intent. Shares across all
// intents for one subject sum to at most 1; residual unclassified mass is
// never redistributed.
type FusedIntentSignal struct {
	Intent     string  `json:"intent"`
	Share      float64 `json:"share"`
	Confidence float64 `json:"confidence"`
	SampleSize int     `json:"sample_size"`
	WindowDays int     `json:"window_days"`
}

// Anomaly severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Anomaly types.
const (
	AnomalyReviewSpike       = "review_spike"
	AnomalyUniformRatings    = "uniform_rating_distribution"
	AnomalyLowVerifiedRate   = "low_verified_purchase_rate"
	AnomalyBimodalRatings    = "bimodal_rating_distribution"
	AnomalyFiveStarDominance = "five_star_concentration"
	AnomalyRatingJump        = "rating_jump"
	AnomalyCountExplosion    = "review_count_explosion"
	AnomalyUnverifiable      = "unverifiable"
)

// Anomaly is one flagged irregularity in an external signal source.
type Anomaly struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// TrustVerificationResult is the outcome of verifying one external claim.
//
// Invariant: any high-severity anomaly caps Confidence below 0.5.
type TrustVerificationResult struct {
	SubjectID  string    `json:"subject_id"`
	Source     string    `json:"source"`
	Method     string    `json:"method"`
	Confidence float64   `json:"confidence"`
	Anomalies  []Anomaly `json:"anomalies"`
	Evidence   string    `json:"evidence"` // snapshot hash, API signature, or equivalent
	VerifiedAt time.Time `json:"verified_at"`
}

// HasHighSeverity reports whether any anomaly is high severity.
func (r *TrustVerificationResult) HasHighSeverity() bool {
	for _, a := range r.Anomalies {
		if a.Severity == SeverityHigh {
			return true
		}
	}
	return false
}
