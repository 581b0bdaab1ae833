package config

import (
	"sync/atomic"
	"time"
)

// Signal classes for decay half-lives.
const (
	ClassBehavioral    = "behavioral"
	ClassTransactional = "transactional"
	ClassReview        = "review"
)

// CategoryBaseline holds per-category normalization rates.
type CategoryBaseline struct {
	WarrantyClaimRate float64
	SupportTicketRate float64
	QualityReturnRate float64
	AvgIntentShare    float64
}

// Params is the read-only reference data every scoring function consumes:
// decay half-lives, intent source weights, category weight tables and
// baselines. A Params value is immutable after construction; updates go
// through Holder.Swap.
type Params struct {
	// Decay half-lives per signal class, in days.
	HalfLifeDays map[string]float64

	// Fixed base weights per intent source (sum to 1.0). When a source is
	// entirely absent for a subject the remaining weights renormalize
	// proportionally.
	SourceWeights map[string]float64

	// Signal class per intent source, selecting the decay half-life.
	SourceClass map[string]string

	// Dirichlet smoothing strength for intent fusion.
	IntentAlpha float64

	// Intents fused from fewer observations than this are withheld.
	IntentMinSample int

	// Minimum sample sizes per ratio KPI.
	MinSampleReturnRate     int
	MinSampleDisputeRate    int
	MinSampleChargebackRate int

	// Rolling windows in days.
	WindowReturnRate     int
	WindowDisputeRate    int
	WindowChargebackRate int

	// Pre-sigmoid clamp range for composite KPIs.
	SigmoidClamp float64

	// Performance score sub-metric weights per category. Adding a category
	// is a data change, not a code change.
	PerformanceWeights map[string]map[string]float64

	CategoryBaselines map[string]CategoryBaseline

	// Signature freshness window for high-value contexts.
	SignatureMaxAge time.Duration

	// Evidence bundle limits in bytes.
	PublicEvidenceLimit int
	SealedEvidenceLimit int

	// Default cache validity for emitted signals, in seconds.
	SignalTTLSeconds int
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() *Params {
	return &Params{
		HalfLifeDays: map[string]float64{
			ClassBehavioral:    90,
			ClassTransactional: 180,
			ClassReview:        365,
		},
		SourceWeights: map[string]float64{
			"text":     0.40,
			"behavior": 0.25,
			"cart":     0.25,
			"channel":  0.10,
		},
		SourceClass: map[string]string{
			"text":     ClassReview,
			"behavior": ClassBehavioral,
			"cart":     ClassTransactional,
			"channel":  ClassBehavioral,
		},
		IntentAlpha:     20,
		IntentMinSample: 100,

		MinSampleReturnRate:     10,
		MinSampleDisputeRate:    50,
		MinSampleChargebackRate: 100,
		WindowReturnRate:        90,
		WindowDisputeRate:       180,
		WindowChargebackRate:    180,

		SigmoidClamp: 6,

		PerformanceWeights: map[string]map[string]float64{
			"footwear": {
				"energy_return": 0.4,
				"weight":        0.2,
				"cushioning":    0.2,
				"stack_height":  0.2,
			},
			"electronics": {
				"benchmark":  0.5,
				"efficiency": 0.3,
				"latency":    0.2,
			},
			"apparel": {
				"color_fastness": 0.4,
				"fabric_weight":  0.3,
				"abrasion":       0.3,
			},
		},

		CategoryBaselines: map[string]CategoryBaseline{
			"footwear":    {WarrantyClaimRate: 0.02, SupportTicketRate: 0.05, QualityReturnRate: 0.04, AvgIntentShare: 0.08},
			"electronics": {WarrantyClaimRate: 0.05, SupportTicketRate: 0.10, QualityReturnRate: 0.03, AvgIntentShare: 0.08},
			"apparel":     {WarrantyClaimRate: 0.01, SupportTicketRate: 0.03, QualityReturnRate: 0.06, AvgIntentShare: 0.08},
		},

		SignatureMaxAge: 7 * 24 * time.Hour,

		PublicEvidenceLimit: 32 * 1024,
		SealedEvidenceLimit: 1024 * 1024,

		SignalTTLSeconds: 3600,
	}
}

// Baseline returns the category baseline, falling back to a generic one for
// unknown categories.
func (p *Params) Baseline(category string) CategoryBaseline {
	if b, ok := p.CategoryBaselines[category]; ok {
		return b
	}
	return CategoryBaseline{WarrantyClaimRate: 0.03, SupportTicketRate: 0.06, QualityReturnRate: 0.04, AvgIntentShare: 0.08}
}

// HalfLifeForSource resolves the decay half-life for an intent source.
func (p *Params) HalfLifeForSource(source string) float64 {
	if class, ok := p.SourceClass[source]; ok {
		if hl, ok := p.HalfLifeDays[class]; ok {
			return hl
		}
	}
	return p.HalfLifeDays[ClassBehavioral]
}

// Holder provides lock-free hot swap of the reference data. In-flight jobs
// keep the Params value they loaded; new jobs see the swapped value.
type Holder struct {
	p atomic.Pointer[Params]
}

func NewHolder(p *Params) *Holder {
	h := &Holder{}
	h.p.Store(p)
	return h
}

// Params returns the current reference data.
func (h *Holder) Params() *Params {
	return h.p.Load()
}

// Swap atomically replaces the reference data.
func (h *Holder) Swap(p *Params) {
	h.p.Store(p)
}
