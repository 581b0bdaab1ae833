// Package kpi computes fit, reliability, performance and satisfaction
// scores from category-normalized sub-metrics, each annotated with
// evidence and a conservative Wilson-based confidence.
//
// Insufficient data withholds a KPI (absent with a reason code), it never
// defaults to a midpoint. Malformed inputs abort only the affected
// entity's calculation.
package kpi

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/agentic-exchange/axp/internal/config"
	"github.com/agentic-exchange/axp/internal/signal"
	"github.com/agentic-exchange/axp/internal/stats"
)

// InputError reports a malformed raw input (negative count, NaN rate).
type InputError struct {
	Field string
	Value float64
}

func (e *InputError) Error() string {
	return fmt.Sprintf("kpi: invalid input %s: %v", e.Field, e.Value)
}

// SatisfactionWindow aggregates review and repurchase data over one window.
type SatisfactionWindow struct {
	VerifiedRatingAvg   float64 `json:"verified_rating_avg"`   // 1-5 scale
	UnverifiedRatingAvg float64 `json:"unverified_rating_avg"` // 1-5 scale
	VerifiedCount       int     `json:"verified_count"`
	UnverifiedCount     int     `json:"unverified_count"`
	RepeatPurchaseRate  float64 `json:"repeat_purchase_rate"`
	RecommendationRate  float64 `json:"recommendation_rate"`
}

// Inputs carries the raw counts and ratios for one subject over the
// rolling windows. Raw data is owned by external collaborators and is
// read-only here.
type Inputs struct {
	Category string `json:"category"`

	// Ratio KPIs.
	Returns90      int `json:"returns_90"`
	Orders90       int `json:"orders_90"`
	Disputes180    int `json:"disputes_180"`
	Orders180      int `json:"orders_180"`
	Chargebacks180 int `json:"chargebacks_180"`

	// Fit hint.
	SizeReturns      int `json:"size_returns"`
	ReturnsTotal     int `json:"returns_total"`
	SizeExchanges    int `json:"size_exchanges"`
	AdvisorPurchases int `json:"advisor_purchases"`
	PurchasesTotal   int `json:"purchases_total"`
	FitPositive      int `json:"fit_positive"`
	FitReviews       int `json:"fit_reviews"`

	// Reliability.
	WarrantyClaims int `json:"warranty_claims"`
	SupportTickets int `json:"support_tickets"`
	QualityReturns int `json:"quality_returns"`
	UnitsSold      int `json:"units_sold"`

	// Performance sub-metrics, already normalized to [0,1] per category
	// convention. Keys must match the category's weight table.
	PerformanceMetrics map[string]float64 `json:"performance_metrics"`
	PerformanceSamples int                `json:"performance_samples"`

	// Owner satisfaction.
	Recent90 SatisfactionWindow `json:"recent_90"`
	AllTime  SatisfactionWindow `json:"all_time"`
}

// Calculator computes the KPI set. Stateless; safe for concurrent use.
type Calculator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Calculator {
	return &Calculator{logger: logger}
}

// ReturnRate is the simple return ratio over the 90-day window.
// Withheld below 10 orders.
func (c *Calculator) ReturnRate(in Inputs, p *config.Params, now time.Time) (*signal.Signal, *signal.Withheld, error) {
	return c.ratio(signal.NameReturnRate, in.Returns90, in.Orders90,
		p.MinSampleReturnRate, p.WindowReturnRate, "returns_data", p, now)
}

// DisputeRate is the dispute ratio over the 180-day window.
// Withheld below 50 orders.
func (c *Calculator) DisputeRate(in Inputs, p *config.Params, now time.Time) (*signal.Signal, *signal.Withheld, error) {
	return c.ratio(signal.NameDisputeRate, in.Disputes180, in.Orders180,
		p.MinSampleDisputeRate, p.WindowDisputeRate, "dispute_ledger", p, now)
}

// ChargebackRate is the chargeback ratio over the 180-day window.
// Withheld below 100 orders.
func (c *Calculator) ChargebackRate(in Inputs, p *config.Params, now time.Time) (*signal.Signal, *signal.Withheld, error) {
	return c.ratio(signal.NameChargebackRate, in.Chargebacks180, in.Orders180,
		p.MinSampleChargebackRate, p.WindowChargebackRate, "payment_processor", p, now)
}

func (c *Calculator) ratio(name string, count, total, minSample, windowDays int, evidenceKind string, p *config.Params, now time.Time) (*signal.Signal, *signal.Withheld, error) {
	if count < 0 {
		return nil, nil, &InputError{Field: name + ".count", Value: float64(count)}
	}
	if total < 0 {
		return nil, nil, &InputError{Field: name + ".total", Value: float64(total)}
	}
	if count > total {
		return nil, nil, &InputError{Field: name + ".count", Value: float64(count)}
	}
	if total < minSample {
		c.logger.Debug("withholding signal", "signal", name, "sample_size", total, "minimum", minSample)
		return nil, &signal.Withheld{
			Name:       name,
			Reason:     signal.ReasonSampleBelowMinimum,
			SampleSize: total,
			Minimum:    minSample,
		}, nil
	}

	value := float64(count) / float64(total)
	return &signal.Signal{
		Name:       name,
		Value:      round2(value),
		SampleSize: total,
		Confidence: sampleConfidence(total),
		Method:     signal.MethodWilsonScore,
		WindowDays: windowDays,
		Evidence: []signal.EvidenceRef{
			{Kind: evidenceKind, Reference: fmt.Sprintf("%s:%dd:%d/%d", name, windowDays, count, total)},
		},
		CalculatedAt: now,
		TTLSeconds:   p.SignalTTLSeconds,
	}, nil, nil
}

// FitHint scores sizing accuracy from return, exchange, advisor and review
// fit data. Signed contributions feed a clamped sigmoid so extreme rates
// cannot saturate the composite.
func (c *Calculator) FitHint(in Inputs, p *config.Params, now time.Time) (*signal.Signal, *signal.Withheld, error) {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"size_returns", in.SizeReturns},
		{"returns_total", in.ReturnsTotal},
		{"size_exchanges", in.SizeExchanges},
		{"advisor_purchases", in.AdvisorPurchases},
		{"purchases_total", in.PurchasesTotal},
		{"fit_positive", in.FitPositive},
		{"fit_reviews", in.FitReviews},
	} {
		if f.value < 0 {
			return nil, nil, &InputError{Field: "fit_hint." + f.name, Value: float64(f.value)}
		}
	}
	if in.PurchasesTotal < p.MinSampleReturnRate {
		return nil, &signal.Withheld{
			Name:       signal.NameFitHint,
			Reason:     signal.ReasonSampleBelowMinimum,
			SampleSize: in.PurchasesTotal,
			Minimum:    p.MinSampleReturnRate,
		}, nil
	}

	sizeReturnRate := safeRate(in.SizeReturns, in.ReturnsTotal)
	exchangeRate := safeRate(in.SizeExchanges, in.PurchasesTotal)
	advisorRate := safeRate(in.AdvisorPurchases, in.PurchasesTotal)
	fitPositiveRate := safeRate(in.FitPositive, in.FitReviews)

	raw := -0.4*sizeReturnRate - 0.2*exchangeRate + 0.2*advisorRate + 0.2*fitPositiveRate
	raw = stats.Clamp(raw, -p.SigmoidClamp, p.SigmoidClamp)
	value := stats.Sigmoid(raw)

	return &signal.Signal{
		Name:       signal.NameFitHint,
		Value:      round2(value),
		SampleSize: in.PurchasesTotal,
		Confidence: sampleConfidence(in.PurchasesTotal),
		Method:     signal.MethodWeightedDecay,
		WindowDays: 180,
		Evidence: []signal.EvidenceRef{
			{Kind: "returns_data", Reference: fmt.Sprintf("size_return_rate:%.4f", sizeReturnRate)},
			{Kind: "purchase_behavior", Reference: fmt.Sprintf("advisor_usage_rate:%.4f", advisorRate)},
			{Kind: "review_analysis", Reference: fmt.Sprintf("fit_positive_rate:%.4f", fitPositiveRate)},
		},
		CalculatedAt: now,
		TTLSeconds:   p.SignalTTLSeconds,
	}, nil, nil
}

// Reliability is one minus the weighted failure rate, with each failure
// rate normalized against the category baseline and clamped to [0,1]
// before weighting.
func (c *Calculator) Reliability(in Inputs, p *config.Params, now time.Time) (*signal.Signal, *signal.Withheld, error) {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"warranty_claims", in.WarrantyClaims},
		{"support_tickets", in.SupportTickets},
		{"quality_returns", in.QualityReturns},
		{"units_sold", in.UnitsSold},
	} {
		if f.value < 0 {
			return nil, nil, &InputError{Field: "reliability." + f.name, Value: float64(f.value)}
		}
	}
	if in.UnitsSold < p.MinSampleReturnRate {
		return nil, &signal.Withheld{
			Name:       signal.NameReliability,
			Reason:     signal.ReasonSampleBelowMinimum,
			SampleSize: in.UnitsSold,
			Minimum:    p.MinSampleReturnRate,
		}, nil
	}

	base := p.Baseline(in.Category)
	units := float64(in.UnitsSold)

	warranty := normAgainstBaseline(float64(in.WarrantyClaims)/units, base.WarrantyClaimRate)
	support := normAgainstBaseline(float64(in.SupportTickets)/units, base.SupportTicketRate)
	quality := normAgainstBaseline(float64(in.QualityReturns)/units, base.QualityReturnRate)

	weightedFailure := 0.5*warranty + 0.3*support + 0.2*quality
	value := 1 - weightedFailure

	return &signal.Signal{
		Name:       signal.NameReliability,
		Value:      round2(value),
		SampleSize: in.UnitsSold,
		Confidence: sampleConfidence(in.UnitsSold),
		Method:     signal.MethodWeightedDecay,
		WindowDays: 365,
		Evidence: []signal.EvidenceRef{
			{Kind: "warranty_system", Reference: fmt.Sprintf("warranty_claim_rate_norm:%.4f", warranty)},
			{Kind: "support_system", Reference: fmt.Sprintf("support_ticket_rate_norm:%.4f", support)},
			{Kind: "returns_data", Reference: fmt.Sprintf("quality_return_rate_norm:%.4f", quality)},
		},
		CalculatedAt: now,
		TTLSeconds:   p.SignalTTLSeconds,
	}, nil, nil
}

// Performance is the category-weighted average of normalized sub-metrics.
// The category to weight-table mapping lives in Params; adding a category
// is a data change. Metrics without a weight are ignored; weights without
// a metric drop out of the normalization.
func (c *Calculator) Performance(in Inputs, p *config.Params, now time.Time) (*signal.Signal, *signal.Withheld, error) {
	if len(in.PerformanceMetrics) == 0 || in.PerformanceSamples <= 0 {
		return nil, &signal.Withheld{
			Name:       signal.NamePerformance,
			Reason:     signal.ReasonNoData,
			SampleSize: in.PerformanceSamples,
		}, nil
	}
	for name, v := range in.PerformanceMetrics {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, nil, &InputError{Field: "performance." + name, Value: v}
		}
	}

	weights, ok := p.PerformanceWeights[in.Category]
	var value float64
	var evidence []signal.EvidenceRef
	if ok {
		var weightedSum, weightSum float64
		for metric, w := range weights {
			v, present := in.PerformanceMetrics[metric]
			if !present {
				continue
			}
			v = stats.Clamp01(v)
			weightedSum += w * v
			weightSum += w
			evidence = append(evidence, signal.EvidenceRef{
				Kind:      "lab_test",
				Reference: fmt.Sprintf("%s:%.4f", metric, v),
			})
		}
		if weightSum == 0 {
			return nil, &signal.Withheld{
				Name:       signal.NamePerformance,
				Reason:     signal.ReasonNoData,
				SampleSize: in.PerformanceSamples,
			}, nil
		}
		value = weightedSum / weightSum
	} else {
		// Unknown category: plain average of whatever was measured.
		c.logger.Debug("no performance weight table for category", "category", in.Category)
		var sum float64
		for metric, v := range in.PerformanceMetrics {
			v = stats.Clamp01(v)
			sum += v
			evidence = append(evidence, signal.EvidenceRef{
				Kind:      "lab_test",
				Reference: fmt.Sprintf("%s:%.4f", metric, v),
			})
		}
		value = sum / float64(len(in.PerformanceMetrics))
	}

	return &signal.Signal{
		Name:         signal.NamePerformance,
		Value:        round2(value),
		SampleSize:   in.PerformanceSamples,
		Confidence:   sampleConfidence(in.PerformanceSamples),
		Method:       signal.MethodWeightedDecay,
		WindowDays:   365,
		Evidence:     evidence,
		CalculatedAt: now,
		TTLSeconds:   p.SignalTTLSeconds,
	}, nil, nil
}

// OwnerSatisfaction blends verified reviews (1.5x), unverified reviews
// (1.0x), repeat purchases (2.0x) and recommendations (1.5x), taking 0.7
// of the recent 90-day window and 0.3 of all time.
func (c *Calculator) OwnerSatisfaction(in Inputs, p *config.Params, now time.Time) (*signal.Signal, *signal.Withheld, error) {
	sample := in.AllTime.VerifiedCount + in.AllTime.UnverifiedCount
	if in.AllTime.VerifiedCount < 0 || in.AllTime.UnverifiedCount < 0 {
		return nil, nil, &InputError{Field: "owner_satisfaction.review_counts", Value: float64(sample)}
	}
	if sample < p.MinSampleReturnRate {
		return nil, &signal.Withheld{
			Name:       signal.NameOwnerSatisfaction,
			Reason:     signal.ReasonSampleBelowMinimum,
			SampleSize: sample,
			Minimum:    p.MinSampleReturnRate,
		}, nil
	}

	recent, err := satisfactionComposite(in.Recent90)
	if err != nil {
		return nil, nil, err
	}
	allTime, err := satisfactionComposite(in.AllTime)
	if err != nil {
		return nil, nil, err
	}
	value := 0.7*recent + 0.3*allTime

	return &signal.Signal{
		Name:       signal.NameOwnerSatisfaction,
		Value:      round2(value),
		SampleSize: sample,
		Confidence: sampleConfidence(sample),
		Method:     signal.MethodWeightedDecay,
		WindowDays: 90,
		Evidence: []signal.EvidenceRef{
			{Kind: "review_system", Reference: fmt.Sprintf("recent_composite:%.4f", recent)},
			{Kind: "review_system", Reference: fmt.Sprintf("all_time_composite:%.4f", allTime)},
			{Kind: "purchase_behavior", Reference: fmt.Sprintf("repeat_purchase_rate:%.4f", in.AllTime.RepeatPurchaseRate)},
		},
		CalculatedAt: now,
		TTLSeconds:   p.SignalTTLSeconds,
	}, nil, nil
}

// satisfactionComposite folds one window's rating and behavior data into a
// [0,1] composite with the fixed source weights.
func satisfactionComposite(w SatisfactionWindow) (float64, error) {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"verified_rating_avg", w.VerifiedRatingAvg},
		{"unverified_rating_avg", w.UnverifiedRatingAvg},
		{"repeat_purchase_rate", w.RepeatPurchaseRate},
		{"recommendation_rate", w.RecommendationRate},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return 0, &InputError{Field: "owner_satisfaction." + f.name, Value: f.value}
		}
	}

	var weightedSum, weightSum float64
	if w.VerifiedCount > 0 {
		weightedSum += 1.5 * ratingToUnit(w.VerifiedRatingAvg)
		weightSum += 1.5
	}
	if w.UnverifiedCount > 0 {
		weightedSum += 1.0 * ratingToUnit(w.UnverifiedRatingAvg)
		weightSum += 1.0
	}
	weightedSum += 2.0 * stats.Clamp01(w.RepeatPurchaseRate)
	weightSum += 2.0
	weightedSum += 1.5 * stats.Clamp01(w.RecommendationRate)
	weightSum += 1.5

	return weightedSum / weightSum, nil
}

// ratingToUnit maps a 1-5 star average onto [0,1].
func ratingToUnit(r float64) float64 {
	return stats.Clamp01((r - 1) / 4)
}

func normAgainstBaseline(rate, baseline float64) float64 {
	if baseline <= 0 {
		return stats.Clamp01(rate)
	}
	return stats.Clamp01(rate / baseline)
}

func safeRate(count, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(count) / float64(total)
}

// sampleConfidence is the Wilson lower bound at full agreement: a
// conservative, sample-size-driven confidence that never reaches 1.0.
func sampleConfidence(n int) float64 {
	return stats.WilsonLowerBound95(n, n)
}

// round2 rounds the public value to 2 decimal places. Full precision is
// kept internally until this final step.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
