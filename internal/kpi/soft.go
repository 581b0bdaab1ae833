package kpi

import (
	"fmt"
	"time"

	"github.com/agentic-exchange/axp/internal/config"
	"github.com/agentic-exchange/axp/internal/signal"
	"github.com/agentic-exchange/axp/internal/stats"
)

// SoftInputs carries the differentiation-score raw data: catalog facts,
// market positioning and review aspect rates. Unlike the trust KPIs these
// are mostly declarative product attributes, so missing fields degrade
// the score instead of withholding it.
type SoftInputs struct {
	// Uniqueness.
	RareFeatureCount  int     `json:"rare_feature_count"`
	TotalFeatureCount int     `json:"total_feature_count"`
	LimitedEdition    bool    `json:"limited_edition"`
	StockScarcity     float64 `json:"stock_scarcity"`    // [0,1]
	PricePercentile   float64 `json:"price_percentile"`  // 0-100 within category

	// Craftsmanship.
	MaterialGrade        string  `json:"material_grade"` // premium, high, standard, basic
	OriginReputation     float64 `json:"origin_reputation"`
	WarrantyDays         int     `json:"warranty_days"`
	ReviewQualityAspect  float64 `json:"review_quality_aspect"`
	CraftsmanshipMention float64 `json:"craftsmanship_mention_rate"`

	// Sustainability.
	Certifications       int     `json:"certifications"`
	RecycledPercent      float64 `json:"recycled_percent"` // 0-100
	CarbonKg             float64 `json:"carbon_kg"`
	CategoryAvgCarbonKg  float64 `json:"category_avg_carbon_kg"`
	SustainablePackaging bool    `json:"sustainable_packaging"`
	SupplyChainScore     float64 `json:"supply_chain_score"`

	// Innovation.
	NewFeatureCount int  `json:"new_feature_count"`
	PatentCount     int  `json:"patent_count"`
	AwardCount      int  `json:"award_count"`
	PressMentions   int  `json:"press_mentions"`
	CuttingEdgeTech bool `json:"cutting_edge_tech"`
	TechGeneration  int  `json:"tech_generation"` // 1 current, 2 next-gen
	FirstInCategory bool `json:"first_in_category"`

	// Sample backing the review-derived aspects.
	ReviewSamples int `json:"review_samples"`
}

var materialGradeScores = map[string]float64{
	"premium":  0.9,
	"high":     0.7,
	"standard": 0.5,
	"basic":    0.3,
}

// Uniqueness scores market differentiation from feature rarity, scarcity
// and price positioning.
func (c *Calculator) Uniqueness(in SoftInputs, p *config.Params, now time.Time) (*signal.Signal, error) {
	totalFeatures := in.TotalFeatureCount
	if totalFeatures < 1 {
		totalFeatures = 10
	}
	featureRarity := stats.Clamp01(float64(in.RareFeatureCount) / float64(totalFeatures))
	pricePercentile := stats.Clamp01(in.PricePercentile / 100)

	composite := featureRarity*0.4 +
		boolScore(in.LimitedEdition)*0.2 +
		stats.Clamp01(in.StockScarcity)*0.2 +
		pricePercentile*0.2
	value := stats.Sigmoid(composite)

	return c.softSignal(signal.NameUniqueness, value, in, now, p, []signal.EvidenceRef{
		{Kind: "market_analysis", Reference: fmt.Sprintf("feature_rarity:%.4f", featureRarity)},
		{Kind: "market_analysis", Reference: fmt.Sprintf("price_percentile:%.4f", pricePercentile)},
	}), nil
}

// Craftsmanship scores build quality from material grade, origin and
// warranty length, and review quality aspects.
func (c *Calculator) Craftsmanship(in SoftInputs, p *config.Params, now time.Time) (*signal.Signal, error) {
	material, ok := materialGradeScores[in.MaterialGrade]
	if !ok {
		material = materialGradeScores["standard"]
	}
	// Two years of warranty counts as full quality commitment.
	warranty := stats.Clamp01(float64(in.WarrantyDays) / 730)

	composite := material*0.3 +
		stats.Clamp01(in.OriginReputation)*0.2 +
		warranty*0.2 +
		stats.Clamp01(in.ReviewQualityAspect)*0.2 +
		stats.Clamp01(in.CraftsmanshipMention)*0.1
	value := stats.Sigmoid(composite)

	return c.softSignal(signal.NameCraftsmanship, value, in, now, p, []signal.EvidenceRef{
		{Kind: "product_specs", Reference: fmt.Sprintf("material_grade:%s", in.MaterialGrade)},
		{Kind: "product_specs", Reference: fmt.Sprintf("warranty_days:%d", in.WarrantyDays)},
		{Kind: "review_analysis", Reference: fmt.Sprintf("quality_aspect:%.4f", in.ReviewQualityAspect)},
	}), nil
}

// Sustainability scores environmental standing. This one stays linear:
// certifications and recycled content are already commensurable shares,
// a logistic squash would only blur them.
func (c *Calculator) Sustainability(in SoftInputs, p *config.Params, now time.Time) (*signal.Signal, error) {
	if in.CarbonKg < 0 || in.RecycledPercent < 0 || in.RecycledPercent > 100 {
		return nil, &InputError{Field: "sustainability.inputs", Value: in.CarbonKg}
	}
	certScore := stats.Clamp01(float64(in.Certifications) / 3)
	recycled := in.RecycledPercent / 100

	carbonScore := 0.0
	if in.CategoryAvgCarbonKg > 0 {
		carbonScore = stats.Clamp01(1 - in.CarbonKg/in.CategoryAvgCarbonKg)
	}

	value := stats.Clamp01(certScore*0.3 +
		recycled*0.25 +
		carbonScore*0.2 +
		boolScore(in.SustainablePackaging)*0.1 +
		stats.Clamp01(in.SupplyChainScore)*0.15)

	return c.softSignal(signal.NameSustainability, value, in, now, p, []signal.EvidenceRef{
		{Kind: "product_specs", Reference: fmt.Sprintf("recycled_content:%.4f", recycled)},
		{Kind: "lca_analysis", Reference: fmt.Sprintf("carbon_relative:%.4f", carbonScore)},
		{Kind: "certification_registry", Reference: fmt.Sprintf("certifications:%d", in.Certifications)},
	}), nil
}

// Innovation scores novelty from features, patents, recognition and
// technology generation.
func (c *Calculator) Innovation(in SoftInputs, p *config.Params, now time.Time) (*signal.Signal, error) {
	techGen := float64(in.TechGeneration - 1)
	if techGen < 0 {
		techGen = 0
	}
	composite := stats.Clamp01(float64(in.NewFeatureCount)/3)*0.25 +
		stats.Clamp01(float64(in.PatentCount)/2)*0.2 +
		stats.Clamp01(float64(in.AwardCount)/2)*0.15 +
		stats.Clamp01(float64(in.PressMentions)/10)*0.1 +
		boolScore(in.CuttingEdgeTech)*0.15 +
		techGen*0.1 +
		boolScore(in.FirstInCategory)*0.05
	value := stats.Sigmoid(composite)

	return c.softSignal(signal.NameInnovation, value, in, now, p, []signal.EvidenceRef{
		{Kind: "patent_database", Reference: fmt.Sprintf("patents:%d", in.PatentCount)},
		{Kind: "press_index", Reference: fmt.Sprintf("mentions:%d", in.PressMentions)},
	}), nil
}

func (c *Calculator) softSignal(name string, value float64, in SoftInputs, now time.Time, p *config.Params, evidence []signal.EvidenceRef) *signal.Signal {
	sample := in.ReviewSamples
	if sample < 1 {
		sample = 1 // declarative attributes always back at least themselves
	}
	return &signal.Signal{
		Name:         name,
		Value:        round2(value),
		SampleSize:   sample,
		Confidence:   sampleConfidence(sample),
		Method:       signal.MethodWeightedDecay,
		WindowDays:   365,
		Evidence:     evidence,
		CalculatedAt: now,
		TTLSeconds:   p.SignalTTLSeconds,
	}
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
