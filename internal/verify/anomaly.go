package verify

import (
	"fmt"
	"math"

	"github.com/agentic-exchange/axp/internal/signal"
)

// detectAll runs every rule against fetched statistics. Each rule is
// independently evaluable; a nil expected comparison is skipped by the
// stat rules that need it.
func detectAll(actual *ReviewStats, expected ReviewStats) []signal.Anomaly {
	var anomalies []signal.Anomaly
	anomalies = append(anomalies, DetectStatAnomalies(actual, expected)...)
	anomalies = append(anomalies, DetectVolumeSpikes(actual.History)...)
	anomalies = append(anomalies, DetectDistributionAnomalies(actual.Distribution)...)
	return anomalies
}

// DetectStatAnomalies compares fetched statistics against the claimed
// ones and checks the verified-purchase floor.
func DetectStatAnomalies(actual *ReviewStats, expected ReviewStats) []signal.Anomaly {
	var anomalies []signal.Anomaly

	if expected.AvgRating > 0 {
		diff := math.Abs(actual.AvgRating - expected.AvgRating)
		if diff > 0.5 {
			anomalies = append(anomalies, signal.Anomaly{
				Type:     signal.AnomalyRatingJump,
				Severity: signal.SeverityMedium,
				Detail:   fmt.Sprintf("rating discrepancy of %.1f stars against claimed average", diff),
			})
		}
	}

	if expected.TotalReviews > 0 && float64(actual.TotalReviews) > float64(expected.TotalReviews)*1.5 {
		anomalies = append(anomalies, signal.Anomaly{
			Type:     signal.AnomalyCountExplosion,
			Severity: signal.SeverityMedium,
			Detail:   fmt.Sprintf("review count %d exceeds claimed %d by more than 50%%", actual.TotalReviews, expected.TotalReviews),
		})
	}

	if actual.TotalReviews > 0 && actual.VerifiedRatio < 0.3 {
		anomalies = append(anomalies, signal.Anomaly{
			Type:     signal.AnomalyLowVerifiedRate,
			Severity: signal.SeverityMedium,
			Detail:   fmt.Sprintf("verified purchase rate %.0f%%", actual.VerifiedRatio*100),
		})
	}

	return anomalies
}

// DetectVolumeSpikes flags days more than three standard deviations above
// the rolling baseline. Fewer than three buckets is too little history to
// establish a baseline.
func DetectVolumeSpikes(history []DailyCount) []signal.Anomaly {
	if len(history) < 3 {
		return nil
	}

	counts := make([]float64, len(history))
	for i, h := range history {
		counts[i] = float64(h.Count)
	}
	mean := meanOf(counts)
	std := sampleStdev(counts, mean)
	if std == 0 {
		return nil
	}

	var anomalies []signal.Anomaly
	for i, c := range counts {
		if c > mean+3*std {
			anomalies = append(anomalies, signal.Anomaly{
				Type:     signal.AnomalyReviewSpike,
				Severity: signal.SeverityHigh,
				Detail: fmt.Sprintf("%d reviews on %s against a baseline of %.1f/day",
					history[i].Count, history[i].Day.Format("2006-01-02"), mean),
			})
		}
	}
	return anomalies
}

// DetectDistributionAnomalies checks the 1-5 star histogram for shapes
// organic review populations do not produce.
func DetectDistributionAnomalies(distribution [5]int) []signal.Anomaly {
	total := 0
	for _, c := range distribution {
		total += c
	}
	if total == 0 {
		return nil
	}

	var anomalies []signal.Anomaly

	proportions := make([]float64, 5)
	for i, c := range distribution {
		proportions[i] = float64(c) / float64(total)
	}
	if sampleStdev(proportions, meanOf(proportions)) < 0.05 {
		anomalies = append(anomalies, signal.Anomaly{
			Type:     signal.AnomalyUniformRatings,
			Severity: signal.SeverityHigh,
			Detail:   "rating buckets are near-uniform",
		})
	}

	// Organic distributions are J-shaped or normal; a hollow middle with
	// heavy ends indicates competing manipulation.
	if float64(distribution[2]) < float64(distribution[0])*0.5 &&
		float64(distribution[2]) < float64(distribution[4])*0.5 &&
		distribution[0] > 0 && distribution[4] > 0 {
		anomalies = append(anomalies, signal.Anomaly{
			Type:     signal.AnomalyBimodalRatings,
			Severity: signal.SeverityHigh,
			Detail:   "3-star bucket under half of both 1-star and 5-star buckets",
		})
	}

	if fiveShare := float64(distribution[4]) / float64(total); fiveShare > 0.7 {
		anomalies = append(anomalies, signal.Anomaly{
			Type:     signal.AnomalyFiveStarDominance,
			Severity: signal.SeverityMedium,
			Detail:   fmt.Sprintf("%.0f%% five-star ratings", fiveShare*100),
		})
	}

	return anomalies
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdev is the n-1 standard deviation.
func sampleStdev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}
