// Package intent extracts per-source intent observations from raw shop
// data and fuses them into a normalized intent-share distribution.
package intent

import (
	"log/slog"
	"sort"
	"time"

	"github.com/agentic-exchange/axp/internal/config"
	"github.com/agentic-exchange/axp/internal/signal"
	"github.com/agentic-exchange/axp/internal/stats"
)

// Fuser combines weighted, decayed per-source intent observations into
// fused intent shares. Stateless per call; safe for concurrent use.
type Fuser struct {
	logger *slog.Logger
}

func NewFuser(logger *slog.Logger) *Fuser {
	return &Fuser{logger: logger}
}

// Fuse runs one fusion pass over a batch of observations for one subject.
// The category selects the baseline intent share used as the smoothing
// prior; unknown categories fall back to the generic baseline.
//
// Source base weights renormalize proportionally over the sources actually
// present, so a missing source never biases totals low. Shares across the
// returned intents sum to at most 1; residual unclassified mass is not
// redistributed. Intents below the minimum sample size are withheld, not
// zeroed.
func (f *Fuser) Fuse(obs []signal.IntentObservation, category string, params *config.Params, now time.Time, windowDays int) ([]signal.FusedIntentSignal, []signal.Withheld) {
	if len(obs) == 0 {
		return nil, nil
	}

	weights := renormalizedWeights(obs, params)

	rawScores := make(map[string]float64)
	supporting := make(map[string]int)
	total := 0

	for _, o := range obs {
		w, ok := weights[o.Source]
		if !ok {
			f.logger.Warn("unknown intent source, skipping observation", "source", o.Source, "intent", o.Intent)
			continue
		}

		ageDays := now.Sub(o.ObservedAt).Hours() / 24
		decay, err := stats.DecayWeight(ageDays, params.HalfLifeForSource(o.Source))
		if err != nil {
			// Malformed observation aborts only that item, never the batch.
			f.logger.Warn("dropping observation with bad age", "intent", o.Intent, "source", o.Source, "error", err)
			continue
		}

		rawScores[o.Intent] += o.RawStrength * w * decay
		supporting[o.Intent]++
		total++
	}

	if total == 0 {
		return nil, nil
	}

	var rawSum float64
	for _, s := range rawScores {
		rawSum += s
	}
	if rawSum <= 0 {
		return nil, nil
	}

	// Smooth each intent's raw share toward the category average share.
	smoothed := make(map[string]float64, len(rawScores))
	var smoothedSum float64
	prior := params.Baseline(category).AvgIntentShare
	for intent, raw := range rawScores {
		s, err := stats.DirichletSmooth(raw/rawSum, total, params.IntentAlpha, prior)
		if err != nil {
			f.logger.Warn("smoothing failed for intent", "intent", intent, "error", err)
			continue
		}
		smoothed[intent] = s
		smoothedSum += s
	}

	// Scale down only if smoothing pushed the sum past 1. Any shortfall
	// stays as unclassified mass.
	scale := 1.0
	if smoothedSum > 1 {
		scale = 1 / smoothedSum
	}

	var fused []signal.FusedIntentSignal
	var withheld []signal.Withheld
	for intent, share := range smoothed {
		n := supporting[intent]
		if n < params.IntentMinSample {
			f.logger.Info("intent withheld below minimum sample",
				"intent", intent, "sample_size", n, "minimum", params.IntentMinSample)
			withheld = append(withheld, signal.Withheld{
				Name:       intent,
				Reason:     signal.ReasonSampleBelowMinimum,
				SampleSize: n,
				Minimum:    params.IntentMinSample,
			})
			continue
		}
		fused = append(fused, signal.FusedIntentSignal{
			Intent:     intent,
			Share:      share * scale,
			Confidence: stats.WilsonLowerBound95(n, total),
			SampleSize: n,
			WindowDays: windowDays,
		})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Share != fused[j].Share {
			return fused[i].Share > fused[j].Share
		}
		return fused[i].Intent < fused[j].Intent
	})
	return fused, withheld
}

// renormalizedWeights returns the source base weights rescaled over the
// sources present in the batch so they still sum to 1.0.
func renormalizedWeights(obs []signal.IntentObservation, params *config.Params) map[string]float64 {
	present := make(map[string]bool)
	for _, o := range obs {
		present[o.Source] = true
	}

	var presentSum float64
	for source, w := range params.SourceWeights {
		if present[source] {
			presentSum += w
		}
	}
	if presentSum == 0 {
		return map[string]float64{}
	}

	out := make(map[string]float64, len(present))
	for source, w := range params.SourceWeights {
		if present[source] {
			out[source] = w / presentSum
		}
	}
	return out
}
