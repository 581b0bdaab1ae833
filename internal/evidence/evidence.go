// Package evidence packages verified signals for external consumption.
// Two tiers: a public bundle capped at 32KB that degrades by dropping
// optional fields in priority order, and a sealed bundle capped at 1MB
// that is compressed and encrypted for a single recipient. Anomaly flags
// are never dropped from the public tier.
package evidence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentic-exchange/axp/internal/signal"
)

// Retention defaults in days. Public evidence outlives sealed evidence;
// high-value tiers keep public bundles longer.
const (
	RetentionSealedDays       = 90
	RetentionPublicDays       = 365
	RetentionPublicHighValue  = 730
)

// TooLargeError reports a bundle that cannot fit its size tier even after
// every optional field was dropped. Field names the largest remaining
// contributor.
type TooLargeError struct {
	Field string
	Size  int
	Limit int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("evidence: bundle exceeds %d bytes (%d), largest field %q", e.Limit, e.Size, e.Field)
}

// PublicBundle is the openly shared evidence for one subject.
type PublicBundle struct {
	SubjectID     string                           `json:"subject_id"`
	Signals       []signal.Signal                  `json:"signals"`
	Withheld      []signal.Withheld                `json:"withheld,omitempty"`
	Intents       []signal.FusedIntentSignal       `json:"intents,omitempty"`
	Verifications []signal.TrustVerificationResult `json:"verifications,omitempty"`
	Anomalies     []signal.Anomaly                 `json:"anomalies,omitempty"`
	AssembledAt   time.Time                        `json:"assembled_at"`
	RetentionDays int                              `json:"retention_days"`
}

// AssemblePublic serializes the bundle under the size limit. When the
// full bundle does not fit, optional fields are dropped lowest priority
// first: secondary evidence references, withheld records, intent shares,
// then verification detail. Signals and anomaly flags always survive.
func AssemblePublic(b PublicBundle, limit int) ([]byte, error) {
	if b.RetentionDays == 0 {
		b.RetentionDays = RetentionPublicDays
	}

	drops := []func(*PublicBundle){
		trimSecondaryEvidence,
		dropWithheld,
		dropIntents,
		trimVerifications,
	}

	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("evidence: marshal public bundle: %w", err)
	}
	for _, drop := range drops {
		if len(data) <= limit {
			return data, nil
		}
		drop(&b)
		if data, err = json.Marshal(b); err != nil {
			return nil, fmt.Errorf("evidence: marshal public bundle: %w", err)
		}
	}
	if len(data) <= limit {
		return data, nil
	}
	return nil, &TooLargeError{Field: largestField(b), Size: len(data), Limit: limit}
}

// trimSecondaryEvidence keeps only the first evidence reference per
// signal. One reference is the floor: the value/evidence invariant holds.
// The signal structs are copied first so the caller's emitted signals stay
// intact.
func trimSecondaryEvidence(b *PublicBundle) {
	signals := make([]signal.Signal, len(b.Signals))
	copy(signals, b.Signals)
	for i := range signals {
		if len(signals[i].Evidence) > 1 {
			signals[i].Evidence = signals[i].Evidence[:1]
		}
	}
	b.Signals = signals
}

func dropWithheld(b *PublicBundle) {
	b.Withheld = nil
}

func dropIntents(b *PublicBundle) {
	b.Intents = nil
}

// trimVerifications keeps the verdicts but discards free-form detail.
// Anomaly type and severity stay; they are the flags consumers act on.
// Copies all the way down: anomaly slices are shared with the caller.
func trimVerifications(b *PublicBundle) {
	verifications := make([]signal.TrustVerificationResult, len(b.Verifications))
	copy(verifications, b.Verifications)
	for i := range verifications {
		verifications[i].Evidence = ""
		verifications[i].Anomalies = trimAnomalies(verifications[i].Anomalies)
	}
	b.Verifications = verifications
	b.Anomalies = trimAnomalies(b.Anomalies)
}

func trimAnomalies(in []signal.Anomaly) []signal.Anomaly {
	out := make([]signal.Anomaly, len(in))
	copy(out, in)
	for i := range out {
		out[i].Detail = ""
	}
	return out
}

func largestField(b PublicBundle) string {
	fields := map[string]any{
		"signals":       b.Signals,
		"withheld":      b.Withheld,
		"intents":       b.Intents,
		"verifications": b.Verifications,
		"anomalies":     b.Anomalies,
	}
	largest, size := "signals", -1
	for name, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if len(data) > size {
			largest, size = name, len(data)
		}
	}
	return largest
}
