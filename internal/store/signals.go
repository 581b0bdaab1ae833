package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentic-exchange/axp/internal/signal"
)

// WriteSignals persists one computation cycle's signals, withheld records
// and fused intents in a single transaction. A recomputation supersedes
// the previous cycle; prior rows stay for audit.
func (s *Store) WriteSignals(ctx context.Context, subjectID string, cycleID uuid.UUID, signals []signal.Signal, withheld []signal.Withheld, intents []signal.FusedIntentSignal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, sig := range signals {
		evidence, err := json.Marshal(sig.Evidence)
		if err != nil {
			return fmt.Errorf("marshal evidence for %s: %w", sig.Name, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO signals (id, cycle_id, subject_id, name, value, sample_size, confidence,
			                     method, window_days, evidence, calculated_at, ttl_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			uuid.New(), cycleID, subjectID, sig.Name, sig.Value, sig.SampleSize, sig.Confidence,
			sig.Method, sig.WindowDays, evidence, sig.CalculatedAt, sig.TTLSeconds,
		)
		if err != nil {
			return fmt.Errorf("insert signal %s: %w", sig.Name, err)
		}
	}

	for _, w := range withheld {
		_, err := tx.Exec(ctx, `
			INSERT INTO withheld_signals (id, cycle_id, subject_id, name, reason, sample_size, minimum)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), cycleID, subjectID, w.Name, w.Reason, w.SampleSize, w.Minimum,
		)
		if err != nil {
			return fmt.Errorf("insert withheld %s: %w", w.Name, err)
		}
	}

	for _, fi := range intents {
		_, err := tx.Exec(ctx, `
			INSERT INTO fused_intents (id, cycle_id, subject_id, intent, share, confidence, sample_size, window_days, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			uuid.New(), cycleID, subjectID, fi.Intent, fi.Share, fi.Confidence, fi.SampleSize, fi.WindowDays,
		)
		if err != nil {
			return fmt.Errorf("insert fused intent %s: %w", fi.Intent, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestIntents returns the most recent cycle's fused intents for a subject.
func (s *Store) LatestIntents(ctx context.Context, subjectID string) ([]signal.FusedIntentSignal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT intent, share, confidence, sample_size, window_days
		FROM fused_intents
		WHERE subject_id = $1
		  AND cycle_id = (SELECT cycle_id FROM fused_intents WHERE subject_id = $1
		                  ORDER BY created_at DESC LIMIT 1)
		ORDER BY share DESC`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fused intents: %w", err)
	}
	defer rows.Close()

	var out []signal.FusedIntentSignal
	for rows.Next() {
		var fi signal.FusedIntentSignal
		if err := rows.Scan(&fi.Intent, &fi.Share, &fi.Confidence, &fi.SampleSize, &fi.WindowDays); err != nil {
			return nil, fmt.Errorf("scan fused intent: %w", err)
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

// LatestSignals returns the most recent cycle's signals for a subject.
func (s *Store) LatestSignals(ctx context.Context, subjectID string) ([]signal.Signal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, value, sample_size, confidence, method, window_days, evidence, calculated_at, ttl_seconds
		FROM signals
		WHERE subject_id = $1
		  AND cycle_id = (SELECT cycle_id FROM signals WHERE subject_id = $1
		                  ORDER BY calculated_at DESC LIMIT 1)`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []signal.Signal
	for rows.Next() {
		var sig signal.Signal
		var evidence []byte
		if err := rows.Scan(&sig.Name, &sig.Value, &sig.SampleSize, &sig.Confidence,
			&sig.Method, &sig.WindowDays, &evidence, &sig.CalculatedAt, &sig.TTLSeconds); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		if err := json.Unmarshal(evidence, &sig.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence for %s: %w", sig.Name, err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}
