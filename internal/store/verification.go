package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-exchange/axp/internal/signal"
	"github.com/agentic-exchange/axp/internal/verify"
)

// WriteVerification persists one trust verification outcome.
func (s *Store) WriteVerification(ctx context.Context, r *signal.TrustVerificationResult) error {
	anomalies, err := json.Marshal(r.Anomalies)
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO verifications (id, subject_id, source, method, confidence, anomalies, evidence, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), r.SubjectID, r.Source, r.Method, r.Confidence, anomalies, r.Evidence, r.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

// ReviewVolumeHistory returns per-day review counts for the spike
// baseline, oldest first, including zero-count days.
func (s *Store) ReviewVolumeHistory(ctx context.Context, subjectID string, days int, now time.Time) ([]verify.DailyCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.day::date, count(r.id)
		FROM generate_series($2::date - ($3 - 1), $2::date, interval '1 day') AS d(day)
		LEFT JOIN reviews r
		  ON r.subject_id = $1 AND r.created_at::date = d.day::date
		GROUP BY d.day
		ORDER BY d.day`,
		subjectID, now, days,
	)
	if err != nil {
		return nil, fmt.Errorf("query review history: %w", err)
	}
	defer rows.Close()

	var out []verify.DailyCount
	for rows.Next() {
		var dc verify.DailyCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan review history: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// LatestVerification returns the most recent verification for a
// subject/source pair, or nil when none exists.
func (s *Store) LatestVerification(ctx context.Context, subjectID, source string) (*signal.TrustVerificationResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT subject_id, source, method, confidence, anomalies, evidence, verified_at
		FROM verifications
		WHERE subject_id = $1 AND source = $2
		ORDER BY verified_at DESC LIMIT 1`,
		subjectID, source,
	)

	var r signal.TrustVerificationResult
	var anomalies []byte
	err := row.Scan(&r.SubjectID, &r.Source, &r.Method, &r.Confidence, &anomalies, &r.Evidence, &r.VerifiedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan verification: %w", err)
	}
	if err := json.Unmarshal(anomalies, &r.Anomalies); err != nil {
		return nil, fmt.Errorf("decode anomalies: %w", err)
	}
	return &r, nil
}

// LatestVerifications returns the most recent verification per source for
// a subject.
func (s *Store) LatestVerifications(ctx context.Context, subjectID string) ([]signal.TrustVerificationResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (source)
		       subject_id, source, method, confidence, anomalies, evidence, verified_at
		FROM verifications
		WHERE subject_id = $1
		ORDER BY source, verified_at DESC`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var out []signal.TrustVerificationResult
	for rows.Next() {
		var r signal.TrustVerificationResult
		var anomalies []byte
		if err := rows.Scan(&r.SubjectID, &r.Source, &r.Method, &r.Confidence, &anomalies, &r.Evidence, &r.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		if err := json.Unmarshal(anomalies, &r.Anomalies); err != nil {
			return nil, fmt.Errorf("decode anomalies: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
