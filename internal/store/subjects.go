package store

import (
	"context"
	"fmt"
)

// Subject is one scorable seller/brand with its verification targets.
type Subject struct {
	ID            string
	Category      string
	Domain        string
	ReviewSources []string
}

// ListSubjects pages subjects ordered by id, starting after the given
// cursor. An empty cursor starts from the beginning.
func (s *Store) ListSubjects(ctx context.Context, after string, limit int) ([]Subject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, COALESCE(domain, ''), COALESCE(review_sources, '{}')
		FROM subjects
		WHERE id > $1
		ORDER BY id
		LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.ID, &sub.Category, &sub.Domain, &sub.ReviewSources); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
