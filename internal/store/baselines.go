package store

import (
	"context"
	"fmt"

	"github.com/agentic-exchange/axp/internal/config"
)

// LoadCategoryBaselines reads per-category normalization rates. Callers
// overlay these onto the default reference data and swap via the config
// holder; in-flight jobs keep the params they loaded.
func (s *Store) LoadCategoryBaselines(ctx context.Context) (map[string]config.CategoryBaseline, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, warranty_claim_rate, support_ticket_rate, quality_return_rate, avg_intent_share
		FROM category_baselines`,
	)
	if err != nil {
		return nil, fmt.Errorf("query category baselines: %w", err)
	}
	defer rows.Close()

	out := make(map[string]config.CategoryBaseline)
	for rows.Next() {
		var category string
		var b config.CategoryBaseline
		if err := rows.Scan(&category, &b.WarrantyClaimRate, &b.SupportTicketRate, &b.QualityReturnRate, &b.AvgIntentShare); err != nil {
			return nil, fmt.Errorf("scan category baseline: %w", err)
		}
		out[category] = b
	}
	return out, rows.Err()
}
