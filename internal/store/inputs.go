package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentic-exchange/axp/internal/intent"
	"github.com/agentic-exchange/axp/internal/kpi"
)

// RawIntentInputs is everything the intent extractors consume for one
// subject since a cutoff.
type RawIntentInputs struct {
	Orders       []intent.Order
	Returns      []intent.Return
	Events       []intent.BehaviorEvent
	Texts        []intent.TextDoc
	Acquisitions []intent.Acquisition
}

// LoadIntentInputs reads the raw behavioral, transactional and text data
// for one subject. Rows older than the cutoff are excluded; decay handles
// recency inside the window.
func (s *Store) LoadIntentInputs(ctx context.Context, subjectID string, since time.Time) (*RawIntentInputs, error) {
	var in RawIntentInputs

	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.created_at, o.gift_wrap, COALESCE(o.gift_message, '')
		FROM orders o
		WHERE o.subject_id = $1 AND o.created_at >= $2
		ORDER BY o.created_at`,
		subjectID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	orderIDs := make([]string, 0, 16)
	for rows.Next() {
		var id string
		var o intent.Order
		if err := rows.Scan(&id, &o.CreatedAt, &o.GiftWrap, &o.GiftMessage); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orderIDs = append(orderIDs, id)
		in.Orders = append(in.Orders, o)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate orders: %w", rows.Err())
	}

	if len(orderIDs) > 0 {
		itemRows, err := s.pool.Query(ctx, `
			SELECT order_id, category FROM order_items WHERE order_id = ANY($1)`,
			orderIDs,
		)
		if err != nil {
			return nil, fmt.Errorf("query order items: %w", err)
		}
		byOrder := make(map[string][]intent.OrderItem, len(orderIDs))
		for itemRows.Next() {
			var orderID string
			var item intent.OrderItem
			if err := itemRows.Scan(&orderID, &item.Category); err != nil {
				itemRows.Close()
				return nil, fmt.Errorf("scan order item: %w", err)
			}
			byOrder[orderID] = append(byOrder[orderID], item)
		}
		itemRows.Close()
		if itemRows.Err() != nil {
			return nil, fmt.Errorf("iterate order items: %w", itemRows.Err())
		}
		for i, id := range orderIDs {
			in.Orders[i].Items = byOrder[id]
		}
	}

	if in.Returns, err = scanRows(ctx, s, `
		SELECT reason, created_at FROM returns
		WHERE subject_id = $1 AND created_at >= $2`,
		subjectID, since,
		func(scan scanFunc) (intent.Return, error) {
			var r intent.Return
			err := scan(&r.Reason, &r.CreatedAt)
			return r, err
		},
	); err != nil {
		return nil, fmt.Errorf("load returns: %w", err)
	}

	if in.Events, err = scanRows(ctx, s, `
		SELECT event_type, COALESCE(guide_type, ''), observed_at FROM behavior_events
		WHERE subject_id = $1 AND observed_at >= $2`,
		subjectID, since,
		func(scan scanFunc) (intent.BehaviorEvent, error) {
			var e intent.BehaviorEvent
			err := scan(&e.Type, &e.GuideType, &e.ObservedAt)
			return e, err
		},
	); err != nil {
		return nil, fmt.Errorf("load behavior events: %w", err)
	}

	if in.Texts, err = scanRows(ctx, s, `
		SELECT body, source, verified_purchase, created_at FROM text_documents
		WHERE subject_id = $1 AND created_at >= $2`,
		subjectID, since,
		func(scan scanFunc) (intent.TextDoc, error) {
			var d intent.TextDoc
			err := scan(&d.Text, &d.Source, &d.VerifiedPurchase, &d.CreatedAt)
			return d, err
		},
	); err != nil {
		return nil, fmt.Errorf("load text documents: %w", err)
	}

	if in.Acquisitions, err = scanRows(ctx, s, `
		SELECT COALESCE(utm_campaign, ''), COALESCE(utm_source, ''), COALESCE(utm_term, ''),
		       COALESCE(landing_page, ''), created_at
		FROM acquisitions
		WHERE subject_id = $1 AND created_at >= $2`,
		subjectID, since,
		func(scan scanFunc) (intent.Acquisition, error) {
			var a intent.Acquisition
			err := scan(&a.UTMCampaign, &a.UTMSource, &a.UTMTerm, &a.LandingPage, &a.CreatedAt)
			return a, err
		},
	); err != nil {
		return nil, fmt.Errorf("load acquisitions: %w", err)
	}

	return &in, nil
}

type scanFunc func(dest ...any) error

func scanRows[T any](ctx context.Context, s *Store, query string, subjectID string, since time.Time, scan func(scanFunc) (T, error)) ([]T, error) {
	rows, err := s.pool.Query(ctx, query, subjectID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LoadKPIInputs aggregates the raw counts the KPI calculator consumes.
// Window arithmetic happens in SQL so only aggregates cross the wire.
func (s *Store) LoadKPIInputs(ctx context.Context, subjectID, category string, now time.Time) (*kpi.Inputs, error) {
	in := kpi.Inputs{Category: category}

	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE o.created_at >= $2 - interval '90 days'),
			count(*) FILTER (WHERE o.created_at >= $2 - interval '180 days')
		FROM orders o WHERE o.subject_id = $1`,
		subjectID, now,
	).Scan(&in.Orders90, &in.Orders180)
	if err != nil {
		return nil, fmt.Errorf("aggregate orders: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE r.created_at >= $2 - interval '90 days'),
			count(*),
			count(*) FILTER (WHERE r.reason = 'size_issue'),
			count(*) FILTER (WHERE r.reason = 'quality_expectation')
		FROM returns r WHERE r.subject_id = $1 AND r.created_at >= $2 - interval '180 days'`,
		subjectID, now,
	).Scan(&in.Returns90, &in.ReturnsTotal, &in.SizeReturns, &in.QualityReturns)
	if err != nil {
		return nil, fmt.Errorf("aggregate returns: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE kind = 'dispute'),
			count(*) FILTER (WHERE kind = 'chargeback')
		FROM payment_events
		WHERE subject_id = $1 AND created_at >= $2 - interval '180 days'`,
		subjectID, now,
	).Scan(&in.Disputes180, &in.Chargebacks180)
	if err != nil {
		return nil, fmt.Errorf("aggregate payment events: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE event_type = 'size_exchange'),
			count(*) FILTER (WHERE event_type = 'advisor_purchase'),
			count(*) FILTER (WHERE event_type = 'purchase'),
			count(*) FILTER (WHERE event_type = 'warranty_claim'),
			count(*) FILTER (WHERE event_type = 'support_ticket')
		FROM behavior_events
		WHERE subject_id = $1 AND observed_at >= $2 - interval '180 days'`,
		subjectID, now,
	).Scan(&in.SizeExchanges, &in.AdvisorPurchases, &in.PurchasesTotal, &in.WarrantyClaims, &in.SupportTickets)
	if err != nil {
		return nil, fmt.Errorf("aggregate behavior events: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT coalesce(sum(units), 0) FROM sales_summary WHERE subject_id = $1`,
		subjectID,
	).Scan(&in.UnitsSold)
	if err != nil {
		return nil, fmt.Errorf("aggregate units sold: %w", err)
	}

	if in.Recent90, err = s.satisfactionWindow(ctx, subjectID, now.AddDate(0, 0, -90)); err != nil {
		return nil, fmt.Errorf("recent satisfaction window: %w", err)
	}
	if in.AllTime, err = s.satisfactionWindow(ctx, subjectID, time.Time{}); err != nil {
		return nil, fmt.Errorf("all-time satisfaction window: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE fit_sentiment = 'positive'),
			count(*) FILTER (WHERE fit_sentiment IS NOT NULL)
		FROM reviews WHERE subject_id = $1`,
		subjectID,
	).Scan(&in.FitPositive, &in.FitReviews)
	if err != nil {
		return nil, fmt.Errorf("aggregate fit reviews: %w", err)
	}

	metricRows, err := s.pool.Query(ctx, `
		SELECT metric, value, sample_size FROM performance_metrics WHERE subject_id = $1`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query performance metrics: %w", err)
	}
	defer metricRows.Close()
	for metricRows.Next() {
		var metric string
		var value float64
		var samples int
		if err := metricRows.Scan(&metric, &value, &samples); err != nil {
			return nil, fmt.Errorf("scan performance metric: %w", err)
		}
		if in.PerformanceMetrics == nil {
			in.PerformanceMetrics = make(map[string]float64)
		}
		in.PerformanceMetrics[metric] = value
		if samples > in.PerformanceSamples {
			in.PerformanceSamples = samples
		}
	}
	if metricRows.Err() != nil {
		return nil, fmt.Errorf("iterate performance metrics: %w", metricRows.Err())
	}

	return &in, nil
}

func (s *Store) satisfactionWindow(ctx context.Context, subjectID string, since time.Time) (kpi.SatisfactionWindow, error) {
	var w kpi.SatisfactionWindow
	err := s.pool.QueryRow(ctx, `
		SELECT
			coalesce(avg(rating) FILTER (WHERE verified_purchase), 0),
			coalesce(avg(rating) FILTER (WHERE NOT verified_purchase), 0),
			count(*) FILTER (WHERE verified_purchase),
			count(*) FILTER (WHERE NOT verified_purchase)
		FROM reviews
		WHERE subject_id = $1 AND created_at >= $2`,
		subjectID, since,
	).Scan(&w.VerifiedRatingAvg, &w.UnverifiedRatingAvg, &w.VerifiedCount, &w.UnverifiedCount)
	if err != nil {
		return w, fmt.Errorf("aggregate reviews: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT coalesce(repeat_purchase_rate, 0), coalesce(recommendation_rate, 0)
		FROM subject_behavior_rates WHERE subject_id = $1`,
		subjectID,
	).Scan(&w.RepeatPurchaseRate, &w.RecommendationRate)
	if err != nil && !isNoRows(err) {
		return w, fmt.Errorf("behavior rates: %w", err)
	}
	return w, nil
}

// LoadSoftInputs returns the declarative product attributes backing the
// differentiation signals, or nil when the subject has none on file.
func (s *Store) LoadSoftInputs(ctx context.Context, subjectID string) (*kpi.SoftInputs, error) {
	var in kpi.SoftInputs
	err := s.pool.QueryRow(ctx, `
		SELECT rare_feature_count, total_feature_count, limited_edition, stock_scarcity, price_percentile,
		       material_grade, origin_reputation, warranty_days, review_quality_aspect, craftsmanship_mention_rate,
		       certifications, recycled_percent, carbon_kg, category_avg_carbon_kg, sustainable_packaging, supply_chain_score,
		       new_feature_count, patent_count, award_count, press_mentions, cutting_edge_tech, tech_generation, first_in_category
		FROM subject_attributes WHERE subject_id = $1`,
		subjectID,
	).Scan(
		&in.RareFeatureCount, &in.TotalFeatureCount, &in.LimitedEdition, &in.StockScarcity, &in.PricePercentile,
		&in.MaterialGrade, &in.OriginReputation, &in.WarrantyDays, &in.ReviewQualityAspect, &in.CraftsmanshipMention,
		&in.Certifications, &in.RecycledPercent, &in.CarbonKg, &in.CategoryAvgCarbonKg, &in.SustainablePackaging, &in.SupplyChainScore,
		&in.NewFeatureCount, &in.PatentCount, &in.AwardCount, &in.PressMentions, &in.CuttingEdgeTech, &in.TechGeneration, &in.FirstInCategory,
	)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan subject attributes: %w", err)
	}

	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM reviews WHERE subject_id = $1`, subjectID).Scan(&in.ReviewSamples)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}
	return &in, nil
}
