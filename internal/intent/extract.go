package intent

import (
	"strings"
	"time"

	"github.com/agentic-exchange/axp/internal/signal"
)

// Raw inputs are owned by external collaborators (order systems, review
// platforms) and are read-only here.

type Order struct {
	CreatedAt   time.Time   `json:"created_at"`
	GiftWrap    bool        `json:"gift_wrap"`
	GiftMessage string      `json:"gift_message"`
	Items       []OrderItem `json:"items"`
}

type OrderItem struct {
	Category string `json:"category"`
}

type Return struct {
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type BehaviorEvent struct {
	Type       string    `json:"type"`
	GuideType  string    `json:"guide_type"`
	ObservedAt time.Time `json:"observed_at"`
}

type TextDoc struct {
	Text             string    `json:"text"`
	Source           string    `json:"source"` // review, q_and_a, support_ticket
	VerifiedPurchase bool      `json:"verified_purchase"`
	CreatedAt        time.Time `json:"created_at"`
}

type Acquisition struct {
	UTMCampaign string    `json:"utm_campaign"`
	UTMSource   string    `json:"utm_source"`
	UTMTerm     string    `json:"utm_term"`
	LandingPage string    `json:"landing_page"`
	CreatedAt   time.Time `json:"created_at"`
}

// intentKeywords is the taxonomy for keyword-based text classification.
var intentKeywords = map[string][]string{
	signal.IntentGift:            {"gift", "present", "birthday", "christmas", "anniversary"},
	signal.IntentSport:           {"training", "workout", "gym", "athletic"},
	signal.IntentRunning:         {"running", "marathon", "jog"},
	signal.IntentProfessionalUse: {"work", "professional", "office", "business"},
	signal.IntentTravel:          {"travel", "trip", "vacation", "flight", "luggage"},
	signal.IntentFashion:         {"style", "look", "outfit", "trendy", "fashion"},
	signal.IntentDailyCommute:    {"commute", "everyday", "walking", "comfortable"},
}

// FromOrders derives cart-source observations: gift wrapping, gift-season
// timing and bundle composition.
func FromOrders(orders []Order) []signal.IntentObservation {
	var out []signal.IntentObservation
	for _, o := range orders {
		if o.GiftWrap || o.GiftMessage != "" {
			out = append(out, obs(signal.IntentGift, signal.SourceCart, 1.0, o.CreatedAt))
		}
		if isGiftSeason(o.CreatedAt) {
			out = append(out, obs(signal.IntentGift, signal.SourceCart, 0.3, o.CreatedAt))
		}
		for intent, strength := range bundleIntents(o.Items) {
			out = append(out, obs(intent, signal.SourceCart, strength, o.CreatedAt))
		}
	}
	return out
}

// FromReturns derives cart-source observations from return reasons.
// Returns carry half strength: they are indirect evidence of intent.
func FromReturns(returns []Return) []signal.IntentObservation {
	var out []signal.IntentObservation
	for _, r := range returns {
		switch r.Reason {
		case "size_issue":
			out = append(out, obs(signal.IntentFashion, signal.SourceCart, 0.05, r.CreatedAt))
			out = append(out, obs(signal.IntentSport, signal.SourceCart, 0.05, r.CreatedAt))
		case "quality_expectation":
			out = append(out, obs(signal.IntentProfessionalUse, signal.SourceCart, 0.1, r.CreatedAt))
		case "changed_mind":
			out = append(out, obs(signal.IntentFashion, signal.SourceCart, 0.075, r.CreatedAt))
		}
	}
	return out
}

// FromBehavior derives behavior-source observations from onsite tool usage.
func FromBehavior(events []BehaviorEvent) []signal.IntentObservation {
	var out []signal.IntentObservation
	for _, e := range events {
		switch e.Type {
		case "view_size_guide":
			out = append(out, obs(signal.IntentFashion, signal.SourceBehavior, 0.3, e.ObservedAt))
			out = append(out, obs(signal.IntentSport, signal.SourceBehavior, 0.2, e.ObservedAt))
		case "view_3d":
			out = append(out, obs(signal.IntentFashion, signal.SourceBehavior, 0.2, e.ObservedAt))
			out = append(out, obs(signal.IntentLuxury, signal.SourceBehavior, 0.1, e.ObservedAt))
		case "use_configurator":
			out = append(out, obs(signal.IntentProfessionalUse, signal.SourceBehavior, 0.3, e.ObservedAt))
			out = append(out, obs(signal.IntentHobby, signal.SourceBehavior, 0.2, e.ObservedAt))
		case "compare_products":
			out = append(out, obs(signal.IntentValue, signal.SourceBehavior, 0.2, e.ObservedAt))
		case "read_guide":
			guide := strings.ToLower(e.GuideType)
			switch {
			case strings.Contains(guide, "running"):
				out = append(out, obs(signal.IntentRunning, signal.SourceBehavior, 0.5, e.ObservedAt))
			case strings.Contains(guide, "basketball"):
				out = append(out, obs(signal.IntentBasketball, signal.SourceBehavior, 0.5, e.ObservedAt))
			case strings.Contains(guide, "outdoor"), strings.Contains(guide, "hiking"):
				out = append(out, obs(signal.IntentOutdoor, signal.SourceBehavior, 0.5, e.ObservedAt))
			}
		}
	}
	return out
}

// FromText derives text-source observations from reviews, Q&A and support
// tickets via the keyword taxonomy. Verified purchases weigh 1.5x.
func FromText(texts []TextDoc) []signal.IntentObservation {
	var out []signal.IntentObservation
	for _, doc := range texts {
		content := strings.ToLower(doc.Text)
		weight := textWeight(doc)

		for intent, keywords := range intentKeywords {
			matches := 0
			for _, kw := range keywords {
				if strings.Contains(content, kw) {
					matches++
				}
			}
			if matches > 0 {
				out = append(out, obs(intent, signal.SourceText, float64(matches)*weight, doc.CreatedAt))
			}
		}
	}
	return out
}

// FromChannel derives channel-source observations from acquisition campaign
// and search-term attribution.
func FromChannel(acqs []Acquisition) []signal.IntentObservation {
	var out []signal.IntentObservation
	for _, a := range acqs {
		campaign := strings.ToLower(a.UTMCampaign)
		switch {
		case strings.Contains(campaign, "gift"), strings.Contains(campaign, "holiday"):
			out = append(out, obs(signal.IntentGift, signal.SourceChannel, 1.0, a.CreatedAt))
		case strings.Contains(campaign, "sport"), strings.Contains(campaign, "athletic"):
			out = append(out, obs(signal.IntentSport, signal.SourceChannel, 1.0, a.CreatedAt))
		case strings.Contains(campaign, "professional"), strings.Contains(campaign, "business"):
			out = append(out, obs(signal.IntentProfessionalUse, signal.SourceChannel, 1.0, a.CreatedAt))
		}

		if term := strings.ToLower(a.UTMTerm); term != "" {
			for _, intent := range signal.Intents {
				if strings.Contains(term, strings.ReplaceAll(intent, "_", " ")) {
					out = append(out, obs(intent, signal.SourceChannel, 0.5, a.CreatedAt))
				}
			}
		}
	}
	return out
}

// Extract builds the full observation batch for one subject from all raw
// sources.
func Extract(orders []Order, returns []Return, events []BehaviorEvent, texts []TextDoc, acqs []Acquisition) []signal.IntentObservation {
	var out []signal.IntentObservation
	out = append(out, FromOrders(orders)...)
	out = append(out, FromReturns(returns)...)
	out = append(out, FromBehavior(events)...)
	out = append(out, FromText(texts)...)
	out = append(out, FromChannel(acqs)...)
	return out
}

func obs(intent, source string, strength float64, at time.Time) signal.IntentObservation {
	return signal.IntentObservation{Intent: intent, Source: source, RawStrength: strength, ObservedAt: at}
}

func textWeight(doc TextDoc) float64 {
	w := 1.0
	if doc.VerifiedPurchase {
		w *= 1.5
	}
	switch doc.Source {
	case "support_ticket":
		w *= 0.8
	case "q_and_a":
		w *= 1.1
	}
	return w
}

func bundleIntents(items []OrderItem) map[string]float64 {
	categories := make(map[string]bool, len(items))
	for _, it := range items {
		categories[it.Category] = true
	}

	out := make(map[string]float64)
	if categories["running_shoes"] && categories["running_socks"] {
		out[signal.IntentRunning] = 0.8
		out[signal.IntentSport] = 0.5
	}
	if categories["dress_shoes"] && categories["dress_shirt"] {
		out[signal.IntentProfessionalUse] = 0.7
	}
	return out
}

// isGiftSeason reports whether the date falls in a typical gift-giving
// window: mid-November through December, the run-up to Valentine's day, and
// May/June for Mother's/Father's day.
func isGiftSeason(t time.Time) bool {
	m, d := t.Month(), t.Day()
	switch {
	case m == time.November && d >= 15, m == time.December:
		return true
	case m == time.February && d <= 14:
		return true
	case m == time.May, m == time.June && d <= 20:
		return true
	}
	return false
}
