package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentic-exchange/axp/internal/bus"
	"github.com/agentic-exchange/axp/internal/signal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func flaggedEvent() bus.FlaggedEvent {
	return bus.FlaggedEvent{
		SubjectID:  "subject-1",
		Source:     "trustpilot",
		Method:     signal.MethodAPIVerified,
		Confidence: 0.47,
		Anomalies: []signal.Anomaly{
			{
				Type:     signal.AnomalyReviewSpike,
				Severity: signal.SeverityHigh,
				Detail:   "daily volume 200 exceeds mean by more than 3 standard deviations",
			},
			{
				Type:     signal.AnomalyRatingJump,
				Severity: signal.SeverityMedium,
				Detail:   "claimed 4.6 stars, source reports 2.1",
			},
		},
		VerifiedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestFormatAnomalyMessage(t *testing.T) {
	msg := formatAnomalyMessage(flaggedEvent())

	if msg == "" {
		t.Fatal("expected non-empty message")
	}

	// Check key content is present
	checks := []string{
		"subject-1",
		"trustpilot",
		"0.47",
		"Anomalies: 2",
		"review_spike",
		"rating_jump",
		"claimed 4.6 stars",
		":rotating_light:", // high severity escalates the icon
	}
	for _, check := range checks {
		if !containsStr(msg, check) {
			t.Errorf("expected message to contain %q", check)
		}
	}
}

func TestFormatAnomalyMessage_MediumOnly(t *testing.T) {
	ev := flaggedEvent()
	ev.Anomalies = ev.Anomalies[1:]

	msg := formatAnomalyMessage(ev)

	if !containsStr(msg, ":warning:") {
		t.Errorf("expected warning icon for medium severity, got %q", msg)
	}
	if containsStr(msg, ":rotating_light:") {
		t.Error("medium-only event must not use the high severity icon")
	}
}

func TestPostAnomalyAlert_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)

		if payload["channel"] != "C123" {
			t.Errorf("expected channel C123, got %v", payload["channel"])
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ts, err := p.PostAnomalyAlert(context.Background(), flaggedEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}
}

func TestPostAnomalyAlert_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	_, err := p.PostAnomalyAlert(context.Background(), flaggedEvent())
	if err == nil {
		t.Fatal("expected error for slack error response")
	}
}

func containsStr(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
