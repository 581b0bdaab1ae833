// Package slack posts verification anomaly alerts to a Slack channel so
// operators see flagged subjects without watching the bus.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agentic-exchange/axp/internal/bus"
	"github.com/agentic-exchange/axp/internal/signal"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostAnomalyAlert posts a flagged verification to Slack. Returns the
// message timestamp (ts) so followups can thread under it.
func (p *Poster) PostAnomalyAlert(ctx context.Context, ev bus.FlaggedEvent) (string, error) {
	text := formatAnomalyMessage(ev)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("method: %s | verified at %s",
							ev.Method, ev.VerifiedAt.Format(time.RFC3339)),
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted anomaly alert to slack", "ts", slackResp.TS, "subject_id", ev.SubjectID)
	return slackResp.TS, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	body, err := json.Marshal(map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func formatAnomalyMessage(ev bus.FlaggedEvent) string {
	var sb strings.Builder

	icon := ":warning:"
	for _, a := range ev.Anomalies {
		if a.Severity == signal.SeverityHigh {
			icon = ":rotating_light:"
			break
		}
	}

	fmt.Fprintf(&sb, "%s *Verification flagged:* %s on %s\n", icon, ev.SubjectID, ev.Source)
	fmt.Fprintf(&sb, "*Confidence:* %.2f\n\n", ev.Confidence)

	fmt.Fprintf(&sb, "*Anomalies: %d*\n", len(ev.Anomalies))
	for i, a := range ev.Anomalies {
		fmt.Fprintf(&sb, "%d. [%s] %s\n   %s\n", i+1, a.Severity, a.Type, a.Detail)
	}

	return sb.String()
}
