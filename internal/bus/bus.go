// Package bus is the NATS event surface: scoring requests in, scored
// signals and verification flags out.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agentic-exchange/axp/internal/signal"
)

// NATS subjects.
const (
	SubjectIngestBatch         = "axp.ingest.batch"
	SubjectSignalScored        = "axp.signal.scored"
	SubjectVerificationFlagged = "axp.verification.flagged"
)

// IngestRequest asks the pipeline to score one subject.
type IngestRequest struct {
	SubjectID  string   `json:"subject_id"`
	Category   string   `json:"category"`
	WindowDays int      `json:"window_days"`
	Sources    []string `json:"sources,omitempty"` // review platforms to verify
	Domain     string   `json:"domain,omitempty"`  // brand domain for age corroboration
	Value      float64  `json:"value,omitempty"`   // transaction value for the evidence tier
}

// ScoredEvent announces a completed scoring cycle.
type ScoredEvent struct {
	SubjectID     string    `json:"subject_id"`
	CycleID       string    `json:"cycle_id"`
	SignalCount   int       `json:"signal_count"`
	WithheldCount int       `json:"withheld_count"`
	IntentCount   int       `json:"intent_count"`
	CalculatedAt  time.Time `json:"calculated_at"`
}

// FlaggedEvent announces anomalies found during verification.
type FlaggedEvent struct {
	SubjectID  string           `json:"subject_id"`
	Source     string           `json:"source"`
	Method     string           `json:"method"`
	Confidence float64          `json:"confidence"`
	Anomalies  []signal.Anomaly `json:"anomalies"`
	VerifiedAt time.Time        `json:"verified_at"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishScored emits the cycle-complete event.
func (c *Client) PublishScored(ev ScoredEvent) error {
	return c.Publish(SubjectSignalScored, ev)
}

// PublishFlagged emits a verification flag. Only called when anomalies
// were found; clean verifications stay quiet.
func (c *Client) PublishFlagged(ev FlaggedEvent) error {
	return c.Publish(SubjectVerificationFlagged, ev)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// SubscribeIngest decodes scoring requests and hands them to the
// pipeline. Malformed requests are logged and dropped, not retried.
func (c *Client) SubscribeIngest(handler func(IngestRequest)) error {
	return c.Subscribe(SubjectIngestBatch, func(_ string, data []byte) {
		var req IngestRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.logger.Warn("malformed ingest request", "error", err)
			return
		}
		if req.SubjectID == "" {
			c.logger.Warn("ingest request missing subject_id")
			return
		}
		handler(req)
	})
}

// SubscribeFlagged decodes verification flags for downstream consumers
// such as the alert poster.
func (c *Client) SubscribeFlagged(handler func(FlaggedEvent)) error {
	return c.Subscribe(SubjectVerificationFlagged, func(_ string, data []byte) {
		var ev FlaggedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("malformed flagged event", "error", err)
			return
		}
		handler(ev)
	})
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
