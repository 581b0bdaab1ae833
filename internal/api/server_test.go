package api

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentic-exchange/axp/internal/config"
	"github.com/agentic-exchange/axp/internal/pipeline"
	"github.com/agentic-exchange/axp/internal/signal"
	"github.com/agentic-exchange/axp/internal/signing"
)

type fakeReader struct {
	signals       []signal.Signal
	intents       []signal.FusedIntentSignal
	verifications []signal.TrustVerificationResult
	err           error
}

func (f *fakeReader) LatestSignals(context.Context, string) ([]signal.Signal, error) {
	return f.signals, f.err
}

func (f *fakeReader) LatestIntents(context.Context, string) ([]signal.FusedIntentSignal, error) {
	return f.intents, f.err
}

func (f *fakeReader) LatestVerifications(context.Context, string) ([]signal.TrustVerificationResult, error) {
	return f.verifications, f.err
}

type fakeSubmitter struct {
	jobs []pipeline.Job
	full bool
}

func (f *fakeSubmitter) Submit(job pipeline.Job) bool {
	if f.full {
		return false
	}
	f.jobs = append(f.jobs, job)
	return true
}

type staticResolver map[string]crypto.PublicKey

func (r staticResolver) Resolve(kid string) (crypto.PublicKey, error) {
	key, ok := r[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key, nil
}

func testServer(t *testing.T, reader *fakeReader, scores *fakeSubmitter, resolver signing.KeyResolver) *Server {
	t.Helper()
	if reader == nil {
		reader = &fakeReader{}
	}
	if scores == nil {
		scores = &fakeSubmitter{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	holder := config.NewHolder(config.DefaultParams())
	return NewServer(8750, "test-token", reader, scores, resolver, holder, logger)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/axp/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["service"] != "axp" {
		t.Errorf("expected service axp, got %q", body["service"])
	}
}

func TestLatestSignalsEndpoint(t *testing.T) {
	reader := &fakeReader{signals: []signal.Signal{
		{Name: signal.NameReturnRate, Value: 0.15},
		{Name: signal.NameUniqueness, Value: 0.7},
	}}
	srv := testServer(t, reader, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/axp/signals/subject-1", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		SubjectID string          `json:"subject_id"`
		Signals   []signal.Signal `json:"signals"`
		Count     int             `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.SubjectID != "subject-1" || body.Count != 2 {
		t.Errorf("got subject %q count %d", body.SubjectID, body.Count)
	}
}

func TestKPIEndpointFiltersSoftSignals(t *testing.T) {
	reader := &fakeReader{signals: []signal.Signal{
		{Name: signal.NameReturnRate, Value: 0.15},
		{Name: signal.NameUniqueness, Value: 0.7},
		{Name: signal.NameOwnerSatisfaction, Value: 0.6},
	}}
	srv := testServer(t, reader, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/axp/kpis/subject-1", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	var body struct {
		KPIs []signal.Signal `json:"kpis"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.KPIs) != 2 {
		t.Fatalf("expected 2 KPIs, got %d", len(body.KPIs))
	}
	for _, sig := range body.KPIs {
		if sig.Name == signal.NameUniqueness {
			t.Error("soft signal leaked into KPI view")
		}
	}
}

func TestScoreEndpointRequiresAuth(t *testing.T) {
	scores := &fakeSubmitter{}
	srv := testServer(t, nil, scores, nil)

	payload := bytes.NewBufferString(`{"subject_id":"subject-1","category":"footwear"}`)
	req := httptest.NewRequest("POST", "/api/v1/axp/score", payload)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if len(scores.jobs) != 0 {
		t.Error("unauthorized request reached the queue")
	}
}

func TestScoreEndpointQueuesJob(t *testing.T) {
	scores := &fakeSubmitter{}
	srv := testServer(t, nil, scores, nil)

	payload := bytes.NewBufferString(`{"subject_id":"subject-1","category":"footwear","sources":["trustpilot"],"domain":"example.com"}`)
	req := httptest.NewRequest("POST", "/api/v1/axp/score", payload)
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(scores.jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(scores.jobs))
	}
	job := scores.jobs[0]
	if job.SubjectID != "subject-1" || job.Domain != "example.com" || len(job.Sources) != 1 {
		t.Errorf("job = %+v", job)
	}
}

func TestScoreEndpointValidation(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	payload := bytes.NewBufferString(`{"category":"footwear"}`)
	req := httptest.NewRequest("POST", "/api/v1/axp/score", payload)
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without subject_id, got %d", w.Code)
	}
}

func TestScoreEndpointQueueFull(t *testing.T) {
	srv := testServer(t, nil, &fakeSubmitter{full: true}, nil)

	payload := bytes.NewBufferString(`{"subject_id":"subject-1"}`)
	req := httptest.NewRequest("POST", "/api/v1/axp/score", payload)
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when queue full, got %d", w.Code)
	}
}

func TestEvidenceVerifyEndpoint(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	resolver := staticResolver{"brand-key": crypto.PublicKey(pub)}
	srv := testServer(t, nil, nil, resolver)

	obj, err := signing.SignObject(map[string]any{"subject_id": "subject-1"}, priv, signing.AlgEd25519, "brand-key")
	if err != nil {
		t.Fatal(err)
	}

	post := func(t *testing.T, obj *signing.SignedObject) EvidenceVerifyResponse {
		t.Helper()
		payload, err := json.Marshal(obj)
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest("POST", "/api/v1/axp/evidence/verify", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp EvidenceVerifyResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		return resp
	}

	if resp := post(t, obj); !resp.Valid {
		t.Errorf("valid bundle rejected: %s", resp.Reason)
	}

	tampered := *obj
	tampered.Data = map[string]any{"subject_id": "someone-else"}
	if resp := post(t, &tampered); resp.Valid {
		t.Error("tampered bundle accepted")
	}

	stale := *obj
	stale.Signature.TS = time.Now().UTC().Add(-30 * 24 * time.Hour)
	if resp := post(t, &stale); resp.Valid {
		t.Error("stale signature accepted")
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
