package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentic-exchange/axp/internal/pipeline"
	"github.com/agentic-exchange/axp/internal/signal"
	"github.com/agentic-exchange/axp/internal/signing"
)

// The ratio and composite KPIs, as opposed to soft differentiation signals.
var kpiNames = map[string]bool{
	signal.NameReturnRate:        true,
	signal.NameDisputeRate:       true,
	signal.NameChargebackRate:    true,
	signal.NameFitHint:           true,
	signal.NameReliability:       true,
	signal.NamePerformance:       true,
	signal.NameOwnerSatisfaction: true,
}

// ScoreRequest triggers a scoring cycle for one subject.
type ScoreRequest struct {
	SubjectID  string   `json:"subject_id"`
	Category   string   `json:"category"`
	WindowDays int      `json:"window_days,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Domain     string   `json:"domain,omitempty"`
	Value      float64  `json:"value,omitempty"`
}

// EvidenceVerifyResponse reports the outcome of a bundle check.
type EvidenceVerifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) latestSignals(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	signals, err := s.signals.LatestSignals(r.Context(), subjectID)
	if err != nil {
		s.logger.Error("signal lookup failed", "subject_id", subjectID, "error", err)
		http.Error(w, `{"error":"signal lookup failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"subject_id": subjectID,
		"signals":    signals,
		"count":      len(signals),
	})
}

func (s *Server) latestKPIs(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	signals, err := s.signals.LatestSignals(r.Context(), subjectID)
	if err != nil {
		s.logger.Error("signal lookup failed", "subject_id", subjectID, "error", err)
		http.Error(w, `{"error":"signal lookup failed"}`, http.StatusInternalServerError)
		return
	}
	var kpis []signal.Signal
	for _, sig := range signals {
		if kpiNames[sig.Name] {
			kpis = append(kpis, sig)
		}
	}
	writeJSON(w, map[string]any{
		"subject_id": subjectID,
		"kpis":       kpis,
		"count":      len(kpis),
	})
}

func (s *Server) latestIntents(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	intents, err := s.signals.LatestIntents(r.Context(), subjectID)
	if err != nil {
		s.logger.Error("intent lookup failed", "subject_id", subjectID, "error", err)
		http.Error(w, `{"error":"intent lookup failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"subject_id": subjectID,
		"intents":    intents,
		"count":      len(intents),
	})
}

func (s *Server) latestVerifications(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	verifications, err := s.signals.LatestVerifications(r.Context(), subjectID)
	if err != nil {
		s.logger.Error("verification lookup failed", "subject_id", subjectID, "error", err)
		http.Error(w, `{"error":"verification lookup failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"subject_id":    subjectID,
		"verifications": verifications,
		"count":         len(verifications),
	})
}

// submitScore handles POST /api/v1/axp/score
func (s *Server) submitScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid JSON: %v"}`, err), http.StatusBadRequest)
		return
	}
	if req.SubjectID == "" {
		http.Error(w, `{"error":"subject_id is required"}`, http.StatusBadRequest)
		return
	}

	ok := s.scores.Submit(pipeline.Job{
		SubjectID:  req.SubjectID,
		Category:   req.Category,
		WindowDays: req.WindowDays,
		Sources:    req.Sources,
		Domain:     req.Domain,
		Value:      req.Value,
	})
	if !ok {
		http.Error(w, `{"error":"scoring queue full, retry later"}`, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"subject_id": req.SubjectID,
		"status":     "queued",
	})
}

// verifyEvidence handles POST /api/v1/axp/evidence/verify. The body is a
// signed evidence bundle; the check covers both the signature and its
// freshness window.
func (s *Server) verifyEvidence(w http.ResponseWriter, r *http.Request) {
	var obj signing.SignedObject
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid JSON: %v"}`, err), http.StatusBadRequest)
		return
	}

	if err := signing.VerifyObject(&obj, s.resolver); err != nil {
		writeJSON(w, EvidenceVerifyResponse{Valid: false, Reason: err.Error()})
		return
	}
	maxAge := s.holder.Params().SignatureMaxAge
	if err := signing.CheckFreshness(obj.Signature, maxAge, time.Now().UTC()); err != nil {
		writeJSON(w, EvidenceVerifyResponse{Valid: false, Reason: err.Error()})
		return
	}
	writeJSON(w, EvidenceVerifyResponse{Valid: true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
