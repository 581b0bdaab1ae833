// Package pipeline orchestrates the per-subject scoring cycle. Stages
// within one subject run sequentially because each consumes the prior
// stage's output; different subjects share nothing but read-only
// reference data and run fully in parallel.
package pipeline

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-exchange/axp/internal/bus"
	"github.com/agentic-exchange/axp/internal/config"
	"github.com/agentic-exchange/axp/internal/evidence"
	"github.com/agentic-exchange/axp/internal/intent"
	"github.com/agentic-exchange/axp/internal/kpi"
	"github.com/agentic-exchange/axp/internal/signal"
	"github.com/agentic-exchange/axp/internal/signing"
	"github.com/agentic-exchange/axp/internal/store"
	"github.com/agentic-exchange/axp/internal/verify"
)

// Room left for the detached signature when fitting the public bundle.
const signatureOverhead = 512

// Storage is the persistence surface the pipeline consumes.
type Storage interface {
	LoadIntentInputs(ctx context.Context, subjectID string, since time.Time) (*store.RawIntentInputs, error)
	LoadKPIInputs(ctx context.Context, subjectID, category string, now time.Time) (*kpi.Inputs, error)
	LoadSoftInputs(ctx context.Context, subjectID string) (*kpi.SoftInputs, error)
	ReviewVolumeHistory(ctx context.Context, subjectID string, days int, now time.Time) ([]verify.DailyCount, error)
	WriteSignals(ctx context.Context, subjectID string, cycleID uuid.UUID, signals []signal.Signal, withheld []signal.Withheld, intents []signal.FusedIntentSignal) error
	WriteVerification(ctx context.Context, r *signal.TrustVerificationResult) error
}

// SignalCache is the optional read-through cache. Best effort only.
type SignalCache interface {
	PutSignals(ctx context.Context, subjectID string, signals []signal.Signal)
}

// Events is the outbound event surface.
type Events interface {
	PublishScored(ev bus.ScoredEvent) error
	PublishFlagged(ev bus.FlaggedEvent) error
}

// Job is one subject scoring request.
type Job struct {
	SubjectID  string
	Category   string
	WindowDays int
	Sources    []string // review platforms to verify against
	Domain     string   // optional brand domain for age corroboration
	Value      float64  // transaction value driving the evidence tier
}

// Result is the outcome of one scoring cycle.
type Result struct {
	CycleID        uuid.UUID                        `json:"cycle_id"`
	SubjectID      string                           `json:"subject_id"`
	Signals        []signal.Signal                  `json:"signals"`
	Withheld       []signal.Withheld                `json:"withheld"`
	Intents        []signal.FusedIntentSignal       `json:"intents"`
	Verifications  []signal.TrustVerificationResult `json:"verifications"`
	SignedEvidence json.RawMessage                  `json:"signed_evidence,omitempty"`
	SealedEvidence *evidence.Sealed                 `json:"sealed_evidence,omitempty"`
}

// Pipeline wires the scoring stages together.
type Pipeline struct {
	storage  Storage
	cache    SignalCache
	events   Events
	verifier *verify.Verifier
	calc     *kpi.Calculator
	fuser    *intent.Fuser
	holder   *config.Holder

	signingKey ed25519.PrivateKey
	signingKid string

	levels        evidence.LevelPolicy
	sealer        *evidence.Sealer
	sealRecipient *ecdh.PublicKey

	logger *slog.Logger
}

func New(storage Storage, cache SignalCache, events Events, verifier *verify.Verifier, holder *config.Holder, key ed25519.PrivateKey, kid string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		storage:    storage,
		cache:      cache,
		events:     events,
		verifier:   verifier,
		calc:       kpi.New(logger),
		fuser:      intent.NewFuser(logger),
		holder:     holder,
		signingKey: key,
		signingKid: kid,
		logger:     logger,
	}
}

// EnableSealing turns on the value-tiered sealed bundle. Jobs whose value
// reaches the policy's sealed tier also produce an encrypted bundle for
// the recipient; jobs below the public tier produce no evidence bundle.
// Without a policy every job gets public evidence.
func (p *Pipeline) EnableSealing(policy evidence.LevelPolicy, sealer *evidence.Sealer, recipient *ecdh.PublicKey) {
	p.levels = policy
	p.sealer = sealer
	p.sealRecipient = recipient
}

// Score runs the full cycle for one subject: fuse intents, compute KPIs,
// verify external sources, sign and assemble evidence, persist and
// announce. Per-item input errors skip that signal only; the cycle
// continues with what remains.
func (p *Pipeline) Score(ctx context.Context, job Job) (*Result, error) {
	params := p.holder.Params()
	now := time.Now().UTC()
	cycleID := uuid.New()

	windowDays := job.WindowDays
	if windowDays <= 0 {
		windowDays = params.WindowReturnRate
	}

	fused, withheldIntents, err := p.fuseIntents(ctx, job, params, now, windowDays)
	if err != nil {
		return nil, err
	}

	kpiIn, err := p.storage.LoadKPIInputs(ctx, job.SubjectID, job.Category, now)
	if err != nil {
		return nil, fmt.Errorf("load kpi inputs: %w", err)
	}

	signals, withheld := p.computeKPIs(job.SubjectID, *kpiIn, params, now)
	withheld = append(withheld, withheldIntents...)
	signals = append(signals, p.computeSoftSignals(ctx, job.SubjectID, params, now)...)

	verifications := p.verifySources(ctx, job, *kpiIn, now)

	if trust := p.brandTrustSignal(ctx, job, params, now); trust != nil {
		signals = append(signals, *trust)
	}

	level := evidence.LevelPublic
	if p.levels != nil {
		level = p.levels(job.Value)
	}

	var signedEvidence json.RawMessage
	var sealedEvidence *evidence.Sealed
	if level >= evidence.LevelPublic {
		retention := evidence.RetentionPublicDays
		if level == evidence.LevelPublicSealed {
			retention = evidence.RetentionPublicHighValue
		}
		signedEvidence, err = p.assembleAndSign(job.SubjectID, signals, withheld, fused, verifications, params, now, retention)
		if err != nil {
			return nil, err
		}
	}
	if level == evidence.LevelPublicSealed && p.sealer != nil && p.sealRecipient != nil {
		sealedEvidence, err = p.sealer.Seal(evidence.PublicBundle{
			SubjectID:     job.SubjectID,
			Signals:       signals,
			Withheld:      withheld,
			Intents:       fused,
			Verifications: verifications,
			AssembledAt:   now,
			RetentionDays: evidence.RetentionSealedDays,
		}, p.sealRecipient, now)
		if err != nil {
			return nil, fmt.Errorf("seal evidence: %w", err)
		}
	}

	if err := p.storage.WriteSignals(ctx, job.SubjectID, cycleID, signals, withheld, fused); err != nil {
		return nil, fmt.Errorf("persist signals: %w", err)
	}
	if p.cache != nil {
		p.cache.PutSignals(ctx, job.SubjectID, signals)
	}
	if p.events != nil {
		if err := p.events.PublishScored(bus.ScoredEvent{
			SubjectID:     job.SubjectID,
			CycleID:       cycleID.String(),
			SignalCount:   len(signals),
			WithheldCount: len(withheld),
			IntentCount:   len(fused),
			CalculatedAt:  now,
		}); err != nil {
			p.logger.Warn("publish scored event failed", "subject_id", job.SubjectID, "error", err)
		}
	}

	p.logger.Info("scoring cycle complete",
		"subject_id", job.SubjectID, "cycle_id", cycleID,
		"signals", len(signals), "withheld", len(withheld), "intents", len(fused))

	return &Result{
		CycleID:        cycleID,
		SubjectID:      job.SubjectID,
		Signals:        signals,
		Withheld:       withheld,
		Intents:        fused,
		Verifications:  verifications,
		SignedEvidence: signedEvidence,
		SealedEvidence: sealedEvidence,
	}, nil
}

func (p *Pipeline) fuseIntents(ctx context.Context, job Job, params *config.Params, now time.Time, windowDays int) ([]signal.FusedIntentSignal, []signal.Withheld, error) {
	since := now.AddDate(0, 0, -windowDays)
	raw, err := p.storage.LoadIntentInputs(ctx, job.SubjectID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("load intent inputs: %w", err)
	}
	obs := intent.Extract(raw.Orders, raw.Returns, raw.Events, raw.Texts, raw.Acquisitions)
	fused, withheld := p.fuser.Fuse(obs, job.Category, params, now, windowDays)
	return fused, withheld, nil
}

func (p *Pipeline) computeKPIs(subjectID string, in kpi.Inputs, params *config.Params, now time.Time) ([]signal.Signal, []signal.Withheld) {
	type calcFunc func(kpi.Inputs, *config.Params, time.Time) (*signal.Signal, *signal.Withheld, error)
	calcs := []struct {
		name string
		fn   calcFunc
	}{
		{signal.NameReturnRate, p.calc.ReturnRate},
		{signal.NameDisputeRate, p.calc.DisputeRate},
		{signal.NameChargebackRate, p.calc.ChargebackRate},
		{signal.NameFitHint, p.calc.FitHint},
		{signal.NameReliability, p.calc.Reliability},
		{signal.NamePerformance, p.calc.Performance},
		{signal.NameOwnerSatisfaction, p.calc.OwnerSatisfaction},
	}

	var signals []signal.Signal
	var withheld []signal.Withheld
	for _, c := range calcs {
		sig, wh, err := c.fn(in, params, now)
		if err != nil {
			// Malformed input aborts this signal only, never the cycle.
			p.logger.Warn("skipping signal on invalid input",
				"subject_id", subjectID, "signal", c.name, "error", err)
			continue
		}
		if sig != nil {
			signals = append(signals, *sig)
		}
		if wh != nil {
			withheld = append(withheld, *wh)
		}
	}
	return signals, withheld
}

// computeSoftSignals adds the differentiation scores when the subject has
// product attributes on file. Missing attributes skip the whole group.
func (p *Pipeline) computeSoftSignals(ctx context.Context, subjectID string, params *config.Params, now time.Time) []signal.Signal {
	soft, err := p.storage.LoadSoftInputs(ctx, subjectID)
	if err != nil {
		p.logger.Warn("soft inputs unavailable", "subject_id", subjectID, "error", err)
		return nil
	}
	if soft == nil {
		return nil
	}

	type softFunc func(kpi.SoftInputs, *config.Params, time.Time) (*signal.Signal, error)
	calcs := []struct {
		name string
		fn   softFunc
	}{
		{signal.NameUniqueness, p.calc.Uniqueness},
		{signal.NameCraftsmanship, p.calc.Craftsmanship},
		{signal.NameSustainability, p.calc.Sustainability},
		{signal.NameInnovation, p.calc.Innovation},
	}

	var out []signal.Signal
	for _, c := range calcs {
		sig, err := c.fn(*soft, params, now)
		if err != nil {
			p.logger.Warn("skipping signal on invalid input",
				"subject_id", subjectID, "signal", c.name, "error", err)
			continue
		}
		out = append(out, *sig)
	}
	return out
}

func (p *Pipeline) verifySources(ctx context.Context, job Job, in kpi.Inputs, now time.Time) []signal.TrustVerificationResult {
	if p.verifier == nil || len(job.Sources) == 0 {
		return nil
	}

	expected := p.expectedStats(ctx, job, in, now)

	var out []signal.TrustVerificationResult
	for _, source := range job.Sources {
		res := p.verifier.VerifyReviews(ctx, job.SubjectID, source, expected, now)
		out = append(out, *res)
		if err := p.storage.WriteVerification(ctx, res); err != nil {
			p.logger.Warn("persist verification failed", "source", source, "error", err)
		}
		if p.events != nil && len(res.Anomalies) > 0 {
			if err := p.events.PublishFlagged(bus.FlaggedEvent{
				SubjectID:  res.SubjectID,
				Source:     res.Source,
				Method:     res.Method,
				Confidence: res.Confidence,
				Anomalies:  res.Anomalies,
				VerifiedAt: res.VerifiedAt,
			}); err != nil {
				p.logger.Warn("publish flagged event failed", "source", source, "error", err)
			}
		}
	}
	return out
}

// expectedStats builds the claimed statistics from our own records; the
// providers' numbers are checked against these.
func (p *Pipeline) expectedStats(ctx context.Context, job Job, in kpi.Inputs, now time.Time) verify.ReviewStats {
	history, err := p.storage.ReviewVolumeHistory(ctx, job.SubjectID, 90, now)
	if err != nil {
		p.logger.Warn("review history unavailable, spike detection degraded",
			"subject_id", job.SubjectID, "error", err)
		history = nil
	}

	total := in.AllTime.VerifiedCount + in.AllTime.UnverifiedCount
	var avg float64
	if total > 0 {
		avg = (in.AllTime.VerifiedRatingAvg*float64(in.AllTime.VerifiedCount) +
			in.AllTime.UnverifiedRatingAvg*float64(in.AllTime.UnverifiedCount)) / float64(total)
	}
	var verifiedRatio float64
	if total > 0 {
		verifiedRatio = float64(in.AllTime.VerifiedCount) / float64(total)
	}
	return verify.ReviewStats{
		AvgRating:     avg,
		TotalReviews:  total,
		VerifiedRatio: verifiedRatio,
		History:       history,
	}
}

// brandTrustSignal turns domain-age corroboration into the brand_trust
// signal. Deliberately capped at 0.6: age alone never fully justifies trust.
func (p *Pipeline) brandTrustSignal(ctx context.Context, job Job, params *config.Params, now time.Time) *signal.Signal {
	if p.verifier == nil || job.Domain == "" {
		return nil
	}
	res, ageScore := p.verifier.VerifyDomainAge(ctx, job.SubjectID, job.Domain, now)
	if err := p.storage.WriteVerification(ctx, res); err != nil {
		p.logger.Warn("persist domain verification failed", "domain", job.Domain, "error", err)
	}
	if res.Confidence == 0 {
		return nil
	}
	return &signal.Signal{
		Name:         signal.NameBrandTrust,
		Value:        ageScore,
		SampleSize:   1,
		Confidence:   res.Confidence,
		Method:       signal.MethodDomainAge,
		WindowDays:   365,
		Evidence:     []signal.EvidenceRef{{Kind: "domain_history", Reference: res.Evidence}},
		CalculatedAt: now,
		TTLSeconds:   params.SignalTTLSeconds,
	}
}

// assembleAndSign packages the cycle into the public evidence bundle and
// signs its canonical form.
func (p *Pipeline) assembleAndSign(subjectID string, signals []signal.Signal, withheld []signal.Withheld, intents []signal.FusedIntentSignal, verifications []signal.TrustVerificationResult, params *config.Params, now time.Time, retentionDays int) (json.RawMessage, error) {
	bundle := evidence.PublicBundle{
		SubjectID:     subjectID,
		Signals:       signals,
		Withheld:      withheld,
		Intents:       intents,
		Verifications: verifications,
		AssembledAt:   now,
		RetentionDays: retentionDays,
	}
	data, err := evidence.AssemblePublic(bundle, params.PublicEvidenceLimit-signatureOverhead)
	if err != nil {
		return nil, fmt.Errorf("assemble evidence: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode assembled bundle: %w", err)
	}
	signed, err := signing.SignObject(payload, p.signingKey, signing.AlgEd25519, p.signingKid)
	if err != nil {
		return nil, fmt.Errorf("sign evidence: %w", err)
	}
	out, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("marshal signed evidence: %w", err)
	}
	return out, nil
}
