package main

import (
	"context"
	"crypto"
	"crypto/ecdh"
	"crypto/ed25519"
	"encoding/hex"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentic-exchange/axp/internal/api"
	"github.com/agentic-exchange/axp/internal/bus"
	"github.com/agentic-exchange/axp/internal/cache"
	"github.com/agentic-exchange/axp/internal/config"
	"github.com/agentic-exchange/axp/internal/enrich"
	"github.com/agentic-exchange/axp/internal/evidence"
	"github.com/agentic-exchange/axp/internal/pipeline"
	"github.com/agentic-exchange/axp/internal/signing"
	"github.com/agentic-exchange/axp/internal/slack"
	"github.com/agentic-exchange/axp/internal/store"
	"github.com/agentic-exchange/axp/internal/verify"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("axp starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signing key
	if cfg.SigningKeyHex == "" || cfg.SigningKid == "" {
		slog.Error("AXP_SIGNING_KEY and AXP_SIGNING_KID are required")
		os.Exit(1)
	}
	seed, err := hex.DecodeString(cfg.SigningKeyHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		slog.Error("AXP_SIGNING_KEY must be a 32-byte hex seed")
		os.Exit(1)
	}
	signingKey := ed25519.NewKeyFromSeed(seed)
	resolver := signing.StaticKeys{cfg.SigningKid: crypto.PublicKey(signingKey.Public())}
	slog.Info("signing key loaded", "kid", cfg.SigningKid)

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Reference data, seeded from defaults and overlaid with any stored
	// category baselines.
	params := config.DefaultParams()
	if baselines, err := db.LoadCategoryBaselines(ctx); err != nil {
		slog.Warn("category baselines unavailable, using defaults", "error", err)
	} else if len(baselines) > 0 {
		params.CategoryBaselines = baselines
		slog.Info("category baselines loaded", "categories", len(baselines))
	}
	holder := config.NewHolder(params)

	// Redis cache (optional — scoring works without it, reads hit Postgres)
	var signalCache pipeline.SignalCache
	if cfg.RedisURL != "" {
		c, err := cache.New(ctx, cfg.RedisURL, slog.Default())
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer c.Close()
		signalCache = c
		slog.Info("redis connected")
	} else {
		slog.Warn("redis not configured — running without signal cache")
	}

	// NATS
	busClient, err := bus.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer busClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// External verification providers
	reviewAPI := enrich.NewReviewAPIClient(cfg.ProviderTimeout, cfg.ProviderRetries, cfg.ReviewAPIKey, slog.Default())
	var snapshots verify.SnapshotProvider
	if cfg.SnapshotURL != "" {
		snapshots = enrich.NewSnapshotClient(cfg.SnapshotURL, cfg.ProviderTimeout, cfg.ProviderRetries, slog.Default())
	}
	var domains verify.DomainHistory
	if cfg.DomainHistURL != "" {
		domains = enrich.NewDomainAgeClient(enrich.DefaultDomainEndpoints(cfg.DomainHistURL),
			cfg.ProviderTimeout, cfg.ProviderRetries, slog.Default())
	}
	verifier := verify.New(reviewAPI, snapshots, domains, slog.Default())

	// Scoring pipeline and worker pool
	p := pipeline.New(db, signalCache, busClient, verifier, holder, signingKey, cfg.SigningKid, slog.Default())

	// Value-tiered sealed evidence (optional — without a recipient key every
	// job gets the public tier)
	if cfg.SealRecipientHex != "" {
		keyBytes, err := hex.DecodeString(cfg.SealRecipientHex)
		if err != nil {
			slog.Error("AXP_SEAL_RECIPIENT_KEY must be a hex X25519 public key")
			os.Exit(1)
		}
		recipient, err := ecdh.X25519().NewPublicKey(keyBytes)
		if err != nil {
			slog.Error("invalid seal recipient key", "error", err)
			os.Exit(1)
		}
		sealer, err := evidence.NewSealer(holder.Params().SealedEvidenceLimit)
		if err != nil {
			slog.Error("failed to init evidence sealer", "error", err)
			os.Exit(1)
		}
		p.EnableSealing(evidence.ThresholdPolicy(cfg.EvidencePublicMin, cfg.EvidenceSealedMin), sealer, recipient)
		slog.Info("sealed evidence enabled", "public_min", cfg.EvidencePublicMin, "sealed_min", cfg.EvidenceSealedMin)
	} else {
		slog.Warn("seal recipient not configured — sealed evidence tier disabled")
	}

	runner := pipeline.NewRunner(p, cfg.Workers, slog.Default())
	runner.Start(ctx)

	if err := busClient.SubscribeIngest(runner.HandleIngest); err != nil {
		slog.Error("failed to subscribe to ingest requests", "error", err)
		os.Exit(1)
	}

	// Slack alerting (optional — flags still land on the bus without it)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		poster := slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		err := busClient.SubscribeFlagged(func(ev bus.FlaggedEvent) {
			if _, err := poster.PostAnomalyAlert(ctx, ev); err != nil {
				slog.Warn("failed to post anomaly alert", "subject_id", ev.SubjectID, "error", err)
			}
		})
		if err != nil {
			slog.Error("failed to subscribe to flagged events", "error", err)
			os.Exit(1)
		}
		slog.Info("slack alerting ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured — anomaly alerts only on the bus")
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, db, runner, resolver, holder, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce availability
	if err := busClient.Publish("axp.service.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"workers":   cfg.Workers,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("axp ready", "port", cfg.Port, "workers", cfg.Workers)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	runner.Wait()
	slog.Info("axp stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
