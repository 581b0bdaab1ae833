package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	RedisURL        string
	LogLevel        string
	APIToken        string
	SigningKid      string
	SigningKeyHex   string
	ReviewAPIKey    string
	SnapshotURL     string
	DomainHistURL   string
	SlackBotToken   string
	SlackChannel    string
	ProviderTimeout time.Duration
	ProviderRetries int
	Workers         int

	// Value-tiered evidence. Sealing needs a recipient X25519 public key.
	SealRecipientHex  string
	EvidencePublicMin float64
	EvidenceSealedMin float64
}

func Load() Config {
	return Config{
		Port:            envInt("AXP_PORT", 8810),
		NatsURL:         envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		APIToken:        envStr("AXP_API_TOKEN", ""),
		SigningKid:      envStr("AXP_SIGNING_KID", ""),
		SigningKeyHex:   envStr("AXP_SIGNING_KEY", ""),
		ReviewAPIKey:    envStr("AXP_REVIEW_API_KEY", ""),
		SnapshotURL:     envStr("AXP_SNAPSHOT_URL", ""),
		DomainHistURL:   envStr("AXP_DOMAIN_HISTORY_URL", ""),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("SLACK_ANOMALY_CHANNEL", ""),
		ProviderTimeout: time.Duration(envInt("AXP_PROVIDER_TIMEOUT_SECONDS", 5)) * time.Second,
		ProviderRetries: envInt("AXP_PROVIDER_RETRIES", 2),
		Workers:         envInt("AXP_WORKERS", 8),

		SealRecipientHex:  envStr("AXP_SEAL_RECIPIENT_KEY", ""),
		EvidencePublicMin: envFloat("AXP_EVIDENCE_PUBLIC_MIN", 0),
		EvidenceSealedMin: envFloat("AXP_EVIDENCE_SEALED_MIN", 1000),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
