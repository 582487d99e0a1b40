package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("MAX_GENERATION_ATTEMPTS", "")
	t.Setenv("QUEUE_BACKEND", "")
	t.Setenv("COMPOSITE_CACHE_TTL_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxGenerationAttempts != 3 {
		t.Fatalf("MaxGenerationAttempts mismatch: got %d want 3", cfg.MaxGenerationAttempts)
	}
	if cfg.CompositeCacheTTL != 10*time.Minute {
		t.Fatalf("CompositeCacheTTL mismatch: got %s want 10m", cfg.CompositeCacheTTL)
	}
	if cfg.QueueBackend != "postgres" {
		t.Fatalf("QueueBackend mismatch: got %q want postgres", cfg.QueueBackend)
	}
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadConfigKafkaNeedsBrokers(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without KAFKA_BROKERS")
	}

	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092 ,")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("KafkaBrokers mismatch: %#v", cfg.KafkaBrokers)
	}
}

func TestLoadConfigRejectsZeroAttempts(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("QUEUE_BACKEND", "postgres")
	t.Setenv("MAX_GENERATION_ATTEMPTS", "0")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for zero attempts")
	}
}

func TestLoadConfigStaleRunThreshold(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("QUEUE_BACKEND", "postgres")
	t.Setenv("STALE_RUN_SECONDS", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StaleRunAfter != 15*time.Minute {
		t.Fatalf("StaleRunAfter mismatch: got %s want 15m", cfg.StaleRunAfter)
	}

	t.Setenv("STALE_RUN_SECONDS", "30")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for a stale threshold under a minute")
	}
}
