package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	DBMaxConns       int32
	StoragePath      string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	OperatorToken    string
	APIWriteLimit    int

	ImageProvider   string
	GeminiAPIKey    string
	GeminiBaseURL   string
	GeminiModel     string
	JudgeModel      string
	QwenAPIKey      string
	QwenBaseURL     string
	QwenModel       string
	ProviderTimeout time.Duration
	JudgeTimeout    time.Duration

	MaxGenerationAttempts int
	MaxEvaluationRetries  int
	QuotaBackoff          time.Duration
	WorkerSlots           int
	JobPollInterval       time.Duration
	RefundSweepInterval   time.Duration
	StaleRunAfter         time.Duration

	CompositeCacheDir string
	CompositeCacheTTL time.Duration
	StylePresetsPath  string
	BackgroundRemoval string

	QueueBackend string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       int32(getEnvInt("DB_MAX_CONNS", 10)),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		OperatorToken:    strings.TrimSpace(os.Getenv("OPS_API_TOKEN")),
		APIWriteLimit:    getEnvInt("API_WRITE_LIMIT_PER_MINUTE", 60),

		ImageProvider:   strings.ToLower(getEnv("IMAGE_PROVIDER", "gemini")),
		GeminiAPIKey:    strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:     getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		JudgeModel:      getEnv("JUDGE_MODEL", "gemini-2.5-flash"),
		QwenAPIKey:      strings.TrimSpace(os.Getenv("QWEN_API_KEY")),
		QwenBaseURL:     getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:       getEnv("QWEN_MODEL", "qwen-image-edit"),
		ProviderTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 180)),
		JudgeTimeout:    time.Second * time.Duration(getEnvInt("EVALUATION_TIMEOUT_SECONDS", 90)),

		MaxGenerationAttempts: getEnvInt("MAX_GENERATION_ATTEMPTS", 3),
		MaxEvaluationRetries:  getEnvInt("MAX_EVALUATION_RETRIES", 2),
		QuotaBackoff:          time.Second * time.Duration(getEnvInt("QUOTA_BACKOFF_SECONDS", 20)),
		WorkerSlots:           getEnvInt("WORKER_SLOTS", 4),
		JobPollInterval:       getEnvDuration("JOB_POLL_INTERVAL", 2*time.Second),
		RefundSweepInterval:   time.Second * time.Duration(getEnvInt("REFUND_SWEEP_SECONDS", 300)),
		StaleRunAfter:         time.Second * time.Duration(getEnvInt("STALE_RUN_SECONDS", 900)),

		CompositeCacheDir: getEnv("COMPOSITE_CACHE_DIR", os.TempDir()+"/teamshots-composites"),
		CompositeCacheTTL: time.Second * time.Duration(getEnvInt("COMPOSITE_CACHE_TTL_SECONDS", 600)),
		StylePresetsPath:  os.Getenv("STYLE_PRESETS_PATH"),
		BackgroundRemoval: strings.TrimSpace(os.Getenv("BACKGROUND_REMOVAL_COMMAND")),

		QueueBackend: strings.ToLower(getEnv("QUEUE_BACKEND", "postgres")),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "generation-jobs"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "generation-workers"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MaxGenerationAttempts < 1 {
		return nil, fmt.Errorf("MAX_GENERATION_ATTEMPTS must be at least 1")
	}
	if cfg.MaxEvaluationRetries < 0 {
		cfg.MaxEvaluationRetries = 0
	}
	if cfg.StaleRunAfter > 0 && cfg.StaleRunAfter < time.Minute {
		return nil, fmt.Errorf("STALE_RUN_SECONDS must be at least 60")
	}
	if cfg.WorkerSlots < 1 {
		cfg.WorkerSlots = 1
	}
	switch cfg.QueueBackend {
	case "postgres":
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("KAFKA_BROKERS is required when QUEUE_BACKEND=kafka")
		}
	default:
		return nil, fmt.Errorf("unsupported QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
