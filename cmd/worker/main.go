package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"teamshots/internal/adapter/repo"
	"teamshots/internal/classifier"
	"teamshots/internal/composer"
	"teamshots/internal/evaluator"
	"teamshots/internal/infra"
	"teamshots/internal/infra/credentials"
	"teamshots/internal/ledger"
	"teamshots/internal/prompt"
	"teamshots/internal/providers/genai"
	"teamshots/internal/providers/image"
	"teamshots/internal/providers/qwen"
	"teamshots/internal/queue"
	"teamshots/internal/storage"
	"teamshots/internal/worker"
	"teamshots/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	if err := infra.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker: migrations failed")
	}
	runner := infra.NewSQLRunner(pool, logger)

	fileStore, err := storage.NewFileStore(absPath(cfg.StoragePath))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	cache, err := storage.NewCompositeCache(cfg.CompositeCacheDir, cfg.CompositeCacheTTL, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure composite cache")
	}
	go cache.Janitor(ctx, cfg.CompositeCacheTTL/2)

	catalog := prompt.DefaultCatalog()
	if cfg.StylePresetsPath != "" {
		if catalog, err = prompt.LoadCatalog(cfg.StylePresetsPath); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.StylePresetsPath).Msg("worker: failed to load style presets")
		}
	}

	creds := credentials.NewStore(runner)
	geminiKey := resolveKey(ctx, creds, credentials.ProviderGemini, cfg.GeminiAPIKey, logger)
	qwenKey := resolveKey(ctx, creds, credentials.ProviderQwen, cfg.QwenAPIKey, logger)

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout + 30*time.Second}
	geminiClient, err := genai.NewClient(genai.Options{
		APIKey:     geminiKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure gemini client")
	}
	qwenClient, err := qwen.NewClient(qwen.Options{
		APIKey:         qwenKey,
		BaseURL:        cfg.QwenBaseURL,
		Model:          cfg.QwenModel,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure qwen client")
	}

	generator, err := image.NewGenerator(cfg.ImageProvider, image.Deps{Gemini: geminiClient, Qwen: qwenClient, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to select image provider")
	}

	textModel := geminiClient.WithModel(cfg.JudgeModel)
	var judge evaluator.Judge = evaluator.StaticJudge{}
	var selfieClassifier worker.SelfieClassifier
	if textModel.HasCredentials() {
		judge = evaluator.New(evaluator.Options{Model: textModel, Logger: &logger})
		selfieClassifier = classifier.New(classifier.Options{Model: textModel, Logger: &logger})
	} else {
		logger.Warn().Msg("worker: no judge credentials, candidates are only pre-checked and selfies stay unclassified")
	}

	generations := repo.NewGenerationRepository(runner)
	ledgerSvc := ledger.NewService(ledger.NewPGStore(runner), &logger)

	controller := workflow.NewController(workflow.Deps{
		Composer:  composer.New(composer.Options{Cache: cache, Logger: &logger}),
		Builder:   prompt.NewBuilder(catalog),
		Generator: generator,
		Judge:     judge,
		Costs:     ledgerSvc,
		Cancel:    generations,
		Observer:  worker.ProgressObserver(generations, &logger),
		Logger:    &logger,
	}, workflow.Options{
		MaxAttempts:          cfg.MaxGenerationAttempts,
		MaxEvaluationRetries: cfg.MaxEvaluationRetries,
		GenerationTimeout:    cfg.ProviderTimeout,
		EvaluationTimeout:    cfg.JudgeTimeout,
		QuotaBackoff:         cfg.QuotaBackoff,
	})

	records := queue.NewRecords(runner)
	source, err := newSource(cfg, records, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure queue")
	}
	defer source.Close()

	var remover worker.BackgroundRemover
	if r := worker.NewCommandRemover(cfg.BackgroundRemoval, cfg.ProviderTimeout); r != nil {
		remover = r
	}

	w := worker.New(worker.Deps{
		Source:      source,
		Generations: generations,
		Selfies:     repo.NewSelfieRepository(runner),
		Storage:     fileStore,
		Classifier:  selfieClassifier,
		Ledger:      ledgerSvc,
		Controller:  controller,
		Remover:     remover,
		Logger:      &logger,
	}, worker.Options{
		Slots:         cfg.WorkerSlots,
		SourceBackoff: cfg.JobPollInterval,
		Heartbeat:     cfg.StaleRunAfter / 4,
	})

	go worker.RunRefundSweeper(ctx, cfg.RefundSweepInterval, generations, ledgerSvc, &logger)
	go queue.RunReclaimer(ctx, records, cfg.StaleRunAfter/2, cfg.StaleRunAfter, &logger)

	logger.Info().
		Str("provider", generator.Name()).
		Str("judge", judge.Name()).
		Str("queue", cfg.QueueBackend).
		Int("slots", cfg.WorkerSlots).
		Msg("worker: configured")

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func newSource(cfg *infra.Config, records *queue.Records, logger *infra.Logger) (queue.Source, error) {
	switch cfg.QueueBackend {
	case "kafka":
		reader := queue.NewKafkaReader(queue.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroupID})
		return queue.NewKafkaSource(reader, records, cfg.StaleRunAfter, cfg.JobPollInterval, logger), nil
	case "postgres":
		return queue.NewPostgresSource(records, cfg.JobPollInterval, logger), nil
	default:
		return nil, errors.New("unsupported queue backend " + cfg.QueueBackend)
	}
}

func resolveKey(ctx context.Context, store *credentials.Store, provider, explicit string, logger infra.Logger) string {
	key, err := store.Resolve(ctx, provider, explicit)
	if err != nil {
		logger.Warn().Err(err).Str("provider", provider).Msg("worker: failed to load api key from store")
		return explicit
	}
	return key
}

func absPath(p string) string {
	if p == "" {
		p = "./storage"
	}
	if filepath.IsAbs(p) {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
