package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"teamshots/internal/adapter/repo"
	"teamshots/internal/http/handlers"
	"teamshots/internal/http/httpapi"
	"teamshots/internal/infra"
	"teamshots/internal/ledger"
	"teamshots/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "api").Logger()

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	records := queue.NewRecords(runner)
	var publisher queue.Publisher = queue.NewPostgresPublisher(records)
	if cfg.QueueBackend == "kafka" {
		writer := queue.NewKafkaWriter(queue.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		publisher = queue.NewKafkaPublisher(writer, records)
	}
	defer publisher.Close()

	if cfg.OperatorToken == "" {
		logger.Warn().Msg("OPS_API_TOKEN not set; ops API is unauthenticated")
	}

	app := &handlers.App{
		Generations: repo.NewGenerationRepository(runner),
		Ledger:      ledger.NewService(ledger.NewPGStore(runner), &logger),
		Publisher:   publisher,
		DB:          pool,
		Logger:      logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		OperatorToken: cfg.OperatorToken,
		WriteLimit:    cfg.APIWriteLimit,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("queue", cfg.QueueBackend).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
