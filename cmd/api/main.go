package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"productshot/internal/adapter/repo"
	"productshot/internal/dispatch"
	httpapi "productshot/internal/http"
	"productshot/internal/http/handlers"
	"productshot/internal/infra"
	"productshot/internal/job"
	"productshot/internal/storage"
	"productshot/internal/upload"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	if err := repo.Migrate(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	var store upload.Store
	switch cfg.StorageBackend {
	case "s3":
		store, err = storage.NewS3Store(ctx, storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			PathStyle:     cfg.S3PathStyle,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	default:
		store, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to init storage")
	}

	jobRepo := repo.NewJobRepository(dbpool)
	dispatcher := dispatch.NewClient(cfg.DispatchWebhookURL, cfg.CallbackURL(), cfg.DispatchTimeout, logger)
	jobs := job.NewService(jobRepo, dispatcher, logger)
	uploads := upload.NewGateway(store, logger)

	app := handlers.NewApp(cfg, logger, jobs, uploads,
		repo.NewPromptPresetRepository(dbpool),
		repo.NewCustomPromptRepository(dbpool))

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	// Background staleness reaper. Cancelled on shutdown with the server.
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go job.NewReaper(jobs, cfg.ReaperInterval, cfg.StaleThreshold, logger).Run(reaperCtx)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
