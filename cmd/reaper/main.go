package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"productshot/internal/adapter/repo"
	"productshot/internal/dispatch"
	"productshot/internal/infra"
	"productshot/internal/job"
)

// Standalone reaper for deployments that run the sweep outside the API
// process. The API binary runs its own reaper; run one or the other, not
// both (running both is harmless, just redundant: sweeps are guarded).
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	jobRepo := repo.NewJobRepository(dbpool)
	dispatcher := dispatch.NewClient(cfg.DispatchWebhookURL, cfg.CallbackURL(), cfg.DispatchTimeout, logger)
	jobs := job.NewService(jobRepo, dispatcher, logger)

	job.NewReaper(jobs, cfg.ReaperInterval, cfg.StaleThreshold, logger).Run(ctx)
}
