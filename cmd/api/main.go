package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/api"
	"github.com/reelpipe/reelpipe/internal/cleanup"
	"github.com/reelpipe/reelpipe/internal/config"
	"github.com/reelpipe/reelpipe/internal/db"
	"github.com/reelpipe/reelpipe/internal/logging"
	"github.com/reelpipe/reelpipe/internal/pipeline"
	"github.com/reelpipe/reelpipe/internal/planner"
	"github.com/reelpipe/reelpipe/internal/queue"
	"github.com/reelpipe/reelpipe/internal/renderqueue"
	"github.com/reelpipe/reelpipe/internal/retry"
	"github.com/reelpipe/reelpipe/internal/services"
	"github.com/reelpipe/reelpipe/internal/storage"
	"github.com/reelpipe/reelpipe/internal/styles"
	"github.com/reelpipe/reelpipe/internal/webhook"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(cfg.AppEnv)
	log.Info().Msg("starting reelpipe API")

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	log.Info().Msg("connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer q.Close()
	log.Info().Msg("connected to redis queue")

	objects := storage.New(cfg.StorageURL, cfg.StorageServiceKey, cfg.StorageBucket, cfg.StorageTimeout, log)

	ffmpegSvc := services.NewFFmpegService(cfg.TempDir, nil, log)
	stitcher := pipeline.NewStitcher(ffmpegSvc, objects, log)

	renderWorker := renderqueue.NewWorker(
		database, stitcher,
		cfg.RenderWorkers, cfg.RenderPollInterval, cfg.RenderMaxAttempts, cfg.StitchTimeout,
		log,
	)

	dispatcher := webhook.NewDispatcher(database, cfg.WebhookTimeout, cfg.WebhookSweepPeriod, log)

	handler := api.NewHandler(database, q, renderWorker, dispatcher, log)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Info().Msg("API key authentication enabled")
	} else {
		log.Warn().Msg("no BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	if cfg.WorkerEnabled {
		log.Info().Msg("worker enabled, starting background processing")

		openaiSvc := services.NewOpenAIService(cfg.OpenAIKey, cfg.PlannerModel, log)
		ttsSvc := services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.TTSTimeout, log)

		// Scene video provider — xAI preferred, Veo as the alternate
		var videoSvc services.SceneVideoService
		if cfg.XAIEnabled && cfg.XAIAPIKey != "" {
			videoSvc = services.NewXAIVideoService(cfg.XAIAPIKey, cfg.SceneVideoTimeout, log)
			log.Info().Msg("scene video provider: xAI Grok Imagine")
		} else {
			videoSvc = services.NewVeoService(cfg.GeminiKey, cfg.VeoModel, log)
			log.Info().Str("model", cfg.VeoModel).Msg("scene video provider: Veo")
		}

		resolver := styles.NewResolver(database, log)
		plan := planner.NewPlanner(openaiSvc, log)
		generator := pipeline.NewAssetGenerator(
			ttsSvc, videoSvc, retry.DefaultPolicy(),
			cfg.TTSTimeout, cfg.SceneVideoTimeout, cfg.AllowPartialScenes,
			log,
		)
		stager := pipeline.NewStager(objects, log)

		orch := pipeline.NewOrchestrator(
			database, resolver, plan, generator, stager, stitcher, objects,
			pipeline.Timeouts{
				Planning:   cfg.PlannerTimeout,
				Generation: cfg.SceneVideoTimeout + cfg.TTSTimeout,
				Staging:    cfg.StorageTimeout,
				Stitching:  cfg.StitchTimeout,
			},
			cfg.WebhookMaxAttempts, cfg.CleanupMaxAttempts,
			log,
		)

		workers.Add(1)
		go func() {
			defer workers.Done()
			runGenerationWorkers(workerCtx, q, orch, cfg.MaxConcurrentJobs, log)
		}()

		workers.Add(1)
		go func() {
			defer workers.Done()
			renderWorker.Run(workerCtx)
		}()

		workers.Add(1)
		go func() {
			defer workers.Done()
			dispatcher.Run(workerCtx)
		}()

		sweeper := cleanup.NewScheduler(database, objects, cfg.CleanupSweepPeriod, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			sweeper.Run(workerCtx)
		}()
	}

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	workerCancel()
	workers.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

// runGenerationWorkers drains the Redis queue, running up to maxConcurrent
// jobs at once. A job dequeued before shutdown runs to completion.
func runGenerationWorkers(ctx context.Context, q *queue.Queue, orch *pipeline.Orchestrator, maxConcurrent int, log zerolog.Logger) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	log.Info().Int("max_concurrent", maxConcurrent).Msg("generation workers started")

	for {
		if ctx.Err() != nil {
			break
		}

		env, err := q.DequeueGeneration(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("failed to dequeue generation job")
			time.Sleep(time.Second)
			continue
		}
		if env == nil {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(jobID uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()
			orch.ProcessJob(ctx, jobID)
		}(env.JobID)
	}

	wg.Wait()
	log.Info().Msg("generation workers stopped")
}
