package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/learnflow/learnflow/agent/feedback"
	"github.com/learnflow/learnflow/agent/journey"
	"github.com/learnflow/learnflow/agent/perfanalyzer"
	"github.com/learnflow/learnflow/agent/profiler"
	"github.com/learnflow/learnflow/agent/quizgen"
	"github.com/learnflow/learnflow/agent/recommend"
	"github.com/learnflow/learnflow/agent/structured"
	"github.com/learnflow/learnflow/api/handlers"
	"github.com/learnflow/learnflow/config"
	"github.com/learnflow/learnflow/internal/cache"
	"github.com/learnflow/learnflow/internal/metrics"
	"github.com/learnflow/learnflow/internal/server"
	"github.com/learnflow/learnflow/jobqueue"
	"github.com/learnflow/learnflow/llm/providers/openaicompat"
)

// Job types handled by the worker.
const (
	jobOnboarding          = "onboarding"
	jobJourneyGeneration   = "journey_generation"
	jobQuizGeneration      = "quiz_generation"
	jobPerformanceAnalysis = "performance_analysis"
	jobRecommendations     = "recommendations"
	jobFeedback            = "feedback"
)

// application wires every component together.
type application struct {
	cfg    *config.Config
	logger *zap.Logger

	redis     *redis.Client
	queue     *jobqueue.Queue
	worker    *jobqueue.Worker
	cache     *cache.Manager
	collector *metrics.Collector
	httpSrv   *server.Manager
}

func newApplication(cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	app.redis = redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	app.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)

	app.cache = cache.NewManager(app.redis, cfg.Cache, logger)
	app.cache.SetRecorder(app.collector)

	app.queue = jobqueue.NewQueue(app.redis, cfg.Queue, logger)
	app.worker = jobqueue.NewWorker(app.queue, cfg.Worker, logger)
	app.worker.SetRecorder(app.collector)

	gen, err := app.buildGenerator()
	if err != nil {
		return nil, err
	}
	app.registerProcessors(gen)

	jobs := handlers.NewJobsHandler(app.queue, app.collector, logger)
	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"redis": app.queue,
	}, logger)

	router := handlers.NewRouter(handlers.RouterConfig{
		Jobs:     jobs,
		Health:   health,
		Metrics:  app.collector.Handler(),
		Recorder: app.collector,
	})
	app.httpSrv = server.NewManager(router, cfg.Server, logger)

	return app, nil
}

// buildGenerator assembles the structured generation chain from the
// configured backends, in declaration order.
func (app *application) buildGenerator() (*structured.Generator, error) {
	if len(app.cfg.LLM.Backends) == 0 {
		return nil, fmt.Errorf("at least one llm backend must be configured")
	}

	backends := make([]structured.Backend, 0, len(app.cfg.LLM.Backends))
	for _, b := range app.cfg.LLM.Backends {
		provider := openaicompat.New(openaicompat.Config{
			ProviderName:      b.Provider,
			APIKey:            b.APIKey,
			BaseURL:           b.BaseURL,
			DefaultModel:      b.Model,
			Timeout:           b.Timeout,
			RequestsPerSecond: b.RequestsPerSecond,
		}, app.logger)
		backends = append(backends, structured.Backend{
			Provider: provider,
			Model:    b.Model,
		})
	}

	policy := app.cfg.LLM.Retry
	return structured.NewGenerator(backends, app.logger,
		structured.WithAttempts(app.cfg.LLM.Attempts),
		structured.WithBackoff(&policy),
		structured.WithObserver(app.collector.GenerationAttempt),
	)
}

// registerProcessors binds the agent pipelines to their job types. Each
// processor unmarshals its own params, reports progress through the queue,
// and writes derived data to the cache before returning the result.
func (app *application) registerProcessors(gen *structured.Generator) {
	profilerAgent := profiler.New(gen, app.logger)
	journeyAgent := journey.New(gen, app.logger)
	quizAgent := quizgen.New(gen, app.logger)
	analyzerAgent := perfanalyzer.New(gen, app.logger)
	recommendAgent := recommend.New(gen, app.logger)
	coach := feedback.New(gen, app.logger)

	app.worker.Register(jobOnboarding, func(ctx context.Context, params []byte, jobID string) (any, error) {
		var data profiler.OnboardingData
		if err := json.Unmarshal(params, &data); err != nil {
			return nil, fmt.Errorf("invalid onboarding params: %w", err)
		}

		profile, err := profilerAgent.BuildProfile(ctx, data, func(stage string, percent int) {
			if perr := app.queue.SetProgress(ctx, jobID, percent, stage); perr != nil {
				app.logger.Warn("progress update failed", zap.String("job_id", jobID), zap.Error(perr))
			}
		})
		if err != nil {
			return nil, err
		}

		if err := app.cache.SetJSON(ctx, cache.ProfileKey(data.UserID), profile, cache.ProfileTTL); err != nil {
			app.logger.Warn("profile cache write failed", zap.String("user_id", data.UserID), zap.Error(err))
		}
		return profile, nil
	})

	app.worker.Register(jobJourneyGeneration, func(ctx context.Context, params []byte, jobID string) (any, error) {
		var input journey.Input
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("invalid journey params: %w", err)
		}

		path, err := journeyAgent.Design(ctx, input, func(stage string, percent int) {
			if perr := app.queue.SetProgress(ctx, jobID, percent, stage); perr != nil {
				app.logger.Warn("progress update failed", zap.String("job_id", jobID), zap.Error(perr))
			}
		})
		if err != nil {
			return nil, err
		}

		if err := app.cache.SetJSON(ctx, cache.JourneyKey(input.UserID), path, cache.JourneyTTL); err != nil {
			app.logger.Warn("journey cache write failed", zap.String("user_id", input.UserID), zap.Error(err))
		}
		return path, nil
	})

	app.worker.Register(jobQuizGeneration, func(ctx context.Context, params []byte, jobID string) (any, error) {
		var req quizgen.Request
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid quiz params: %w", err)
		}

		quiz, err := quizAgent.Generate(ctx, req)
		if err != nil {
			return nil, err
		}

		if req.UserID != "" {
			if err := app.cache.SetJSON(ctx, cache.QuizKey(req.UserID, req.Topic), quiz, cache.QuizTTL); err != nil {
				app.logger.Warn("quiz cache write failed", zap.String("user_id", req.UserID), zap.Error(err))
			}
		}
		return quiz, nil
	})

	app.worker.Register(jobPerformanceAnalysis, func(ctx context.Context, params []byte, jobID string) (any, error) {
		var input perfanalyzer.Input
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("invalid performance params: %w", err)
		}

		analysis, err := analyzerAgent.Analyze(ctx, input)
		if err != nil {
			return nil, err
		}

		if err := app.cache.SetJSON(ctx, cache.PerformanceKey(input.UserID), analysis, cache.PerformanceTTL); err != nil {
			app.logger.Warn("performance cache write failed", zap.String("user_id", input.UserID), zap.Error(err))
		}
		for topic, update := range analysis.MasteryUpdates {
			if err := app.cache.SetJSON(ctx, cache.MasteryKey(input.UserID, topic), update, cache.MasteryTTL); err != nil {
				app.logger.Warn("mastery cache write failed",
					zap.String("user_id", input.UserID), zap.String("topic", topic), zap.Error(err))
			}
		}
		// Fresh analysis supersedes any cached recommendations.
		if err := app.cache.Delete(ctx, cache.RecommendationsKey(input.UserID)); err != nil {
			app.logger.Warn("recommendations invalidation failed", zap.String("user_id", input.UserID), zap.Error(err))
		}
		return analysis, nil
	})

	app.worker.Register(jobRecommendations, func(ctx context.Context, params []byte, jobID string) (any, error) {
		var input recommend.Input
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("invalid recommendation params: %w", err)
		}

		result, err := recommendAgent.Recommend(ctx, input)
		if err != nil {
			return nil, err
		}

		if err := app.cache.SetJSON(ctx, cache.RecommendationsKey(input.UserID), result, cache.RecommendationsTTL); err != nil {
			app.logger.Warn("recommendations cache write failed", zap.String("user_id", input.UserID), zap.Error(err))
		}
		return result, nil
	})

	app.worker.Register(jobFeedback, func(ctx context.Context, params []byte, jobID string) (any, error) {
		var req feedback.Request
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid feedback params: %w", err)
		}
		return coach.Respond(ctx, req)
	})
}

// Run starts the worker and the HTTP server and blocks until shutdown.
func (app *application) Run() error {
	ctx := context.Background()

	if err := app.queue.Ping(ctx); err != nil {
		// The worker tolerates a Redis outage with backoff; a warning at
		// startup is enough.
		app.logger.Warn("redis not reachable at startup", zap.Error(err))
	}

	app.worker.Start()

	if err := app.httpSrv.Start(); err != nil {
		_ = app.worker.Stop()
		return err
	}

	app.logger.Info("learnflow started",
		zap.String("addr", app.httpSrv.Addr()),
		zap.Int("backends", len(app.cfg.LLM.Backends)),
	)

	app.httpSrv.WaitForShutdown()
	return app.shutdown()
}

// shutdown stops the worker and releases shared resources. The HTTP server
// is already down when this runs.
func (app *application) shutdown() error {
	var g errgroup.Group

	g.Go(app.worker.Stop)
	g.Go(app.cache.Close)

	err := g.Wait()
	if cerr := app.redis.Close(); cerr != nil && err == nil {
		err = cerr
	}

	app.logger.Info("learnflow stopped")
	return err
}
