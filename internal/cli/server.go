package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/config"
	"assessment-session-service/internal/evaluator"
	"assessment-session-service/internal/infra/events"
	"assessment-session-service/internal/infra/memory"
	"assessment-session-service/internal/infra/postgres"
	redisinfra "assessment-session-service/internal/infra/redis"
	"assessment-session-service/internal/question"
	"assessment-session-service/internal/submission"
	transport "assessment-session-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg)
	checks := map[string]transport.Checker{}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	// --- Postgres ---
	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		db, err = openBun(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := runMigrations(ctx, db, logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()
		checks["postgres"] = transport.CheckFunc(func(ctx context.Context) error { return pool.Ping(ctx) })
		logger.Info("connected to postgres")
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		checks["redis"] = transport.CheckFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	// --- Question bank ---
	source, err := questionSource(cfg, pool)
	if err != nil {
		return err
	}
	cacheTTL := config.TTLDuration(cfg.Questions.CacheTTL, 10*time.Minute)
	if redisClient != nil {
		source = redisinfra.NewQuestionCache(redisClient, source, cacheTTL)
	} else {
		source = memory.NewQuestionCache(source, cacheTTL)
	}
	loader := question.NewLoader(source, logger, cfg.Questions.FetchConcurrency)

	// --- Submission ---
	var submitter submission.Submitter = memory.NewResultStore()
	if db != nil {
		submitter = postgres.NewResultStore(db)
	}
	opts := []submission.Option{
		submission.WithTimeout(config.TTLDuration(cfg.Session.SubmitTimeout, submission.DefaultTimeout)),
	}
	if cfg.AMQP.URL != "" {
		exchange := cfg.AMQP.Exchange
		if exchange == "" {
			exchange = "assessment.events"
		}
		publisher, err := events.NewPublisher(cfg.AMQP.URL, exchange, logger)
		if err != nil {
			return fmt.Errorf("connecting to amqp: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, submission.WithNotifier(publisher))
		logger.Info("publishing outcomes", "exchange", exchange)
	}
	pipeline := submission.NewPipeline(submitter, logger, opts...)

	// --- Sessions ---
	var store app.SessionRepository = memory.NewSessionStore()
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 2*time.Hour))
	}
	rules := evaluator.DefaultRules()
	rules.GuessThreshold = config.TTLDuration(cfg.Session.GuessThreshold, rules.GuessThreshold)
	if cfg.Session.PuzzlePassScore > 0 {
		rules.PuzzlePassScore = cfg.Session.PuzzlePassScore
	}
	service := app.NewAssessmentService(store, loader, pipeline, app.ServiceConfig{
		DefaultTimeLimitSeconds: int(config.TTLDuration(cfg.Session.DefaultTimeLimit, 30*time.Minute) / time.Second),
		Retention:               config.TTLDuration(cfg.Session.Retention, app.DefaultRetention),
		Session:                 app.SessionOptions{Rules: rules, Logger: logger},
	}, logger)

	// --- HTTP Server ---
	handler := transport.NewHandler(service, logger, checks)
	srv := transport.NewServer(":"+finalPort, handler.Routes(), logger)

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		return srv.Shutdown(context.Background())
	})
	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if derr := pipeline.Drain(drainCtx); derr != nil {
		logger.Warn("outcome notifications still pending at shutdown", "error", derr)
	}
	return err
}

// questionSource picks Postgres when configured, otherwise a bank file or the sample bank.
func questionSource(cfg config.Config, pool *pgxpool.Pool) (question.Source, error) {
	switch {
	case pool != nil:
		return postgres.NewQuestionSource(pool), nil
	case cfg.Questions.BankFile != "":
		return memory.LoadBankFile(cfg.Questions.BankFile)
	default:
		return memory.SampleBank(), nil
	}
}

// compile-time checks of the adapters wired above
var (
	_ question.Source       = (*postgres.QuestionSource)(nil)
	_ submission.Submitter  = (*postgres.ResultStore)(nil)
	_ submission.Notifier   = (*events.Publisher)(nil)
	_ app.SessionRepository = (*redisinfra.SessionStore)(nil)
)
