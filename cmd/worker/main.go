package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prayerflow/internal/config"
	"prayerflow/internal/lock"
	"prayerflow/internal/logger"
	"prayerflow/internal/queue"
	"prayerflow/internal/repository"
	"prayerflow/internal/service"
	"prayerflow/internal/tracing"
	"prayerflow/internal/worker"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	if err := run(cfg, zl); err != nil {
		zl.Fatal("Worker failed", zap.Error(err))
	}
	zl.Info("Worker stopped")
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := tracing.NewManager(cfg.Tracing.ServiceName+"-worker", cfg.Tracing.Enabled, zl)
	if err := tracer.Initialize(ctx); err != nil {
		return err
	}
	defer tracer.Shutdown(context.Background())

	location, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	zl.Info("Connected to database")

	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), zl)
	if err != nil {
		return err
	}
	defer conn.Close()
	zl.Info("Connected to RabbitMQ")

	publisher, err := queue.NewPublisher(conn, cfg.RabbitMQ.NudgeQueue)
	if err != nil {
		return err
	}

	rdb := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer rdb.Close()
	sweepLock := lock.NewRedisLock(rdb, "prayerflow:lock:", zl)

	messageRepo := repository.NewMessageRepository(db)
	contactRepo := repository.NewContactRepository(db)

	queueSvc := service.NewQueueService(messageRepo, publisher, zl)
	automationSvc := service.NewAutomationService(
		service.AutomationRepositories{
			Rules:      repository.NewRuleRepository(db),
			Requests:   repository.NewPrayerRequestRepository(db),
			Contacts:   contactRepo,
			Categories: repository.NewCategoryRepository(db),
			Templates:  repository.NewTemplateRepository(db),
		},
		queueSvc,
		service.NewTemplateService(zl),
		service.ChurchInfo{Name: cfg.Church.Name, Pastor: cfg.Church.Pastor, Contact: cfg.Church.Contact},
		location,
		zl,
	)

	sender := service.NewSenderService(cfg.Worker.SuccessRate)
	policy := worker.DefaultRetryPolicy()
	policy.MaxRetries = cfg.Worker.MaxRetries
	policy.Base = cfg.Worker.BackoffBase

	deliverer := worker.NewDeliverer(messageRepo, contactRepo, sender, policy, zl)
	pool := worker.NewPool(messageRepo, deliverer, worker.PoolConfig{
		Workers:      cfg.Worker.Count,
		PollInterval: cfg.Worker.PollInterval,
	}, zl)

	scheduler := service.NewScheduler(automationSvc, queueSvc, sweepLock, service.SchedulerConfig{
		SweepInterval: cfg.Scheduler.SweepInterval,
		LeaseTimeout:  cfg.Worker.LeaseTimeout,
	}, zl)

	nudges, err := queue.NewConsumer(conn, cfg.RabbitMQ.NudgeQueue, func(ctx context.Context, body []byte) error {
		if _, err := queue.DecodeMessageJob(body); err != nil {
			return err
		}
		pool.Nudge()
		return nil
	}, zl)
	if err != nil {
		return err
	}

	events, err := queue.NewConsumer(conn, cfg.RabbitMQ.EventsQueue, func(ctx context.Context, body []byte) error {
		event, err := queue.DecodeLifecycleEvent(body)
		if err != nil {
			return err
		}
		result, err := automationSvc.HandleEvent(ctx, event)
		var nf *service.NotFoundError
		var ve *service.ValidationError
		if errors.As(err, &nf) || errors.As(err, &ve) {
			// redelivery cannot fix these
			zl.Warn("Dropping lifecycle event", zap.Int("prayer_request_id", event.PrayerRequestID), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		zl.Info("Lifecycle event processed",
			zap.String("type", string(event.Type)),
			zap.Int("prayer_request_id", event.PrayerRequestID),
			zap.Int("rules_fired", len(result.Fired)),
		)
		return nil
	}, zl)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return scheduler.Start(ctx) })

	g.Go(func() error {
		if err := nudges.Start(ctx); err != nil {
			return err
		}
		if err := events.Start(ctx); err != nil {
			return err
		}
		zl.Info("Consumers started",
			zap.String("nudge_queue", cfg.RabbitMQ.NudgeQueue),
			zap.String("events_queue", cfg.RabbitMQ.EventsQueue),
		)
		<-ctx.Done()
		nudges.Stop()
		events.Stop()
		return nil
	})

	g.Go(func() error {
		zl.Info("Metrics server starting", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	zl.Info("Worker started", zap.Int("workers", cfg.Worker.Count))
	return g.Wait()
}
