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
	"prayerflow/internal/handler"
	"prayerflow/internal/lock"
	"prayerflow/internal/logger"
	"prayerflow/internal/queue"
	"prayerflow/internal/repository"
	"prayerflow/internal/service"
	"prayerflow/internal/tracing"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const version = "1.0.0"

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
		zl.Fatal("API server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := tracing.NewManager(cfg.Tracing.ServiceName+"-api", cfg.Tracing.Enabled, zl)
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

	// The API runs without RabbitMQ; workers then pick messages up on their next poll.
	var (
		nudger      service.NudgePublisher
		queueStatus service.ConnectionStatus
	)
	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), zl)
	if err != nil {
		zl.Warn("RabbitMQ unavailable, enqueue nudges disabled", zap.Error(err))
	} else {
		defer conn.Close()
		queueStatus = conn
		publisher, err := queue.NewPublisher(conn, cfg.RabbitMQ.NudgeQueue)
		if err != nil {
			return err
		}
		nudger = publisher
	}

	rdb := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer rdb.Close()
	cache := lock.NewRedisLock(rdb, "prayerflow:lock:", zl)

	ruleRepo := repository.NewRuleRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	queueSvc := service.NewQueueService(messageRepo, nudger, zl)
	automationSvc := service.NewAutomationService(
		service.AutomationRepositories{
			Rules:      ruleRepo,
			Requests:   repository.NewPrayerRequestRepository(db),
			Contacts:   repository.NewContactRepository(db),
			Categories: repository.NewCategoryRepository(db),
			Templates:  repository.NewTemplateRepository(db),
		},
		queueSvc,
		service.NewTemplateService(zl),
		service.ChurchInfo{Name: cfg.Church.Name, Pastor: cfg.Church.Pastor, Contact: cfg.Church.Contact},
		location,
		zl,
	)

	router := handler.NewRouter(handler.Handlers{
		Health:   handler.NewHealthHandler(service.NewHealthService(db, cfg.GetRabbitMQURL(), cache, version).WithQueueConnection(queueStatus)),
		Rules:    handler.NewRuleHandler(service.NewRuleService(ruleRepo, zl)),
		Preview:  handler.NewPreviewHandler(automationSvc),
		Messages: handler.NewMessageHandler(queueSvc, service.NewStatsService(messageRepo)),
		Events:   handler.NewEventHandler(automationSvc),
	}, zl)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("API server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
