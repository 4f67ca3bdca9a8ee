package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/formiq/platform/pkg/cache"
	"github.com/formiq/platform/pkg/common/config"
	"github.com/formiq/platform/pkg/common/database"
	"github.com/formiq/platform/pkg/common/kafka"
	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/gateway/auth"
	"github.com/formiq/platform/pkg/gateway/middleware"
	"github.com/formiq/platform/pkg/gateway/routes"
	"github.com/formiq/platform/pkg/notification"
	"github.com/formiq/platform/pkg/origin"
	"github.com/formiq/platform/pkg/project"
	"github.com/formiq/platform/pkg/ratelimit"
	"github.com/formiq/platform/pkg/submission"
	"github.com/formiq/platform/pkg/ticket"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init("gateway")
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}
	rdb := database.GetRedis(cfg)

	projectRepo := project.NewRepository(db)
	submissionRepo := submission.NewRepository(db)
	ticketRepo := ticket.NewRepository(db)
	for name, migrate := range map[string]func() error{
		"projects":    projectRepo.AutoMigrate,
		"submissions": submissionRepo.AutoMigrate,
		"tickets":     ticketRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("table", name).Fatal("Failed to migrate schema")
		}
	}

	versioned := cache.NewVersioned(rdb, "owner", cfg.StoreTimeout)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic, cfg.StoreTimeout)
	dispatcher := notification.NewDispatcher(producer)

	projects := project.NewService(projectRepo, versioned, cfg.ProjectCacheTTL, cfg.ListCacheTTL)
	policy := ratelimit.NewPolicy(
		ratelimit.NewEvaluator(rdb, cfg.StoreTimeout),
		ratelimit.DefaultRules(cfg),
		int64(cfg.ProjectMultiplier),
	)
	gate := origin.NewGate()
	submissions := submission.NewService(submissionRepo, projects, gate, policy, versioned, dispatcher)
	tickets := ticket.NewService(ticketRepo, dispatcher, cfg.SupportEmail)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)

	routes.NewOpsHandler(map[string]routes.Pinger{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": database.PingRedis,
	}).Register(router)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	submissionHandler := submission.NewHTTPHandler(submissions, gate, cfg.TrustProxy)
	submissionHandler.RegisterPublic(api)
	ticket.NewHTTPHandler(tickets).Register(api)

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		logger.Log.WithError(err).Warn("Dashboard auth not configured, owner routes disabled")
	} else {
		dashboard := api.NewRoute().Subrouter()
		dashboard.Use(middleware.RequireOwner(verifier))
		project.NewHTTPHandler(projects).Register(dashboard)
		submissionHandler.Register(dashboard)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Gateway started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	if err := producer.Close(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close notification producer")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close Redis")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close PostgreSQL")
	}

	logger.Log.Info("Gateway stopped")
}
