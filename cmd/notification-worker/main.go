package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/formiq/platform/pkg/common/config"
	"github.com/formiq/platform/pkg/common/kafka"
	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/models"
	"github.com/formiq/platform/pkg/gateway/routes"
	"github.com/formiq/platform/pkg/notification"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger.Init("notification-worker")
	cfg := config.Load()

	templates, err := notification.LoadTemplates(cfg.NotifyTemplatesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load notification templates")
	}
	templates = templates.WithOverrides(map[string]string{
		models.JobFormSubmission: cfg.SubmissionTemplateID,
		models.JobSupportTicket:  cfg.TicketTemplateID,
	})

	var mailer notification.Mailer = notification.LogMailer{}
	if cfg.MailAPIURL != "" {
		mailer = notification.NewHTTPMailer(notification.HTTPMailerConfig{
			URL:          cfg.MailAPIURL,
			From:         cfg.MailFrom,
			APIKey:       cfg.MailAPIKey,
			TokenURL:     cfg.MailOAuthTokenURL,
			ClientID:     cfg.MailOAuthClientID,
			ClientSecret: cfg.MailOAuthClientSecret,
			Timeout:      cfg.MailTimeout,
		})
	} else {
		logger.Log.Warn("MAIL_API_URL not set, notifications will only be logged")
	}

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.NotifyTopic, cfg.KafkaGroupID)
	dlq := kafka.NewProducer(cfg.KafkaBrokers, cfg.NotifyDLQTopic, cfg.StoreTimeout)

	worker := notification.NewWorker(consumer, dlq, mailer, templates, notification.WorkerConfig{
		Concurrency: cfg.NotifyConcurrency,
		MaxAttempts: cfg.NotifyMaxAttempts,
		BaseDelay:   cfg.NotifyRetryBaseDelay,
		SendRPS:     cfg.NotifySendRPS,
	})

	router := mux.NewRouter()
	routes.NewOpsHandler(nil).Register(router)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithFields(map[string]interface{}{
			"topic":       cfg.NotifyTopic,
			"group":       cfg.KafkaGroupID,
			"concurrency": cfg.NotifyConcurrency,
		}).Info("Notification worker started")
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving ops endpoints: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Log.WithError(err).Error("Notification worker exited with error")
	}

	if err := consumer.Close(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close consumer")
	}
	if err := dlq.Close(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close dead-letter producer")
	}
	logger.Log.Info("Notification worker stopped")
}
