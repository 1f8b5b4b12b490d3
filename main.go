package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"report-match-engine/config"
	"report-match-engine/database"
	"report-match-engine/handlers"
	"report-match-engine/index"
	"report-match-engine/matcher"
	"report-match-engine/metrics"
	"report-match-engine/models"
	"report-match-engine/rabbitmq"
	"report-match-engine/service"
)

func main() {
	cfg := config.Load()
	log.SetLevelFromString(cfg.LogLevel)

	metrics.Register()

	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.WithError(err).Fatal("failed to create tables")
	}

	// One index set per report kind; lost reports are searched against
	// the found population and vice versa.
	indexes := map[string]*matcher.Indexes{
		models.ReportKindLost:  newIndexes(),
		models.ReportKindFound: newIndexes(),
	}

	// Notification publishing is best-effort; the engine runs without
	// it and the dispatcher retries out-of-band.
	var notifier service.Notifier
	publisher, err := rabbitmq.NewPublisher(
		cfg.RabbitMQ.GetAMQPURL(),
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.NotificationRoutingKey,
	)
	if err != nil {
		log.WithError(err).Warn("failed to initialize RabbitMQ publisher, notifications disabled")
	} else {
		notifier = publisher
		defer publisher.Close()
	}

	engine := service.NewService(cfg, db, notifier, indexes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start match engine")
	}
	defer engine.Stop()

	// Report lifecycle events trigger generation; the HTTP endpoint
	// covers manual and backfill runs.
	subscriber, err := rabbitmq.NewSubscriber(
		cfg.RabbitMQ.GetAMQPURL(),
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.Queue,
		cfg.RabbitMQ.ReportEventBindingKey,
		cfg.Workers,
	)
	if err != nil {
		log.WithError(err).Warn("failed to initialize RabbitMQ subscriber, running HTTP-only")
	} else {
		subscriber.Start(ctx, engine.HandleReportEvent)
		defer subscriber.Close()
	}

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Admin-User"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.NewHandlers(engine)
	h.Register(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	log.Info("server exited")
}

func newIndexes() *matcher.Indexes {
	return &matcher.Indexes{
		Embedding: index.NewMemoryEmbeddingIndex(),
		Geo:       index.NewMemoryGeoIndex(),
		Hash:      index.NewMemoryImageHashIndex(),
	}
}
