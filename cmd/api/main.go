package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feed-system/feed-system/internal/auth"
	"github.com/feed-system/feed-system/internal/bus"
	"github.com/feed-system/feed-system/internal/cache"
	"github.com/feed-system/feed-system/internal/config"
	"github.com/feed-system/feed-system/internal/httpapi"
	"github.com/feed-system/feed-system/internal/repository"
	"github.com/feed-system/feed-system/internal/service"
	pkgcache "github.com/feed-system/feed-system/pkg/cache"
	"github.com/feed-system/feed-system/pkg/logger"
	"github.com/feed-system/feed-system/pkg/queue"
)

const eventTopic = "post-created-events"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	log.Info("starting feed system API server")

	db, err := repository.NewDatabase(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	redisClient := pkgcache.NewRedisClient(cfg.Cache.URL, "", 0, 50, 10)
	defer redisClient.Close()

	bgCtx := context.Background()
	if err := redisClient.Ping(bgCtx); err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}

	brokers := []string{cfg.Bus.URL}
	producer := queue.NewKafkaProducer(brokers, eventTopic)
	defer producer.Close()

	// The API process only ever publishes events; it never calls Receive,
	// so it has no need for a Kafka consumer group of its own and must not
	// run the ingest loop (the worker process owns that).
	eventBus := bus.New(producer, nil, redisClient, cfg.Bus, log)

	userRepo := repository.NewUserRepository(db.DB)
	followRepo := repository.NewFollowRepository(db.DB, cfg.Feed.CelebrityThreshold)
	postRepo := repository.NewPostRepository(db.DB)
	timelineCache := cache.NewTimelineCache(redisClient, cfg.Feed.TimelineCap)

	tokens := auth.NewTokenIssuer(cfg.Token.Secret, cfg.Token.TTL)
	credentials := auth.NewCredentialService(userRepo, tokens)
	postIntake := service.NewPostIntake(postRepo, userRepo, eventBus, log)
	timelineReader := service.NewTimelineReader(postRepo, followRepo, userRepo, timelineCache, log, cfg.Feed.CelebrityPullLookback)
	followService := service.NewFollowService(followRepo, timelineCache, log)

	handlers := httpapi.NewHandlers(credentials, postIntake, timelineReader, followService, followRepo, userRepo, postRepo, eventBus, timelineCache, db, log)
	router := httpapi.NewRouter(cfg.Server.Mode, handlers, tokens)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server exited")
}
