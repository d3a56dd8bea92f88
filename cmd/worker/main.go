package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feed-system/feed-system/internal/bus"
	"github.com/feed-system/feed-system/internal/cache"
	"github.com/feed-system/feed-system/internal/config"
	"github.com/feed-system/feed-system/internal/fanout"
	"github.com/feed-system/feed-system/internal/repository"
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
	log.Info("starting feed system fan-out worker")

	db, err := repository.NewDatabase(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	redisClient := pkgcache.NewRedisClient(cfg.Cache.URL, "", 0, 50, 10)
	defer redisClient.Close()

	bgCtx := context.Background()
	if err := redisClient.Ping(bgCtx); err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}

	brokers := []string{cfg.Bus.URL}
	producer := queue.NewKafkaProducer(brokers, eventTopic)
	defer producer.Close()
	consumer := queue.NewKafkaConsumer(brokers, eventTopic, "feed-fanout-worker")
	defer consumer.Close()

	eventBus := bus.New(producer, consumer, redisClient, cfg.Bus, log)

	userRepo := repository.NewUserRepository(db.DB)
	followRepo := repository.NewFollowRepository(db.DB, cfg.Feed.CelebrityThreshold)
	timelineCache := cache.NewTimelineCache(redisClient, cfg.Feed.TimelineCap)

	worker := fanout.New(eventBus, userRepo, followRepo, timelineCache, log, cfg.Feed.WorkerConcurrency, cfg.Feed.FanoutBatchSize)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	eventBus.Start(runCtx)

	done := make(chan struct{})
	go func() {
		worker.Run(runCtx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	cancelRun()
	<-done

	log.Info("worker exited")
}
