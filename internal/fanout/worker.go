// Package fanout implements the fan-out worker (component F): it drains
// post_created events from the event bus and pushes each post into every
// follower's timeline cache.
package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/feed-system/feed-system/internal/bus"
	"github.com/feed-system/feed-system/internal/cache"
	"github.com/feed-system/feed-system/internal/repository"
	"github.com/feed-system/feed-system/pkg/logger"
)

const (
	receiveBatchSize = 10
	receiveWait      = 20 * time.Second
)

type Worker struct {
	bus       *bus.Bus
	users     *repository.UserRepository
	follows   *repository.FollowRepository
	timelines *cache.TimelineCache
	log       *logger.Logger

	concurrency int
	chunkSize   int
}

func New(b *bus.Bus, users *repository.UserRepository, follows *repository.FollowRepository, timelines *cache.TimelineCache, log *logger.Logger, concurrency, chunkSize int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &Worker{bus: b, users: users, follows: follows, timelines: timelines, log: log, concurrency: concurrency, chunkSize: chunkSize}
}

// Run receives batches until ctx is cancelled, processing up to
// concurrency messages in parallel per batch. On shutdown it waits for
// in-flight batches to finish before returning, so a message is never
// abandoned mid-fan-out: a received batch is processed with a context that
// the run context's cancellation does not reach.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := w.bus.Receive(ctx, receiveBatchSize, receiveWait)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			w.log.WithError(err).Error("fan-out worker receive failed")
			continue
		}
		if len(messages) == 0 {
			continue
		}
		w.processBatch(context.WithoutCancel(ctx), messages)
	}
}

func (w *Worker) processBatch(ctx context.Context, messages []bus.Message) {
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, msg := range messages {
		msg := msg
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.processOne(ctx, msg)
		}()
	}
	wg.Wait()
}

func (w *Worker) processOne(ctx context.Context, msg bus.Message) {
	log := w.log.WithField("post_id", msg.Event.PostID).WithField("author_id", msg.Event.AuthorID)

	author, err := w.users.GetByID(ctx, msg.Event.AuthorID)
	if err != nil {
		log.WithError(err).Error("fan-out worker could not load author, leaving for redelivery")
		return
	}

	// The author may have crossed the celebrity threshold between publish
	// and receipt; the pull path in the timeline reader already covers
	// celebrities, so fanning out here would just be wasted writes.
	if author.IsCelebrity {
		if err := w.bus.Ack(ctx, msg.ReceiptID); err != nil {
			log.WithError(err).Warn("failed to ack skipped celebrity fan-out")
		}
		return
	}

	if err := w.fanOut(ctx, msg); err != nil {
		log.WithError(err).Error("fan-out worker failed, leaving for redelivery")
		return
	}

	if err := w.bus.Ack(ctx, msg.ReceiptID); err != nil {
		log.WithError(err).Warn("failed to ack completed fan-out")
	}
}

// fanOut pages through the author's followers and writes the post into
// each follower's timeline cache. Only a fully successful pass acks the
// message; a partial failure mid-page is safe to retry since each timeline
// write is independently idempotent (ZADD of the same member/score twice
// is a no-op). Each follower in a chunk gets its own AddMany call (one
// cache round trip per follower, not one per chunk); AddMany also records
// the post in the post_owners reverse index so a later delete can find
// every timeline it was fanned out into.
func (w *Worker) fanOut(ctx context.Context, msg bus.Message) error {
	cursor := int64(0)
	for {
		followerIDs, next, err := w.follows.FollowersOf(ctx, msg.Event.AuthorID, cursor, w.chunkSize)
		if err != nil {
			return fmt.Errorf("enumerate followers: %w", err)
		}
		if len(followerIDs) == 0 {
			return nil
		}
		entry := cache.Entry{PostID: msg.Event.PostID, Score: msg.Event.CreatedAt}
		for _, followerID := range followerIDs {
			if err := w.timelines.AddMany(ctx, followerID, []cache.Entry{entry}); err != nil {
				return fmt.Errorf("write timeline for follower %d: %w", followerID, err)
			}
		}
		if len(followerIDs) < w.chunkSize {
			return nil
		}
		cursor = next
	}
}
