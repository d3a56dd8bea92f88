package service

import (
	"context"

	"github.com/feed-system/feed-system/internal/cache"
	"github.com/feed-system/feed-system/internal/repository"
	"github.com/feed-system/feed-system/pkg/logger"
)

// FollowService implements add_follow/remove_follow (component H). The
// edge mutation and the celebrity reclassification already happen
// atomically inside FollowRepository; this layer's only added
// responsibility is invalidating the actor's cached timeline afterward, so
// the next read does not serve a stale push-only page. The dropped entries
// are not rebuilt: the next read sees an empty push timeline (merged with
// any celebrity pull) until the fan-out worker writes new posts into it.
type FollowService struct {
	follows   *repository.FollowRepository
	timelines *cache.TimelineCache
	log       *logger.Logger
}

func NewFollowService(follows *repository.FollowRepository, timelines *cache.TimelineCache, log *logger.Logger) *FollowService {
	return &FollowService{follows: follows, timelines: timelines, log: log}
}

func (s *FollowService) Follow(ctx context.Context, actorID, targetID int64) error {
	if err := s.follows.AddFollow(ctx, actorID, targetID); err != nil {
		return err
	}
	s.invalidate(ctx, actorID)
	return nil
}

func (s *FollowService) Unfollow(ctx context.Context, actorID, targetID int64) error {
	if err := s.follows.RemoveFollow(ctx, actorID, targetID); err != nil {
		return err
	}
	s.invalidate(ctx, actorID)
	return nil
}

func (s *FollowService) invalidate(ctx context.Context, actorID int64) {
	if err := s.timelines.Invalidate(ctx, actorID); err != nil {
		s.log.WithError(err).WithField("user_id", actorID).Warn("failed to invalidate timeline cache after follow change")
	}
}
