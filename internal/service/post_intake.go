package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/feed-system/feed-system/internal/apperr"
	"github.com/feed-system/feed-system/internal/bus"
	"github.com/feed-system/feed-system/internal/models"
	"github.com/feed-system/feed-system/internal/repository"
	"github.com/feed-system/feed-system/pkg/logger"
)

const (
	minPostLength = 1
	maxPostLength = 5000
)

// PostIntake implements post creation (component E): it writes the post
// durably first, then emits a fan-out event for regular authors only.
// Celebrity authors never fan out — their posts are served by the pull
// path in the timeline reader instead.
type PostIntake struct {
	posts *repository.PostRepository
	users *repository.UserRepository
	bus   *bus.Bus
	log   *logger.Logger
}

func NewPostIntake(posts *repository.PostRepository, users *repository.UserRepository, b *bus.Bus, log *logger.Logger) *PostIntake {
	return &PostIntake{posts: posts, users: users, bus: b, log: log}
}

// Create validates and stores the post, then, for non-celebrity authors,
// publishes a post_created event. A publish failure is logged but never
// rolls back the post or fails the request — the post already exists and
// is still returned by the database fallback scan. The event is not
// retried later, so a failed publish means the post is never fanned out
// into followers' cached timelines.
func (p *PostIntake) Create(ctx context.Context, authorID int64, content string) (*models.Post, error) {
	content = strings.TrimSpace(content)
	length := utf8.RuneCountInString(content)
	if length < minPostLength || length > maxPostLength {
		return nil, fmt.Errorf("content must be between %d and %d characters: %w", minPostLength, maxPostLength, apperr.ErrInvalidArgument)
	}

	author, err := p.users.GetByID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("load author: %w", err)
	}

	post, err := p.posts.Create(ctx, authorID, content)
	if err != nil {
		return nil, fmt.Errorf("store post: %w", err)
	}

	if !author.IsCelebrity {
		event := bus.NewPostCreatedEvent(post.ID, post.AuthorID, author.IsCelebrity, post.CreatedAt)
		if err := p.bus.Publish(ctx, event); err != nil {
			p.log.WithError(err).WithField("post_id", post.ID).Error("failed to publish post_created event")
		}
	}

	return post, nil
}
