package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feed-system/feed-system/internal/apperr"
	"github.com/feed-system/feed-system/internal/models"
	"gorm.io/gorm"
)

type PostRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

func (r *PostRepository) Create(ctx context.Context, authorID int64, content string) (*models.Post, error) {
	post := &models.Post{AuthorID: authorID, Content: content}
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

func (r *PostRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("post %d: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &post, nil
}

// GetByIDs batch-hydrates posts for a merged timeline page, preserving no
// particular order — callers reorder by the scores they already have.
func (r *PostRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Post, error) {
	if len(ids) == 0 {
		return map[int64]*models.Post{}, nil
	}
	var posts []*models.Post
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("get posts by ids: %w", err)
	}
	byID := make(map[int64]*models.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	return byID, nil
}

// RecentPostsByAuthors powers both the celebrity pull path and the
// cache-miss fallback scan; `since` bounds how far back either looks.
func (r *PostRepository) RecentPostsByAuthors(ctx context.Context, authorIDs []int64, since time.Time, limit int) ([]*models.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	var posts []*models.Post
	if err := r.db.WithContext(ctx).
		Where("author_id IN ? AND created_at >= ?", authorIDs, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("recent posts by authors: %w", err)
	}
	return posts, nil
}

func (r *PostRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Post{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}
