package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/feed-system/feed-system/internal/apperr"
	"github.com/feed-system/feed-system/internal/classify"
	"github.com/feed-system/feed-system/internal/models"
	"gorm.io/gorm"
)

type FollowRepository struct {
	db                 *gorm.DB
	celebrityThreshold int64
}

func NewFollowRepository(db *gorm.DB, celebrityThreshold int64) *FollowRepository {
	return &FollowRepository{db: db, celebrityThreshold: celebrityThreshold}
}

// AddFollow inserts the edge, increments both denormalized counters, and
// re-evaluates the followee's celebrity flag, all inside one transaction,
// so a concurrent follow of the same user can never observe a counter
// update without the matching reclassification.
func (r *FollowRepository) AddFollow(ctx context.Context, followerID, followingID int64) error {
	if followerID == followingID {
		return fmt.Errorf("cannot follow self: %w", apperr.ErrInvalidArgument)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		edge := &models.Follow{FollowerID: followerID, FollowingID: followingID}
		if err := tx.Create(edge).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("already following: %w", apperr.ErrConflict)
			}
			return fmt.Errorf("insert follow edge: %w", err)
		}

		if err := tx.Model(&models.User{}).
			Where("id = ?", followerID).
			UpdateColumn("following_count", gorm.Expr("following_count + 1")).Error; err != nil {
			return fmt.Errorf("increment following_count: %w", err)
		}

		if err := tx.Model(&models.User{}).
			Where("id = ?", followingID).
			UpdateColumn("follower_count", gorm.Expr("follower_count + 1")).Error; err != nil {
			return fmt.Errorf("increment follower_count: %w", err)
		}

		return reclassify(tx, followingID, r.celebrityThreshold)
	})
}

// RemoveFollow is the symmetric teardown; missing edge surfaces NotFound.
func (r *FollowRepository) RemoveFollow(ctx context.Context, followerID, followingID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("follower_id = ? AND following_id = ?", followerID, followingID).Delete(&models.Follow{})
		if res.Error != nil {
			return fmt.Errorf("delete follow edge: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("not following: %w", apperr.ErrNotFound)
		}

		if err := tx.Model(&models.User{}).
			Where("id = ? AND following_count > 0", followerID).
			UpdateColumn("following_count", gorm.Expr("following_count - 1")).Error; err != nil {
			return fmt.Errorf("decrement following_count: %w", err)
		}

		if err := tx.Model(&models.User{}).
			Where("id = ? AND follower_count > 0", followingID).
			UpdateColumn("follower_count", gorm.Expr("follower_count - 1")).Error; err != nil {
			return fmt.Errorf("decrement follower_count: %w", err)
		}

		return reclassify(tx, followingID, r.celebrityThreshold)
	})
}

func reclassify(tx *gorm.DB, userID int64, threshold int64) error {
	var user models.User
	if err := tx.Select("follower_count").First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("reload follower_count: %w", err)
	}
	isCelebrity := classify.IsCelebrity(user.FollowerCount, threshold)
	if err := tx.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("is_celebrity", isCelebrity).Error; err != nil {
		return fmt.Errorf("update is_celebrity: %w", err)
	}
	return nil
}

// FollowersOf enumerates follower ids for the given user in pages, so the
// fan-out worker never has to materialize the full follower set at once.
func (r *FollowRepository) FollowersOf(ctx context.Context, userID int64, cursor int64, limit int) (ids []int64, nextCursor int64, err error) {
	var edges []models.Follow
	q := r.db.WithContext(ctx).Where("following_id = ? AND id > ?", userID, cursor).Order("id ASC").Limit(limit)
	if err := q.Find(&edges).Error; err != nil {
		return nil, 0, fmt.Errorf("enumerate followers: %w", err)
	}
	ids = make([]int64, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.FollowerID)
		nextCursor = e.ID
	}
	return ids, nextCursor, nil
}

// FollowedCelebritiesOf returns the ids of celebrities the given user follows.
func (r *FollowRepository) FollowedCelebritiesOf(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Table("follows").
		Joins("JOIN users ON users.id = follows.following_id").
		Where("follows.follower_id = ? AND users.is_celebrity = ?", userID, true).
		Pluck("users.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("followed celebrities: %w", err)
	}
	return ids, nil
}

// FollowedUserIDs returns every user id the given user follows, used by the
// database fallback path when the cache is unavailable.
func (r *FollowRepository) FollowedUserIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ?", userID).
		Pluck("following_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("followed user ids: %w", err)
	}
	return ids, nil
}

func (r *FollowRepository) GetFollowers(ctx context.Context, userID int64, offset, limit int) ([]*models.User, error) {
	var users []*models.User
	if err := r.db.WithContext(ctx).
		Table("users").
		Joins("JOIN follows ON follows.follower_id = users.id").
		Where("follows.following_id = ?", userID).
		Order("follows.id DESC").
		Offset(offset).
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("get followers: %w", err)
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
