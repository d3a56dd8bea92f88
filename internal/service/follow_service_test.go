package service

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	internalcache "github.com/feed-system/feed-system/internal/cache"
	"github.com/feed-system/feed-system/internal/repository"
	pkgcache "github.com/feed-system/feed-system/pkg/cache"
	"github.com/feed-system/feed-system/pkg/logger"
)

func newMockedFollowService(t *testing.T) (*FollowService, sqlmock.Sqlmock, *internalcache.TimelineCache) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	redisSrv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(redisSrv.Close)

	redisClient := pkgcache.NewRedisClient(redisSrv.Addr(), "", 0, 10, 2)
	timelines := internalcache.NewTimelineCache(redisClient, 1000)
	follows := repository.NewFollowRepository(gdb, 100)

	return NewFollowService(follows, timelines, logger.NewLogger()), mock, timelines
}

func TestFollowInvalidatesActorTimelineCache(t *testing.T) {
	svc, mock, timelines := newMockedFollowService(t)
	ctx := context.Background()

	require.NoError(t, timelines.Add(ctx, 1, 500, 1))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "follows"`).
		WithArgs(int64(1), int64(2), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`UPDATE "users" SET "following_count"=following_count \+ 1 WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "users" SET "follower_count"=follower_count \+ 1 WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT "follower_count" FROM "users" WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"follower_count"}).AddRow(int64(1)))
	mock.ExpectExec(`UPDATE "users" SET "is_celebrity"=\$1 WHERE id = \$2`).
		WithArgs(false, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.Follow(ctx, 1, 2))

	entries, err := timelines.Range(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Empty(t, entries, "cache entry must be gone after the follow invalidation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowDoesNotInvalidateCacheWhenRepositoryFails(t *testing.T) {
	svc, mock, timelines := newMockedFollowService(t)
	ctx := context.Background()

	require.NoError(t, timelines.Add(ctx, 3, 500, 1))

	err := svc.Follow(ctx, 3, 3) // self-follow: rejected before any query
	require.Error(t, err)

	entries, rerr := timelines.Range(ctx, 3, 0, 10)
	require.NoError(t, rerr)
	require.Len(t, entries, 1, "cache must be untouched when the follow itself failed")
	require.NoError(t, mock.ExpectationsWereMet())
}
