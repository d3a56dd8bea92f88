package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feed-system/feed-system/internal/bus"
	"github.com/feed-system/feed-system/internal/cache"
	"github.com/feed-system/feed-system/internal/config"
	"github.com/feed-system/feed-system/internal/repository"
	pkgcache "github.com/feed-system/feed-system/pkg/cache"
	"github.com/feed-system/feed-system/pkg/logger"
)

type testHarness struct {
	worker    *Worker
	bus       *bus.Bus
	mock      sqlmock.Sqlmock
	timelines *cache.TimelineCache
}

func newHarness(t *testing.T, chunkSize int) *testHarness {
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

	users := repository.NewUserRepository(gdb)
	follows := repository.NewFollowRepository(gdb, 100)
	timelines := cache.NewTimelineCache(redisClient, 1000)
	b := bus.New(nil, nil, redisClient, config.BusConfig{VisibilityTimeout: time.Minute, MaxReceives: 3}, logger.NewLogger())

	w := New(b, users, follows, timelines, logger.NewLogger(), 4, chunkSize)
	return &testHarness{worker: w, bus: b, mock: mock, timelines: timelines}
}

func TestProcessOneFansOutToFollowersAndAcks(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	event := bus.NewPostCreatedEvent(100, 1, false, time.Now())
	// stage directly through the Redis-backed pending queue, bypassing Kafka
	require.NoError(t, h.bus.Stage(ctx, event))
	messages, err := h.bus.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	h.mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_celebrity"}).AddRow(1, false))
	h.mock.ExpectQuery(`SELECT \* FROM "follows" WHERE following_id = \$1 AND id > \$2`).
		WithArgs(int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "follower_id", "following_id"}).
			AddRow(1, 10, 1).
			AddRow(2, 11, 1))

	h.worker.processOne(ctx, messages[0])

	entries, err := h.timelines.Range(ctx, 10, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entries, err = h.timelines.Range(ctx, 11, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// a fully successful fan-out acks, so a second receive finds nothing
	second, err := h.bus.Receive(ctx, 1, 200*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, second)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProcessOneSkipsFanOutForNowCelebrityAuthor(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	event := bus.NewPostCreatedEvent(200, 2, false, time.Now())
	require.NoError(t, h.bus.Stage(ctx, event))
	messages, err := h.bus.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	h.mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_celebrity"}).AddRow(2, true))

	h.worker.processOne(ctx, messages[0])

	// acked without ever querying follows
	second, err := h.bus.Receive(ctx, 1, 200*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, second)
	require.NoError(t, h.mock.ExpectationsWereMet())
}
