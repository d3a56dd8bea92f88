package service

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feed-system/feed-system/internal/apperr"
	"github.com/feed-system/feed-system/internal/bus"
	"github.com/feed-system/feed-system/internal/config"
	"github.com/feed-system/feed-system/internal/repository"
	"github.com/feed-system/feed-system/pkg/logger"
	"github.com/feed-system/feed-system/pkg/queue"
)

func newMockedIntake(t *testing.T) (*PostIntake, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	users := repository.NewUserRepository(gdb)
	posts := repository.NewPostRepository(gdb)
	// Unreachable broker: fine since these tests never exercise a
	// non-celebrity author, so Publish is never invoked.
	producer := queue.NewKafkaProducer([]string{"127.0.0.1:0"}, "post-created-events")
	b := bus.New(producer, nil, nil, config.BusConfig{}, logger.NewLogger())

	return NewPostIntake(posts, users, b, logger.NewLogger()), mock
}

func TestPostIntakeRejectsEmptyContent(t *testing.T) {
	intake, mock := newMockedIntake(t)

	_, err := intake.Create(context.Background(), 1, "   ")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostIntakeRejectsOverlongContent(t *testing.T) {
	intake, mock := newMockedIntake(t)

	_, err := intake.Create(context.Background(), 1, strings.Repeat("a", maxPostLength+1))
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostIntakePropagatesAuthorNotFound(t *testing.T) {
	intake, mock := newMockedIntake(t)

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := intake.Create(context.Background(), 99, "hello")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostIntakeCelebrityAuthorSkipsPublish(t *testing.T) {
	intake, mock := newMockedIntake(t)

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_celebrity"}).AddRow(5, true))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "posts"`).
		WithArgs(int64(5), "hello world", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	post, err := intake.Create(context.Background(), 5, "hello world")
	require.NoError(t, err)
	require.Equal(t, int64(5), post.AuthorID)
	// no bus.Publish expectation set up anywhere: a panic or hang here
	// would mean the celebrity skip-publish branch regressed.
	require.NoError(t, mock.ExpectationsWereMet())
}
