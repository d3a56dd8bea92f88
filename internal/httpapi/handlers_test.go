package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feed-system/feed-system/internal/auth"
	"github.com/feed-system/feed-system/internal/bus"
	"github.com/feed-system/feed-system/internal/cache"
	"github.com/feed-system/feed-system/internal/config"
	"github.com/feed-system/feed-system/internal/repository"
	"github.com/feed-system/feed-system/internal/service"
	pkgcache "github.com/feed-system/feed-system/pkg/cache"
	"github.com/feed-system/feed-system/pkg/logger"
	"github.com/feed-system/feed-system/pkg/queue"
)

func newTestRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock, *auth.TokenIssuer) {
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
	posts := repository.NewPostRepository(gdb)
	follows := repository.NewFollowRepository(gdb, 100)
	timelines := cache.NewTimelineCache(redisClient, 1000)

	producer := queue.NewKafkaProducer([]string{"127.0.0.1:0"}, "post-created-events")
	b := bus.New(producer, nil, redisClient, config.BusConfig{}, logger.NewLogger())

	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	credentials := auth.NewCredentialService(users, tokens)
	postIntake := service.NewPostIntake(posts, users, b, logger.NewLogger())
	timelineReader := service.NewTimelineReader(posts, follows, users, timelines, logger.NewLogger(), 72*time.Hour)
	followService := service.NewFollowService(follows, timelines, logger.NewLogger())

	db := &repository.Database{DB: gdb}
	handlers := NewHandlers(credentials, postIntake, timelineReader, followService, follows, users, posts, b, timelines, db, logger.NewLogger())
	router := NewRouter("test", handlers, tokens)
	return router, mock, tokens
}

func TestRegisterReturnsCreatedUser(t *testing.T) {
	router, mock, _ := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	body, _ := json.Marshal(map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "longenough",
	})
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRejectsInvalidBody(t *testing.T) {
	router, mock, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	router, mock, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/timeline", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProtectedRouteAcceptsValidToken(t *testing.T) {
	router, mock, tokens := newTestRouter(t)

	token, err := tokens.Issue(1)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT "users"\."id" FROM "follows" JOIN users ON users\.id = follows\.following_id WHERE follows\.follower_id = \$1 AND users\.is_celebrity = \$2`).
		WithArgs(int64(1), true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/timeline", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsDependencyAvailability(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/system/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["database"])
	require.Equal(t, "healthy", body["cache"])
}

func TestMetricsReturnsCounts(t *testing.T) {
	router, mock, _ := newTestRouter(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "users" WHERE is_celebrity = \$1`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "posts"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	req := httptest.NewRequest(http.MethodGet, "/system/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
