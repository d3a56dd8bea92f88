package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feed-system/feed-system/internal/apperr"
	"github.com/feed-system/feed-system/internal/auth"
	"github.com/feed-system/feed-system/internal/bus"
	"github.com/feed-system/feed-system/internal/cache"
	"github.com/feed-system/feed-system/internal/repository"
	"github.com/feed-system/feed-system/internal/service"
	"github.com/feed-system/feed-system/pkg/logger"
)

type Handlers struct {
	credentials *auth.CredentialService
	posts       *service.PostIntake
	timelines   *service.TimelineReader
	follows     *service.FollowService
	followRepo  *repository.FollowRepository
	users       *repository.UserRepository
	postsRepo   *repository.PostRepository
	bus         *bus.Bus
	cacheHealth *cache.TimelineCache
	db          *repository.Database
	log         *logger.Logger
}

func NewHandlers(
	credentials *auth.CredentialService,
	posts *service.PostIntake,
	timelines *service.TimelineReader,
	follows *service.FollowService,
	followRepo *repository.FollowRepository,
	users *repository.UserRepository,
	postsRepo *repository.PostRepository,
	b *bus.Bus,
	cacheHealth *cache.TimelineCache,
	db *repository.Database,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		credentials: credentials,
		posts:       posts,
		timelines:   timelines,
		follows:     follows,
		followRepo:  followRepo,
		users:       users,
		postsRepo:   postsRepo,
		bus:         b,
		cacheHealth: cacheHealth,
		db:          db,
		log:         log,
	}
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request handled")
	}
}

// fail writes the standardized {detail, type} error envelope, mapping the
// apperr sentinel kind onto the matching HTTP status.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"detail": err.Error(), "type": apperr.Kind(err)})
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=30"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

func (h *Handlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmtInvalid(err))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	user, err := h.credentials.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.Username, "email": user.Email})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmtInvalid(err))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	user, token, err := h.credentials.Login(ctx, req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": user.ID})
}

type createPostRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handlers) CreatePost(c *gin.Context) {
	authorID, _ := auth.UserID(c)
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmtInvalid(err))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout+publishTimeout)
	defer cancel()
	post, err := h.posts.Create(ctx, authorID, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         post.ID,
		"author_id":  post.AuthorID,
		"content":    post.Content,
		"created_at": post.CreatedAt,
	})
}

func (h *Handlers) GetTimeline(c *gin.Context) {
	viewerID, _ := auth.UserID(c)
	offset := parseIntParam(c, "offset", 0)
	limit := parseIntParam(c, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), cacheTimeout+storeTimeout)
	defer cancel()
	result, err := h.timelines.GetTimeline(ctx, viewerID, offset, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts":    result.Posts,
		"source":   result.Source,
		"has_more": result.HasMore,
	})
}

func (h *Handlers) Follow(c *gin.Context) {
	actorID, _ := auth.UserID(c)
	targetID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		fail(c, fmtInvalid(err))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout+cacheTimeout)
	defer cancel()
	if err := h.follows.Follow(ctx, actorID, targetID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Unfollow(c *gin.Context) {
	actorID, _ := auth.UserID(c)
	targetID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		fail(c, fmtInvalid(err))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout+cacheTimeout)
	defer cancel()
	if err := h.follows.Unfollow(ctx, actorID, targetID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) GetFollowers(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		fail(c, fmtInvalid(err))
		return
	}
	offset := parseIntParam(c, "offset", 0)
	limit := parseIntParam(c, "limit", 50)

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	followers, err := h.followRepo.GetFollowers(ctx, userID, offset, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"followers": followers})
}

func healthState(up bool) string {
	if up {
		return "healthy"
	}
	return "unavailable"
}

func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), cacheTimeout)
	defer cancel()
	dbUp := h.db.Ping() == nil
	cacheUp := h.cacheHealth.Available(ctx)
	busUp := h.bus.Available(ctx)
	// A down dependency degrades request handling but doesn't take the
	// service itself down, so this always reports 200 with the detail in
	// the body rather than flapping the process's liveness status.
	c.JSON(http.StatusOK, gin.H{
		"database": healthState(dbUp),
		"cache":    healthState(cacheUp),
		"bus":      healthState(busUp),
	})
}

func (h *Handlers) Metrics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	userCount, err := h.users.CountAll(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	celebrityCount, err := h.users.CountCelebrities(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	postCount, err := h.postsRepo.CountAll(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"users":       userCount,
		"celebrities": celebrityCount,
		"posts":       postCount,
		"cache":       healthState(h.cacheHealth.Available(ctx)),
	})
}

func parseIntParam(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func fmtInvalid(err error) error {
	return &invalidArgumentError{err}
}

type invalidArgumentError struct{ err error }

func (e *invalidArgumentError) Error() string { return e.err.Error() }
func (e *invalidArgumentError) Unwrap() error { return apperr.ErrInvalidArgument }
