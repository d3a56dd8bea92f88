// Package httpapi wires the HTTP surface (component J): gin routes for
// auth, posting, timeline reads, and follow management, plus the
// operational health/metrics endpoints.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feed-system/feed-system/internal/auth"
)

const (
	storeTimeout   = 5 * time.Second
	cacheTimeout   = 2 * time.Second
	publishTimeout = 5 * time.Second
)

func NewRouter(mode string, h *Handlers, tokens *auth.TokenIssuer) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.log))

	r.GET("/system/health", h.Health)
	r.GET("/system/metrics", h.Metrics)

	public := r.Group("/auth")
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)

	protected := r.Group("/")
	protected.Use(auth.RequireBearer(tokens))
	protected.POST("/posts", h.CreatePost)
	protected.GET("/timeline", h.GetTimeline)
	protected.POST("/users/follow/:user_id", h.Follow)
	protected.DELETE("/users/follow/:user_id", h.Unfollow)
	protected.GET("/users/:user_id/followers", h.GetFollowers)

	return r
}
