package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/carelink-support/internal/chat"
	"github.com/suPer8Hu/carelink-support/internal/common"
	"github.com/suPer8Hu/carelink-support/internal/config"
	"github.com/suPer8Hu/carelink-support/internal/httpapi/handlers"
	"github.com/suPer8Hu/carelink-support/internal/httpapi/middleware"
	"github.com/suPer8Hu/carelink-support/internal/identity"
)

type Deps struct {
	Cfg      *config.Config
	Chat     *chat.Service
	Identity *identity.Service
	// Limiter is nil when Redis is not configured; rate limiting is then off.
	Limiter middleware.RateLimiter
	Log     zerolog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(d.Log))
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(middleware.Metrics())

	if len(d.Cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.Cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(d.Chat, d.Identity, d.Log)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// auth
	r.POST("/auth/admins/register", h.RegisterAdmin)
	r.POST("/auth/admins/login", h.LoginAdmin)
	r.POST("/auth/visitors/register", h.RegisterVisitor)
	r.POST("/auth/visitors/login", h.LoginVisitor)

	// public widget
	conv := r.Group("/conversations")
	conv.POST("/message",
		middleware.RateLimit(d.Limiter, d.Cfg.PublicRateLimit, time.Minute, d.Log),
		middleware.OptionalAuth(d.Identity),
		h.PostMessage,
	)
	conv.GET("/:session_id/messages", h.ListMessages)
	conv.GET("/:session_id/version", h.SessionVersion)

	visitors := r.Group("/visitors")
	visitors.Use(middleware.VisitorRequired(d.Identity))
	visitors.GET("/me", h.VisitorMe)
	visitors.POST("/me/read", h.VisitorMarkRead)

	// admin console
	admin := r.Group("/admin")
	admin.Use(middleware.AdminRequired(d.Identity))
	admin.GET("/profile", h.AdminProfile)
	admin.GET("/visitors", h.ListVisitors)
	admin.GET("/conversations", h.ListConversations)
	admin.GET("/conversations/stats", h.ConversationStats)
	admin.GET("/conversations/sync", h.ConversationSync)
	admin.GET("/conversations/:session_id", h.GetConversation)
	admin.POST("/conversations/:session_id/reply", h.ReplyConversation)
	admin.PATCH("/conversations/:session_id", h.PatchConversation)
	admin.DELETE("/conversations/:session_id", h.DeleteConversation)

	return r
}
