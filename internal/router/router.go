package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"treasury-backend/internal/config"
	"treasury-backend/internal/handlers"
	"treasury-backend/internal/metrics"
	"treasury-backend/internal/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Health  *handlers.HealthHandler
	Chain   *handlers.ChainHandler
	Account *handlers.AccountHandler
	Bridge  *handlers.BridgeHandler
	Tracker *handlers.TrackerHandler
}

// New builds the HTTP router with CORS, metrics and the authenticated API.
func New(cfg *config.Config, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(metricsMiddleware())

	r.GET("/health", h.Health.Health)
	r.GET("/ready", h.Health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	{
		api.GET("/chains", h.Chain.List)
		api.GET("/chains/:chainId/balance/:address", h.Chain.NativeBalance)
		api.GET("/chains/:chainId/token-balance/:address", h.Chain.TokenBalance)

		api.GET("/accounts", h.Account.List)
		api.GET("/accounts/status", h.Account.Status)
		api.POST("/accounts/deploy/prepare", h.Account.PrepareDeployment)
		api.POST("/accounts/register", h.Account.Register)
		api.POST("/accounts/adopt", h.Account.AdoptOrphans)

		api.POST("/bridge/quote", h.Bridge.Quote)
		api.POST("/bridge/transfer", h.Bridge.BuildTransfer)
		api.POST("/bridge/vault-transfer", h.Bridge.BuildVaultTransfer)
		api.POST("/bridge/deposits", h.Bridge.RecordDeposit)
		api.GET("/bridge/transfers", h.Bridge.ListTransfers)
		api.GET("/bridge/status", h.Tracker.Status)
		api.POST("/bridge/track", h.Tracker.Track)
		api.GET("/bridge/track/ws", h.Tracker.TrackWS)

		api.DELETE("/admin/accounts/:id", h.Account.Delete)
	}

	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if allowAll || allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
				c.Header("Access-Control-Allow-Credentials", "true")
			} else {
				logrus.WithFields(logrus.Fields{
					"origin": origin,
					"path":   c.Request.URL.Path,
				}).Debug("Rejected CORS origin")
			}
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
