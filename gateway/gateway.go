// Package gateway serves the portal operations as a JSON API for the
// browser front end.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maleva/customer-portal/pkg/activitylog"
	"github.com/maleva/customer-portal/pkg/auth"
	"github.com/maleva/customer-portal/pkg/config"
	"github.com/maleva/customer-portal/pkg/images"
	"github.com/maleva/customer-portal/pkg/orders"
	"go.uber.org/zap"
)

const (
	loginRoute = "/login"
	userKey    = "portal.user"
)

// AuditSource serves activity history older than the rolling window.
type AuditSource interface {
	Recent(ctx context.Context, entryType activitylog.EntryType, limit int64) ([]activitylog.Entry, error)
}

type Gateway struct {
	config   *config.GatewayConfig
	auth     *auth.Service
	orders   *orders.Repository
	images   *images.Lookup
	activity *activitylog.Log
	audit    AuditSource
	logger   *zap.Logger
	router   *gin.Engine
	server   *http.Server
}

func NewGateway(
	cfg *config.GatewayConfig,
	authSvc *auth.Service,
	repo *orders.Repository,
	lookup *images.Lookup,
	activity *activitylog.Log,
	logger *zap.Logger,
) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	g := &Gateway{
		config:   cfg,
		auth:     authSvc,
		orders:   repo,
		images:   lookup,
		activity: activity,
		logger:   logger,
		router:   router,
	}
	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := g.router.Group("/api/v1")
	{
		session := v1.Group("/session")
		{
			session.POST("", g.login)
			session.GET("", g.session)
			session.DELETE("", g.logout)
		}

		v1.GET("/logs", g.logs)
		v1.GET("/logs/audit", g.auditLogs)

		authed := v1.Group("", g.requireSession)
		{
			authed.GET("/customer", g.customer)

			ordersGroup := authed.Group("/orders")
			{
				ordersGroup.GET("", g.listOrders)
				ordersGroup.GET("/processing", g.processingOrders)
				ordersGroup.GET("/stats", g.dashboard)
				ordersGroup.GET("/statuses", g.statuses)
				ordersGroup.GET("/:id/images", g.orderImages)
				ordersGroup.DELETE("/:id/images", g.invalidateImages)
			}
		}
	}
}

// SetAuditSource enables /api/v1/logs/audit.
func (g *Gateway) SetAuditSource(src AuditSource) {
	g.audit = src
}

// Handler exposes the router, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Start() error {
	addr := g.config.Addr()
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("Gateway starting", zap.String("address", addr))

	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// requireSession rejects requests without a session and stores the
// current user in the gin context.
func (g *Gateway) requireSession(c *gin.Context) {
	ctx := c.Request.Context()
	user := g.auth.CurrentUser(ctx)
	if !g.auth.IsAuthenticated(ctx) || user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":    "Please log in to continue.",
			"redirect": loginRoute,
		})
		return
	}
	c.Set(userKey, user)
	c.Next()
}

func currentUser(c *gin.Context) *auth.UserProfile {
	user, _ := c.MustGet(userKey).(*auth.UserProfile)
	return user
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
