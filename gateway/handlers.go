package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maleva/customer-portal/pkg/activitylog"
	"github.com/maleva/customer-portal/pkg/auth"
	"github.com/maleva/customer-portal/pkg/httpclient"
	"github.com/maleva/customer-portal/pkg/orders"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	recentOrders   = 5
	defaultLogDays = 7
	maxLogDays     = 30
	defaultAudit   = 50
	maxAudit       = 500
)

func (g *Gateway) login(c *gin.Context) {
	var req auth.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := g.auth.Login(c.Request.Context(), req)
	if err != nil {
		g.fail(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "isAuthenticated": true})
}

func (g *Gateway) session(c *gin.Context) {
	c.JSON(http.StatusOK, g.auth.Status(c.Request.Context()))
}

func (g *Gateway) logout(c *gin.Context) {
	g.auth.Logout(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"isAuthenticated": false, "redirect": loginRoute})
}

func (g *Gateway) customer(c *gin.Context) {
	user := currentUser(c)
	rec, err := g.orders.FetchCustomerDetails(c.Request.Context(), user.CustomerID, user.CompanyID)
	if err != nil {
		g.recordError(c, err, "FETCH_CUSTOMER")
		g.fail(c, err, true)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer": rec})
}

func (g *Gateway) listOrders(c *gin.Context) {
	all, ok := g.loadOrders(c)
	if !ok {
		return
	}
	g.respondPage(c, all)
}

// processingOrders lists orders whose status names an in-progress step.
func (g *Gateway) processingOrders(c *gin.Context) {
	all, ok := g.loadOrders(c)
	if !ok {
		return
	}
	g.respondPage(c, orders.FilterKeywords(all, orders.Processing))
}

func (g *Gateway) statuses(c *gin.Context) {
	all, ok := g.loadOrders(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": orders.Statuses(all)})
}

// dashboard fetches orders and the customer profile concurrently. A failed
// profile lookup leaves the profile empty; a failed order fetch fails the
// request.
func (g *Gateway) dashboard(c *gin.Context) {
	user := currentUser(c)
	eg, ctx := errgroup.WithContext(c.Request.Context())

	var raws []orders.RawOrder
	eg.Go(func() error {
		var err error
		raws, err = g.orders.FetchOrders(ctx, user.CustomerID)
		return err
	})

	var customer orders.CustomerRecord
	eg.Go(func() error {
		rec, err := g.orders.FetchCustomerDetails(ctx, user.CustomerID, user.CompanyID)
		if err != nil {
			g.logger.Warn("customer details unavailable", zap.String("customer_id", user.CustomerID), zap.Error(err))
			return nil
		}
		customer = rec
		return nil
	})

	if err := eg.Wait(); err != nil {
		g.recordError(c, err, "FETCH_ORDERS")
		g.fail(c, err, true)
		return
	}

	all := orders.NormalizeAll(raws)
	recent := all
	if len(recent) > recentOrders {
		recent = recent[:recentOrders]
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":        orders.Aggregate(all),
		"recentOrders": recent,
		"customer":     customer,
	})
}

func (g *Gateway) orderImages(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"orderId": id,
		"images":  g.images.FetchImages(c.Request.Context(), id),
	})
}

func (g *Gateway) invalidateImages(c *gin.Context) {
	if err := g.images.Invalidate(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) logs(c *gin.Context) {
	ctx := c.Request.Context()

	if date := c.Query("date"); date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": date, "entries": g.activity.ForDate(ctx, day)})
		return
	}

	days := defaultLogDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLogDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("days must be between 1 and %d", maxLogDays)})
			return
		}
		days = n
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "entries": g.activity.Export(ctx, days)})
}

func (g *Gateway) auditLogs(c *gin.Context) {
	if g.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit history is not enabled"})
		return
	}

	limit := defaultAudit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAudit {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxAudit)})
			return
		}
		limit = n
	}

	entryType := activitylog.EntryType(c.Query("type"))
	entries, err := g.audit.Recent(c.Request.Context(), entryType, int64(limit))
	if err != nil {
		g.logger.Error("audit query failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit history is unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": entryType, "entries": entries})
}

func (g *Gateway) loadOrders(c *gin.Context) ([]orders.Order, bool) {
	user := currentUser(c)
	raws, err := g.orders.FetchOrders(c.Request.Context(), user.CustomerID)
	if err != nil {
		g.recordError(c, err, "FETCH_ORDERS")
		g.fail(c, err, true)
		return nil, false
	}
	return orders.NormalizeAll(raws), true
}

func (g *Gateway) respondPage(c *gin.Context, base []orders.Order) {
	view := orders.NewViewState()
	view.SetFilter(c.DefaultQuery("status", orders.AllStatuses))
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a number"})
			return
		}
		view.CurrentPage = page
	}

	filtered := orders.Filter(base, view.StatusFilter)
	page := view.Apply(base)
	c.JSON(http.StatusOK, gin.H{
		"orders":        page.Items,
		"totalPages":    page.TotalPages,
		"startIndex":    page.StartIndex,
		"currentPage":   view.CurrentPage,
		"itemsPerPage":  view.ItemsPerPage,
		"statusFilter":  view.StatusFilter,
		"filteredCount": len(filtered),
		"totalCount":    len(base),
		"statuses":      orders.Statuses(base),
	})
}

func (g *Gateway) recordError(c *gin.Context, err error, action string) {
	if g.activity != nil {
		g.activity.Error(context.WithoutCancel(c.Request.Context()), err, "GATEWAY", action)
	}
}

// fail maps portal errors onto HTTP responses. retry marks failures the
// front end offers to retry.
func (g *Gateway) fail(c *gin.Context, err error, retry bool) {
	status, body := http.StatusInternalServerError, gin.H{"error": "Something went wrong. Please try again."}

	var (
		authErr   *auth.AuthError
		domainErr *httpclient.DomainError
		netErr    *httpclient.NetworkError
		httpErr   *httpclient.HTTPError
	)
	switch {
	case errors.Is(err, httpclient.ErrAuthExpired):
		status, body = http.StatusUnauthorized, gin.H{"error": "Your session has expired. Please log in again.", "redirect": loginRoute}
		retry = false
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
		switch authErr.Kind {
		case auth.KindNetworkError:
			status = http.StatusServiceUnavailable
		case auth.KindServerError:
			status = http.StatusBadGateway
		}
		body = gin.H{"error": authErr.Message, "kind": authErr.Kind}
	case errors.As(err, &domainErr):
		status, body = http.StatusUnprocessableEntity, gin.H{"error": domainErr.Message}
	case errors.As(err, &netErr):
		status, body = http.StatusServiceUnavailable, gin.H{"error": auth.MsgNetwork}
	case errors.As(err, &httpErr):
		status, body = http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Backend returned status %d.", httpErr.Status)}
	}

	if retry {
		body["retry"] = true
	}
	g.logger.Warn("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	c.JSON(status, body)
}
