// Package images lists the photos attached to a sale order. Lookups are
// cached per order and never fail: any problem yields an empty gallery.
package images

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maleva/customer-portal/pkg/httpclient"
	"github.com/maleva/customer-portal/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	fetchImagesPath = "/api/CommonApp/FetchImagesRecursive"
	cacheKeyPrefix  = "order_images_"
)

type Config struct {
	CompanyRefID string
	// HostURL is prefixed to the relative paths the backend returns.
	HostURL string
	// CacheTTL of zero keeps entries until Invalidate.
	CacheTTL time.Duration
}

type Lookup struct {
	client httpclient.Doer
	cache  storage.Store
	cfg    Config
	logger *zap.Logger
	group  singleflight.Group
}

func NewLookup(client httpclient.Doer, cache storage.Store, cfg Config, logger *zap.Logger) *Lookup {
	cfg.HostURL = strings.TrimRight(cfg.HostURL, "/")
	return &Lookup{
		client: client,
		cache:  cache,
		cfg:    cfg,
		logger: logger.Named("images"),
	}
}

func CacheKey(orderID string) string {
	return cacheKeyPrefix + orderID
}

// Directory is the upload folder the backend stores an order's images in.
func (l *Lookup) Directory(orderID string) string {
	return fmt.Sprintf("/Upload/%s/SalesOrder/%s/", l.cfg.CompanyRefID, orderID)
}

// FetchImages returns absolute image URLs for the order, from cache when
// possible. Concurrent lookups of one order share a single backend call,
// which runs detached from any one caller: a caller that gives up gets an
// empty list while the others still receive (and cache) the result.
func (l *Lookup) FetchImages(ctx context.Context, orderID string) []string {
	key := CacheKey(orderID)

	var cached []string
	err := storage.GetJSON(ctx, l.cache, key, &cached)
	switch {
	case err == nil:
		return cached
	case !errors.Is(err, storage.ErrNotFound):
		l.logger.Warn("image cache read failed", zap.String("order_id", orderID), zap.Error(err))
	}

	ch := l.group.DoChan(key, func() (interface{}, error) {
		return l.fetch(context.WithoutCancel(ctx), orderID), nil
	})
	select {
	case <-ctx.Done():
		return []string{}
	case res := <-ch:
		return res.Val.([]string)
	}
}

// Invalidate drops the cached list so the next lookup asks the backend.
func (l *Lookup) Invalidate(ctx context.Context, orderID string) error {
	return l.cache.Delete(ctx, CacheKey(orderID))
}

func (l *Lookup) fetch(ctx context.Context, orderID string) []string {
	query := url.Values{}
	query.Set("ImageDirectory", l.Directory(orderID))

	resp, err := l.client.Do(ctx, &httpclient.Request{
		Method: http.MethodPost,
		Path:   fetchImagesPath,
		Query:  query,
	})
	if err != nil {
		l.logger.Warn("image lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return []string{}
	}

	var paths []string
	if err := json.Unmarshal(resp.Body, &paths); err != nil {
		l.logger.Warn("unexpected image lookup reply", zap.String("order_id", orderID), zap.Error(err))
		return []string{}
	}
	if len(paths) == 0 {
		l.logger.Debug("no images for order", zap.String("order_id", orderID))
		return []string{}
	}

	urls := make([]string, len(paths))
	for i, p := range paths {
		urls[i] = l.absolute(p)
	}

	if err := storage.SetJSON(ctx, l.cache, CacheKey(orderID), urls, l.cfg.CacheTTL); err != nil {
		l.logger.Warn("image cache write failed", zap.String("order_id", orderID), zap.Error(err))
	}
	return urls
}

func (l *Lookup) absolute(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return l.cfg.HostURL + path
}
