// Package httpclient is the single configured transport to the logistics
// backend. It injects auth and company headers, reports every exchange to a
// Recorder, and recovers from expired access tokens through one shared
// refresh.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL      string
	CompanyRefID string
	Timeout      time.Duration
	RefreshPath  string
}

// Credentials is the session state the client reads tokens from and reports
// expiry to.
type Credentials interface {
	AccessToken(ctx context.Context) string
	RefreshToken(ctx context.Context) string
	UpdateTokens(ctx context.Context, access, refresh string) error
	// Expire clears stored credentials. Implementations raise the
	// redirect-to-login signal only if a session was active.
	Expire(ctx context.Context)
}

// Recorder observes every exchange. RequestFailed is used only when no
// response was received.
type Recorder interface {
	RequestStarted(ctx context.Context, method, url string)
	RequestFinished(ctx context.Context, method, url string, status int, elapsed time.Duration)
	RequestFailed(ctx context.Context, method, url string, err error, elapsed time.Duration)
}

// Doer is what the portal services depend on.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is encoded as JSON. A nil Body sends no payload.
	Body interface{}
	// SkipAuthRefresh keeps a 401 out of the refresh flow. Login and the
	// refresh call itself set it.
	SkipAuthRefresh bool
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type Client struct {
	cfg       Config
	http      *http.Client
	creds     Credentials
	recorder  Recorder
	refresher *Refresher
	logger    *zap.Logger
}

func New(cfg Config, creds Credentials, recorder Recorder, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/api/auth/refresh"
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		creds:    creds,
		recorder: recorder,
		logger:   logger.Named("httpclient"),
	}
	c.refresher = newRefresher(c, creds, cfg.RefreshPath, c.logger)
	return c
}

func (c *Client) Refresher() *Refresher {
	return c.refresher
}

// Do sends req and returns the response for any 2xx/3xx status. Errors are
// *NetworkError, *HTTPError or an AuthExpiredError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}
	return c.do(ctx, req, body, false)
}

func (c *Client) do(ctx context.Context, req *Request, body []byte, retried bool) (*Response, error) {
	token := c.creds.AccessToken(ctx)

	resp, err := c.send(ctx, req, body, token)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.Status == http.StatusUnauthorized:
		return c.unauthorized(ctx, req, body, token, retried, resp)
	case resp.Status >= http.StatusBadRequest:
		return nil, &HTTPError{Status: resp.Status, Body: resp.Body}
	}
	return resp, nil
}

func (c *Client) unauthorized(ctx context.Context, req *Request, body []byte, sentToken string, retried bool, resp *Response) (*Response, error) {
	httpErr := &HTTPError{Status: resp.Status, Body: resp.Body}

	if req.SkipAuthRefresh {
		c.creds.Expire(ctx)
		return nil, httpErr
	}
	if retried {
		c.logger.Warn("401 after token refresh", zap.String("path", req.Path))
		c.creds.Expire(ctx)
		return nil, &AuthExpiredError{Cause: httpErr}
	}

	// another request already refreshed while this one was in flight
	if current := c.creds.AccessToken(ctx); current != "" && current != sentToken {
		return c.do(ctx, req, body, true)
	}

	if _, err := c.refresher.Refresh(ctx, sentToken); err != nil {
		return nil, err
	}
	return c.do(ctx, req, body, true)
}

func (c *Client) send(ctx context.Context, req *Request, body []byte, token string) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.url(req)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Company-ID", c.cfg.CompanyRefID)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	c.recorder.RequestStarted(ctx, method, target)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		elapsed := time.Since(start)
		netErr := &NetworkError{Method: method, URL: target, Err: err}
		c.recorder.RequestFailed(ctx, method, target, netErr, elapsed)
		c.logger.Error("request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int64("elapsed_ms", elapsed.Milliseconds()),
			zap.Error(err),
		)
		return nil, netErr
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	elapsed := time.Since(start)
	if err != nil {
		netErr := &NetworkError{Method: method, URL: target, Err: fmt.Errorf("read body: %w", err)}
		c.recorder.RequestFailed(ctx, method, target, netErr, elapsed)
		return nil, netErr
	}

	c.recorder.RequestFinished(ctx, method, target, httpResp.StatusCode, elapsed)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", httpResp.StatusCode),
		zap.Int64("elapsed_ms", elapsed.Milliseconds()),
	}
	if httpResp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("request returned error status", fields...)
	} else {
		c.logger.Debug("request completed", fields...)
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}, nil
}

func (c *Client) url(req *Request) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

type nopRecorder struct{}

func (nopRecorder) RequestStarted(context.Context, string, string) {}
func (nopRecorder) RequestFinished(context.Context, string, string, int, time.Duration) {}
func (nopRecorder) RequestFailed(context.Context, string, string, error, time.Duration) {}
