package httpclient

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type RefreshState int32

const (
	StateIdle RefreshState = iota
	StateRefreshing
	StateFailed
)

func (s RefreshState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var errNoRefreshToken = errors.New("no refresh token available")

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Refresher runs at most one token refresh at a time. Callers that arrive
// while a refresh is pending share its result.
type Refresher struct {
	client *Client
	creds  Credentials
	path   string
	logger *zap.Logger

	group singleflight.Group
	state atomic.Int32
	calls atomic.Int64
}

func newRefresher(client *Client, creds Credentials, path string, logger *zap.Logger) *Refresher {
	return &Refresher{
		client: client,
		creds:  creds,
		path:   path,
		logger: logger,
	}
}

func (r *Refresher) State() RefreshState {
	return RefreshState(r.state.Load())
}

// Calls reports how many refresh requests have been sent.
func (r *Refresher) Calls() int64 {
	return r.calls.Load()
}

// Refresh obtains a new access token to replace staleToken. If the stored
// token no longer equals staleToken the current one is returned without a
// network call. A cancelled ctx detaches the caller but leaves the shared
// refresh running for the others.
func (r *Refresher) Refresh(ctx context.Context, staleToken string) (string, error) {
	ch := r.group.DoChan("refresh", func() (interface{}, error) {
		return r.refresh(context.WithoutCancel(ctx), staleToken)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", &AuthExpiredError{Cause: res.Err}
		}
		return res.Val.(string), nil
	}
}

func (r *Refresher) refresh(ctx context.Context, staleToken string) (string, error) {
	if current := r.creds.AccessToken(ctx); current != "" && current != staleToken {
		return current, nil
	}

	r.state.Store(int32(StateRefreshing))
	token, err := r.exchange(ctx)
	if err != nil {
		r.state.Store(int32(StateFailed))
		r.logger.Warn("token refresh failed", zap.Error(err))
		r.creds.Expire(ctx)
		return "", err
	}

	r.state.Store(int32(StateIdle))
	r.logger.Info("access token refreshed")
	return token, nil
}

func (r *Refresher) exchange(ctx context.Context) (string, error) {
	refreshToken := r.creds.RefreshToken(ctx)
	if refreshToken == "" {
		return "", errNoRefreshToken
	}

	r.calls.Add(1)
	resp, err := r.client.Do(ctx, &Request{
		Method:          http.MethodPost,
		Path:            r.path,
		Body:            refreshRequest{RefreshToken: refreshToken},
		SkipAuthRefresh: true,
	})
	if err != nil {
		return "", err
	}

	var out refreshResponse
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("refresh response carried no token")
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	if err := r.creds.UpdateTokens(ctx, out.Token, out.RefreshToken); err != nil {
		return "", err
	}
	return out.Token, nil
}
