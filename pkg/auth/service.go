// Package auth owns the customer session: login and logout against the
// backend, the persisted tokens and profile, and change notifications.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/maleva/customer-portal/pkg/httpclient"
	"go.uber.org/zap"
)

type Credentials struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required"`
	OldUserID string `json:"oldUserId"`
}

type Config struct {
	LoginPath  string
	LogoutPath string
}

// Activity receives the user actions and errors the service reports.
type Activity interface {
	UserAction(ctx context.Context, action string, details map[string]interface{})
	Error(ctx context.Context, err error, component, action string)
}

// Status is the session as reported to the portal UI.
type Status struct {
	User            *UserProfile `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
}

var errMissingToken = errors.New("login response carried no token")

type Service struct {
	store    *Store
	client   httpclient.Doer
	activity Activity
	cfg      Config
	logger   *zap.Logger
}

func NewService(store *Store, client httpclient.Doer, activity Activity, cfg Config, logger *zap.Logger) *Service {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/api/CustomersLoginApp/LoginAppSuccess"
	}
	if cfg.LogoutPath == "" {
		cfg.LogoutPath = "/api/auth/logout"
	}
	if activity == nil {
		activity = nopActivity{}
	}
	return &Service{
		store:    store,
		client:   client,
		activity: activity,
		cfg:      cfg,
		logger:   logger.Named("auth"),
	}
}

func (s *Service) Store() *Store {
	return s.store
}

// Login authenticates against the backend and establishes the session. Every
// failure is an *AuthError.
func (s *Service) Login(ctx context.Context, creds Credentials) (*UserProfile, error) {
	user, err := s.login(ctx, creds)
	if err != nil {
		authErr := classifyLoginError(err)
		s.logger.Warn("login failed",
			zap.String("username", creds.Username),
			zap.String("kind", string(authErr.Kind)),
			zap.Error(err),
		)
		s.activity.UserAction(ctx, "LOGIN_FAILED", map[string]interface{}{
			"username": creds.Username,
			"error":    authErr.Message,
			"status":   authErr.Status,
		})
		s.activity.Error(ctx, err, "AUTH_SERVICE", "LOGIN")
		return nil, authErr
	}

	s.logger.Info("login succeeded", zap.String("username", creds.Username), zap.String("customer_id", user.CustomerID))
	s.activity.UserAction(ctx, "LOGIN_SUCCESS", map[string]interface{}{
		"username":   creds.Username,
		"customerId": user.CustomerID,
		"companyId":  user.CompanyID,
		"userId":     user.UserID,
	})
	return user, nil
}

func (s *Service) login(ctx context.Context, creds Credentials) (*UserProfile, error) {
	query := url.Values{}
	query.Set("Userid", creds.Username)
	query.Set("Pwd", creds.Password)
	query.Set("olduserid", creds.OldUserID)

	resp, err := s.client.Do(ctx, &httpclient.Request{
		Method:          http.MethodPost,
		Path:            s.cfg.LoginPath,
		Query:           query,
		Header:          http.Header{"Token": {s.store.AccessToken(ctx)}},
		SkipAuthRefresh: true,
	})
	if err != nil {
		return nil, err
	}

	env, err := httpclient.DecodeEnvelope(resp)
	if err != nil {
		return nil, &AuthError{Kind: KindServerError, Message: MsgGeneric, Status: resp.Status, Err: err}
	}
	if err := env.Err(MsgInvalidCredentials); err != nil {
		return nil, err
	}
	if env.Token == "" {
		return nil, &AuthError{Kind: KindServerError, Message: MsgGeneric, Status: resp.Status, Err: errMissingToken}
	}

	records, err := env.Records()
	if err != nil {
		return nil, &AuthError{Kind: KindServerError, Message: MsgGeneric, Status: resp.Status, Err: err}
	}
	var data map[string]interface{}
	if len(records) > 0 {
		data = records[0]
	}
	user := profileFromLogin(data, env, creds.Username)

	if err := s.store.Establish(ctx, user, env.Token, env.RefreshToken); err != nil {
		return nil, &AuthError{Kind: KindServerError, Message: MsgGeneric, Err: fmt.Errorf("persist session: %w", err)}
	}
	return user, nil
}

// Logout notifies the backend on a best-effort basis. The local session is
// cleared whatever the outcome.
func (s *Service) Logout(ctx context.Context) {
	user := s.store.CurrentUser(ctx)

	_, err := s.client.Do(ctx, &httpclient.Request{
		Method:          http.MethodPost,
		Path:            s.cfg.LogoutPath,
		SkipAuthRefresh: true,
	})
	if err != nil {
		s.logger.Warn("remote logout failed", zap.Error(err))
	}

	ctx = context.WithoutCancel(ctx)
	s.store.Clear(ctx)

	details := map[string]interface{}{}
	if user != nil {
		details["username"] = user.Username
	}
	s.activity.UserAction(ctx, "LOGOUT", details)
}

func (s *Service) CurrentUser(ctx context.Context) *UserProfile {
	return s.store.CurrentUser(ctx)
}

func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return s.store.IsAuthenticated(ctx)
}

func (s *Service) Status(ctx context.Context) Status {
	session := s.store.Session(ctx)
	status := Status{User: session.User, IsAuthenticated: session.IsAuthenticated}
	if exp, ok := TokenExpiry(session.Token); ok {
		status.ExpiresAt = &exp
	}
	return status
}

func profileFromLogin(data map[string]interface{}, env *httpclient.Envelope, typedUsername string) *UserProfile {
	user := &UserProfile{
		CustomerID:  asString(data["UserId"]),
		CompanyID:   asString(data["Comid"]),
		UserID:      asString(data["UserId"]),
		Username:    asString(data["Priv"]),
		Email:       asString(data["Email"]),
		Name:        asString(data["Name"]),
		CompanyName: asString(data["CompanyName"]),
		MComID:      asString(data["MComid"]),
		Menu:        env.Data2,
		Extra:       map[string]interface{}{},
	}
	if user.Username == "" {
		user.Username = typedUsername
	}
	if len(user.Menu) == 0 || string(user.Menu) == "null" {
		user.Menu = []byte("[]")
	}

	for key, value := range data {
		switch key {
		case "UserId", "Comid", "Priv", "Email", "Name", "CompanyName", "MComid":
			continue
		}
		user.Extra[key] = value
	}
	return user
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

type nopActivity struct{}

func (nopActivity) UserAction(context.Context, string, map[string]interface{}) {}
func (nopActivity) Error(context.Context, error, string, string) {}
