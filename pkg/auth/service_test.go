package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maleva/customer-portal/pkg/httpclient"
	"github.com/maleva/customer-portal/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockDoer struct{ mock.Mock }

func (m *mockDoer) Do(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*httpclient.Response)
	return resp, args.Error(1)
}

type mockActivity struct{ mock.Mock }

func (m *mockActivity) UserAction(ctx context.Context, action string, details map[string]interface{}) {
	m.Called(ctx, action, details)
}

func (m *mockActivity) Error(ctx context.Context, err error, component, action string) {
	m.Called(ctx, err, component, action)
}

func jsonResponse(t *testing.T, v interface{}) *httpclient.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return &httpclient.Response{Status: http.StatusOK, Body: body}
}

func TestService_LoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/CustomersLoginApp/LoginAppSuccess", r.URL.Path)
		assert.Equal(t, "acme", r.URL.Query().Get("Userid"))
		assert.Equal(t, "secret", r.URL.Query().Get("Pwd"))
		assert.Equal(t, "", r.URL.Query().Get("olduserid"))
		w.Write([]byte(`{
			"IsSuccess": true,
			"Message": "ok",
			"Token": "tok-1",
			"Data1": [{"UserId": 1207, "Comid": 3, "Priv": "ACME LTD", "CompanyName": "Acme", "MComid": "9", "Phone": "555"}],
			"Data2": [{"MenuName": "Orders"}]
		}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	store := NewStore(storage.NewMemory(), zap.NewNop())
	client := httpclient.New(httpclient.Config{BaseURL: srv.URL, CompanyRefID: "3"}, store, nil, zap.NewNop())

	activity := &mockActivity{}
	activity.On("UserAction", mock.Anything, "LOGIN_SUCCESS", mock.Anything).Once()

	svc := NewService(store, client, activity, Config{}, zap.NewNop())

	var notified bool
	store.Subscribe(func(_ *UserProfile, ok bool) { notified = ok })

	user, err := svc.Login(ctx, Credentials{Username: "acme", Password: "secret"})
	require.NoError(t, err)

	assert.Equal(t, "1207", user.CustomerID)
	assert.Equal(t, "1207", user.UserID)
	assert.Equal(t, "3", user.CompanyID)
	assert.Equal(t, "ACME LTD", user.Username)
	assert.Equal(t, "Acme", user.CompanyName)
	assert.Equal(t, "9", user.MComID)
	assert.JSONEq(t, `[{"MenuName": "Orders"}]`, string(user.Menu))
	assert.Equal(t, "555", user.Extra["Phone"])

	assert.True(t, svc.IsAuthenticated(ctx))
	assert.Equal(t, "tok-1", store.AccessToken(ctx))
	assert.True(t, notified)
	activity.AssertExpectations(t)
}

func TestService_LoginUsernameFallback(t *testing.T) {
	doer := &mockDoer{}
	doer.On("Do", mock.Anything, mock.Anything).Return(jsonResponse(t, map[string]interface{}{
		"IsSuccess": true,
		"Token":     "tok",
		"Data1":     []map[string]interface{}{{"UserId": "5"}},
	}), nil)

	svc := NewService(NewStore(storage.NewMemory(), zap.NewNop()), doer, nil, Config{}, zap.NewNop())
	user, err := svc.Login(context.Background(), Credentials{Username: "typed", Password: "x"})
	require.NoError(t, err)
	assert.Equal(t, "typed", user.Username)
	assert.JSONEq(t, `[]`, string(user.Menu))
}

func TestService_LoginFailures(t *testing.T) {
	tests := []struct {
		name    string
		resp    *httpclient.Response
		err     error
		kind    ErrorKind
		message string
	}{
		{"bad_request", nil, &httpclient.HTTPError{Status: 400}, KindInvalidCredentials, MsgInvalidCredentials},
		{"unauthorized", nil, &httpclient.HTTPError{Status: 401}, KindInvalidCredentials, MsgInvalidCredentials},
		{"forbidden", nil, &httpclient.HTTPError{Status: 403}, KindInvalidCredentials, MsgAccessDenied},
		{"not_found", nil, &httpclient.HTTPError{Status: 404}, KindServerError, MsgUnavailable},
		{"internal", nil, &httpclient.HTTPError{Status: 500}, KindServerError, MsgRecheckCredentials},
		{"bad_gateway", nil, &httpclient.HTTPError{Status: 502}, KindServerError, MsgUnavailable},
		{"unavailable", nil, &httpclient.HTTPError{Status: 503}, KindServerError, MsgUnavailable},
		{"timeout", nil, &httpclient.HTTPError{Status: 504}, KindServerError, MsgUnavailable},
		{"teapot_with_message", nil, &httpclient.HTTPError{Status: 418, Body: []byte(`{"Message":"Account locked"}`)}, KindServerError, "Account locked"},
		{"teapot_plain", nil, &httpclient.HTTPError{Status: 418}, KindServerError, MsgGeneric},
		{"network", nil, &httpclient.NetworkError{Method: "POST", URL: "x", Err: errors.New("refused")}, KindNetworkError, MsgNetwork},
		{"not_success_with_message", jsonResponse(t, map[string]interface{}{"IsSuccess": false, "Message": "User blocked"}), nil, KindInvalidCredentials, "User blocked"},
		{"not_success_default", jsonResponse(t, map[string]interface{}{"IsSuccess": false}), nil, KindInvalidCredentials, MsgInvalidCredentials},
		{"missing_token", jsonResponse(t, map[string]interface{}{"IsSuccess": true}), nil, KindServerError, MsgGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &mockDoer{}
			doer.On("Do", mock.Anything, mock.Anything).Return(tt.resp, tt.err)

			activity := &mockActivity{}
			activity.On("UserAction", mock.Anything, "LOGIN_FAILED", mock.MatchedBy(func(d map[string]interface{}) bool {
				return d["error"] == tt.message
			})).Once()
			activity.On("Error", mock.Anything, mock.Anything, "AUTH_SERVICE", "LOGIN").Once()

			store := NewStore(storage.NewMemory(), zap.NewNop())
			svc := NewService(store, doer, activity, Config{}, zap.NewNop())

			user, err := svc.Login(context.Background(), Credentials{Username: "u", Password: "p"})
			require.Nil(t, user)

			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.kind, authErr.Kind)
			assert.Equal(t, tt.message, authErr.Message)
			assert.False(t, store.IsAuthenticated(context.Background()))
			activity.AssertExpectations(t)
		})
	}
}

func TestService_LogoutClearsWhenRemoteFails(t *testing.T) {
	ctx := context.Background()
	doer := &mockDoer{}
	doer.On("Do", mock.Anything, mock.MatchedBy(func(r *httpclient.Request) bool {
		return r.Path == "/api/auth/logout" && r.SkipAuthRefresh
	})).Return(nil, &httpclient.NetworkError{Method: "POST", URL: "/api/auth/logout", Err: errors.New("refused")}).Once()

	store := NewStore(storage.NewMemory(), zap.NewNop())
	require.NoError(t, store.Establish(ctx, &UserProfile{Username: "acme"}, "tok", "ref"))

	var events []bool
	store.Subscribe(func(_ *UserProfile, ok bool) { events = append(events, ok) })

	svc := NewService(store, doer, nil, Config{}, zap.NewNop())
	svc.Logout(ctx)

	assert.False(t, svc.IsAuthenticated(ctx))
	assert.Nil(t, svc.CurrentUser(ctx))
	assert.Equal(t, []bool{false}, events)
	doer.AssertExpectations(t)
}

func TestService_LogoutRejectedNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemory(), zap.NewNop())
	require.NoError(t, store.Establish(ctx, &UserProfile{Username: "acme"}, "tok", "ref"))

	// the client expires the session itself when a skip-refresh call gets a 401
	doer := &mockDoer{}
	doer.On("Do", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { store.Expire(args.Get(0).(context.Context)) }).
		Return(nil, &httpclient.HTTPError{Status: 401}).Once()

	var events []bool
	store.Subscribe(func(_ *UserProfile, ok bool) { events = append(events, ok) })

	NewService(store, doer, nil, Config{}, zap.NewNop()).Logout(ctx)

	assert.Equal(t, []bool{false}, events)
	assert.False(t, store.IsAuthenticated(ctx))
	doer.AssertExpectations(t)
}

func TestService_LogoutWithCancelledContext(t *testing.T) {
	doer := &mockDoer{}
	doer.On("Do", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	store := NewStore(storage.NewMemory(), zap.NewNop())
	require.NoError(t, store.Establish(context.Background(), &UserProfile{}, "tok", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewService(store, doer, nil, Config{}, zap.NewNop()).Logout(ctx)

	assert.False(t, store.IsAuthenticated(context.Background()))
}

func TestService_StatusReportsExpiry(t *testing.T) {
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)

	store := NewStore(storage.NewMemory(), zap.NewNop())
	require.NoError(t, store.Establish(ctx, &UserProfile{}, token, ""))

	status := NewService(store, &mockDoer{}, nil, Config{}, zap.NewNop()).Status(ctx)
	assert.True(t, status.IsAuthenticated)
	require.NotNil(t, status.ExpiresAt)
	assert.True(t, exp.Equal(*status.ExpiresAt))
}

func TestTokenExpiry_Opaque(t *testing.T) {
	_, ok := TokenExpiry("8f14e45fceea167a5a36dedd4bea2543")
	assert.False(t, ok)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = TokenExpiry(unsigned)
	assert.False(t, ok)
}
