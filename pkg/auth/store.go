package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/maleva/customer-portal/pkg/storage"
	"go.uber.org/zap"
)

// storage keys of the persisted session
const (
	KeyToken           = "token"
	KeyRefreshToken    = "refreshToken"
	KeyUser            = "user"
	KeyIsAuthenticated = "isAuthenticated"
)

// UserProfile is replaced as a whole on every login and never mutated.
type UserProfile struct {
	CustomerID  string                 `json:"customerId"`
	CompanyID   string                 `json:"companyId"`
	UserID      string                 `json:"userId"`
	Username    string                 `json:"username"`
	Email       string                 `json:"email,omitempty"`
	Name        string                 `json:"name,omitempty"`
	CompanyName string                 `json:"companyName,omitempty"`
	MComID      string                 `json:"mComid,omitempty"`
	Menu        json.RawMessage        `json:"menuData,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

type Session struct {
	User            *UserProfile `json:"user"`
	Token           string       `json:"-"`
	IsAuthenticated bool         `json:"isAuthenticated"`
}

// Listener is called with the new state after every change.
type Listener func(user *UserProfile, authenticated bool)

// Store owns the session. IsAuthenticated is true exactly when a token is
// held. State is read from storage once, on first access.
type Store struct {
	storage storage.Store
	logger  *zap.Logger

	mu       sync.RWMutex
	hydrated bool
	user     *UserProfile
	token    string
	refresh  string

	subMu     sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
}

func NewStore(st storage.Store, logger *zap.Logger) *Store {
	return &Store{
		storage:   st,
		logger:    logger.Named("session"),
		listeners: make(map[uint64]Listener),
	}
}

func (s *Store) Session(ctx context.Context) Session {
	s.hydrate(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{User: s.user, Token: s.token, IsAuthenticated: s.token != ""}
}

func (s *Store) CurrentUser(ctx context.Context) *UserProfile {
	return s.Session(ctx).User
}

func (s *Store) IsAuthenticated(ctx context.Context) bool {
	return s.Session(ctx).IsAuthenticated
}

func (s *Store) AccessToken(ctx context.Context) string {
	return s.Session(ctx).Token
}

func (s *Store) RefreshToken(ctx context.Context) string {
	s.hydrate(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// Establish replaces the session after a successful login. The session is
// switched in memory only once it is fully persisted; a failed write drops
// whatever was stored.
func (s *Store) Establish(ctx context.Context, user *UserProfile, token, refreshToken string) error {
	if token == "" {
		return errors.New("session requires a token")
	}
	s.hydrate(ctx)

	if err := s.persist(ctx, user, token, refreshToken); err != nil {
		if s.drop(ctx) {
			s.notify(nil, false)
		}
		return err
	}

	s.mu.Lock()
	s.user, s.token, s.refresh = user, token, refreshToken
	s.mu.Unlock()

	s.notify(user, true)
	return nil
}

// UpdateTokens swaps in refreshed tokens and keeps the user.
func (s *Store) UpdateTokens(ctx context.Context, access, refreshToken string) error {
	s.hydrate(ctx)

	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if err := s.persist(ctx, user, access, refreshToken); err != nil {
		return err
	}

	s.mu.Lock()
	s.token, s.refresh = access, refreshToken
	s.mu.Unlock()
	return nil
}

// Clear drops the session from memory and storage. Listeners hear about it
// only if a session was active.
func (s *Store) Clear(ctx context.Context) {
	s.hydrate(ctx)
	if s.drop(ctx) {
		s.notify(nil, false)
	}
}

// Expire clears the session after an unrecoverable 401. Like Clear it
// notifies only when a session was active, so an anonymous caller is not
// redirected again.
func (s *Store) Expire(ctx context.Context) {
	s.hydrate(ctx)
	if s.drop(ctx) {
		s.logger.Info("session expired")
		s.notify(nil, false)
	}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function may be called any number of times, including from
// inside a listener.
func (s *Store) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.listeners, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(user *UserProfile, authenticated bool) {
	s.subMu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	s.subMu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		s.subMu.Lock()
		fn, ok := s.listeners[id]
		s.subMu.Unlock()
		if ok {
			fn(user, authenticated)
		}
	}
}

// drop empties memory and storage and reports whether a session was active.
func (s *Store) drop(ctx context.Context) bool {
	s.mu.Lock()
	active := s.token != ""
	s.user, s.token, s.refresh = nil, "", ""
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, KeyToken, KeyRefreshToken, KeyUser, KeyIsAuthenticated); err != nil {
		s.logger.Warn("failed to clear persisted session", zap.Error(err))
	}
	return active
}

func (s *Store) persist(ctx context.Context, user *UserProfile, token, refreshToken string) error {
	if err := s.storage.Set(ctx, KeyToken, token, 0); err != nil {
		return err
	}
	if refreshToken == "" {
		if err := s.storage.Delete(ctx, KeyRefreshToken); err != nil {
			return err
		}
	} else if err := s.storage.Set(ctx, KeyRefreshToken, refreshToken, 0); err != nil {
		return err
	}
	if user != nil {
		if err := storage.SetJSON(ctx, s.storage, KeyUser, user, 0); err != nil {
			return err
		}
	}
	return s.storage.Set(ctx, KeyIsAuthenticated, "true", 0)
}

func (s *Store) hydrate(ctx context.Context) {
	s.mu.RLock()
	done := s.hydrated
	s.mu.RUnlock()
	if done {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hydrated {
		return
	}
	s.hydrated = true

	token, err := s.storage.Get(ctx, KeyToken)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to load persisted token", zap.Error(err))
		}
		return
	}
	s.token = token
	s.refresh, _ = s.storage.Get(ctx, KeyRefreshToken)

	var user UserProfile
	switch err := storage.GetJSON(ctx, s.storage, KeyUser, &user); {
	case err == nil:
		s.user = &user
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("failed to load persisted user", zap.Error(err))
	}
}
