// Package auth holds the primary session of a terminal: the tokens and the
// user that logged in through /auth/login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/notify"
	"github.com/Skotchmaster/pos_terminal/internal/storage"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/authclient"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
	"github.com/Skotchmaster/pos_terminal/pkg/tokens"
)

var (
	ErrValidation       = errors.New("validation")
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// RefreshLead is how long before access-token expiry the timer refreshes.
const RefreshLead = 5 * time.Minute

type Service struct {
	Client   *authclient.Client
	Store    storage.Store
	Notifier notify.Notifier
	Log      *slog.Logger

	// OnLogout runs after local auth data is cleared.
	OnLogout func()

	mu        sync.RWMutex
	access    string
	refresh   string
	storeCode string
	user      *models.User
	timer     *time.Timer

	refreshMu sync.Mutex
	now       func() time.Time
}

func (s *Service) logger(ctx context.Context) *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return logging.FromContext(ctx)
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Service) notifier() notify.Notifier {
	if s.Notifier == nil {
		return notify.Discard{}
	}
	return s.Notifier
}

func (s *Service) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *Service) StoreCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storeCode
}

func (s *Service) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access != "" && s.user != nil
}

func (s *Service) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	l := s.logger(ctx).With("svc", "auth.login")

	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("username and password are required: %w", ErrValidation)
	}

	sess, err := s.Client.Login(ctx, authclient.Credentials{Username: username, Password: password})
	if err != nil {
		l.Warn("login_error", "status", apiclient.StatusOf(err), "error", err)
		s.notifier().Error("Login failed", apiclient.MessageOf(err, "Login failed"))
		return nil, err
	}
	if sess.AccessToken == "" {
		err := errors.New("login response carries no access token")
		s.notifier().Error("Login failed", "Login failed")
		return nil, err
	}

	user := UserFromSession(sess)
	if err := s.persist(ctx, sess.AccessToken, sess.RefreshToken, sess.StoreCode, user); err != nil {
		l.Error("login_persist_error", "error", err)
		return nil, err
	}
	s.scheduleRefresh(ctx)

	l.Info("login_ok", "user_id", user.ID, "store_code", sess.StoreCode)
	s.notifier().Success("Welcome back", user.FullName)
	return s.CurrentUser(), nil
}

func (s *Service) persist(ctx context.Context, access, refresh, storeCode string, user *models.User) error {
	if err := s.Store.Set(ctx, storage.KeyAccessToken, []byte(access)); err != nil {
		return err
	}
	if refresh != "" {
		if err := s.Store.Set(ctx, storage.KeyRefreshToken, []byte(refresh)); err != nil {
			return err
		}
	}
	if storeCode != "" {
		if err := s.Store.Set(ctx, storage.KeyActiveStoreCode, []byte(storeCode)); err != nil {
			return err
		}
	}
	if user != nil {
		if err := storage.SetJSON(ctx, s.Store, storage.KeyCurrentUser, user); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.access = access
	if refresh != "" {
		s.refresh = refresh
	}
	if storeCode != "" {
		s.storeCode = storeCode
	}
	if user != nil {
		s.user = user
	}
	s.mu.Unlock()
	return nil
}

// Logout tells the backend and clears local auth data even when the backend
// call fails.
func (s *Service) Logout(ctx context.Context) {
	if s.AccessToken() != "" {
		if err := s.Client.Logout(ctx); err != nil {
			s.logger(ctx).Warn("logout_call_error", "error", err)
		}
	}
	s.ForceLogout(ctx)
	s.notifier().Info("Logged out", "You have been successfully logged out")
}

// ForceLogout clears local auth data without calling the backend.
func (s *Service) ForceLogout(ctx context.Context) {
	l := s.logger(ctx)
	for _, key := range []string{
		storage.KeyAccessToken,
		storage.KeyRefreshToken,
		storage.KeyCurrentUser,
		storage.KeyActiveStoreCode,
	} {
		if err := s.Store.Delete(ctx, key); err != nil {
			l.Warn("clear_auth_data_error", "key", key, "error", err)
		}
	}

	s.mu.Lock()
	s.access, s.refresh, s.storeCode = "", "", ""
	s.user = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	hook := s.OnLogout
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers share one backend call. A rejected refresh logs the session out.
func (s *Service) Refresh(ctx context.Context) (string, error) {
	before := s.AccessToken()

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// Another caller refreshed while we waited.
	if cur := s.AccessToken(); cur != "" && cur != before {
		return cur, nil
	}

	l := s.logger(ctx).With("svc", "auth.refresh")

	s.mu.RLock()
	rt := s.refresh
	s.mu.RUnlock()
	if rt == "" {
		l.Warn("refresh_error", "error", ErrNoRefreshToken)
		s.ForceLogout(ctx)
		return "", ErrNoRefreshToken
	}

	resp, err := s.Client.Refresh(ctx, rt)
	if err != nil {
		l.Warn("refresh_error", "status", apiclient.StatusOf(err), "error", err)
		// An unreachable backend proves nothing about the session; keep it
		// so queued sales can still be taken offline.
		if !apiclient.IsNetwork(err) {
			s.ForceLogout(ctx)
		}
		return "", err
	}
	if resp.AccessToken == "" {
		s.ForceLogout(ctx)
		return "", errors.New("no access token in refresh response")
	}

	if err := s.persist(ctx, resp.AccessToken, resp.RefreshToken, "", nil); err != nil {
		return "", err
	}
	s.scheduleRefresh(ctx)
	l.Info("token_refreshed")
	return resp.AccessToken, nil
}

// Restore resumes a stored session when its access token is still valid
// and clears it otherwise.
func (s *Service) Restore(ctx context.Context) bool {
	access, err := storage.GetString(ctx, s.Store, storage.KeyAccessToken)
	if err != nil {
		s.logger(ctx).Warn("restore_session_error", "error", err)
		return false
	}
	var user models.User
	userErr := storage.GetJSON(ctx, s.Store, storage.KeyCurrentUser, &user)

	if access == "" || userErr != nil || tokens.IsExpired(access, s.clock()) {
		s.ForceLogout(ctx)
		return false
	}

	refresh, _ := storage.GetString(ctx, s.Store, storage.KeyRefreshToken)
	code, _ := storage.GetString(ctx, s.Store, storage.KeyActiveStoreCode)

	s.mu.Lock()
	s.access, s.refresh, s.storeCode = access, refresh, code
	s.user = &user
	s.mu.Unlock()

	s.scheduleRefresh(ctx)
	return true
}

// Me re-reads the current user from the backend.
func (s *Service) Me(ctx context.Context) (*models.User, error) {
	if !s.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	sess, err := s.Client.Me(ctx)
	if err != nil {
		return nil, err
	}
	user := UserFromSession(sess)
	if err := s.persist(ctx, s.AccessToken(), "", sess.StoreCode, user); err != nil {
		return nil, err
	}
	return s.CurrentUser(), nil
}

func (s *Service) scheduleRefresh(ctx context.Context) {
	l := s.logger(ctx)
	delay, err := tokens.RefreshDelay(s.AccessToken(), s.clock(), RefreshLead)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if err != nil {
		l.Debug("refresh_timer_skipped", "error", err)
		return
	}
	if delay <= 0 {
		return
	}
	s.timer = time.AfterFunc(delay, func() {
		bg := logging.IntoContext(context.Background(), l)
		if _, err := s.Refresh(bg); err != nil {
			l.Warn("scheduled_refresh_error", "error", err)
		}
	})
}

// Close stops the refresh timer.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// UserFromSession maps the backend's flat login payload onto a User.
func UserFromSession(sess *authclient.Session) *models.User {
	perms := make([]models.Permission, 0, len(sess.Permissions))
	for i, p := range sess.Permissions {
		resource, action, found := strings.Cut(p, ":")
		if resource == "" {
			resource = "*"
		}
		if !found || action == "" {
			action = "*"
		}
		perms = append(perms, models.Permission{ID: fmt.Sprint(i), Resource: resource, Action: action})
	}

	full := strings.TrimSpace(strings.Join([]string{sess.FirstName, sess.LastName}, " "))
	if full == "" {
		full = sess.Username
	}
	active := true
	if sess.IsActive != nil {
		active = *sess.IsActive
	}
	lastLogin := sess.LastLoginAt
	if lastLogin == "" {
		lastLogin = time.Now().UTC().Format(time.RFC3339)
	}

	return &models.User{
		ID:        sess.UserID.String(),
		Username:  sess.Username,
		Email:     sess.Email,
		FirstName: sess.FirstName,
		LastName:  sess.LastName,
		FullName:  full,
		Phone:     sess.Phone,
		Role: models.Role{
			ID:          sess.RoleID.String(),
			Name:        sess.Role,
			DisplayName: sess.Role,
			Permissions: perms,
		},
		Permissions: perms,
		IsActive:    active,
		StoreCode:   sess.StoreCode,
		LastLoginAt: lastLogin,
	}
}
