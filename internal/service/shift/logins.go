package shift

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

// RecordLogin posts a login event. LoginType defaults to SHIFT_START on
// the backend.
func (s *Service) RecordLogin(ctx context.Context, userID int64, req models.LoginRequest) (*models.SalesPersonLogin, error) {
	l := logging.FromContext(ctx).With("svc", "shift.record_login", "user_id", userID, "store_id", req.StoreID)

	if userID <= 0 || req.StoreID <= 0 {
		err := fmt.Errorf("userId and storeId are required: %w", ErrValidation)
		l.Warn("record_login_error", "error", err)
		return nil, err
	}
	if req.DeviceInfo == "" && s.TerminalID != "" {
		req.DeviceInfo = "terminal:" + s.TerminalID
	}

	var login models.SalesPersonLogin
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/shifts/login",
		Query:  query("userId", id(userID)),
		Body:   req,
		Op:     "shift.record_login",
	}, &login); err != nil {
		l.Error("record_login_error", "status", apiclient.StatusOf(err), "error", err)
		return nil, err
	}
	return &login, nil
}

func (s *Service) RecordLogout(ctx context.Context, userID int64) (*models.SalesPersonLogin, error) {
	l := logging.FromContext(ctx).With("svc", "shift.record_logout", "user_id", userID)

	var login models.SalesPersonLogin
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/shifts/logout",
		Query:  query("userId", id(userID)),
		Op:     "shift.record_logout",
	}, &login); err != nil {
		l.Error("record_logout_error", "status", apiclient.StatusOf(err), "error", err)
		return nil, err
	}
	return &login, nil
}

func (s *Service) loadLogins(ctx context.Context, op, path, key string, v int64, date string) ([]models.SalesPersonLogin, error) {
	l := logging.FromContext(ctx).With("svc", op, key, v)
	defer s.begin()()

	var out []models.SalesPersonLogin
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query(key, id(v), "date", date),
		Op:     op,
	}, &out); err != nil {
		l.Warn("load_logins_error", "status", apiclient.StatusOf(err), "error", err)
		return nil, err
	}
	if out == nil {
		out = []models.SalesPersonLogin{}
	}
	s.mu.Lock()
	s.logins = append([]models.SalesPersonLogin(nil), out...)
	s.mu.Unlock()
	return out, nil
}

// LoadLoginHistory lists userID's logins, optionally on one date
// (YYYY-MM-DD).
func (s *Service) LoadLoginHistory(ctx context.Context, userID int64, date string) ([]models.SalesPersonLogin, error) {
	return s.loadLogins(ctx, "shift.login_history", "/shifts/logins/user", "userId", userID, date)
}

func (s *Service) LoadLoginHistoryByStore(ctx context.Context, storeID int64, date string) ([]models.SalesPersonLogin, error) {
	return s.loadLogins(ctx, "shift.store_login_history", "/shifts/logins/store", "storeId", storeID, date)
}

func (s *Service) LoginHistory() []models.SalesPersonLogin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SalesPersonLogin(nil), s.logins...)
}
