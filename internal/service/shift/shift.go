// Package shift tracks the cashier's shift, shift swaps and login history
// for one terminal, and the kiosk associate signed in on top of the
// primary session.
package shift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skotchmaster/pos_terminal/internal/events"
	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/notify"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

var (
	ErrValidation        = errors.New("validation")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoAssociate       = errors.New("no associate signed in")
	ErrAssociateSignedIn = errors.New("an associate is already signed in")
	ErrNotAuthenticated  = errors.New("terminal is not signed in")
	ErrInvalidPasscode   = errors.New("invalid PIN")
)

type Backend interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

type Service struct {
	API        Backend
	Notifier   notify.Notifier
	Events     events.Publisher
	TerminalID string
	// Authenticated reports whether the primary session is signed in.
	// Associates can only sign in on top of it.
	Authenticated func() bool

	mu        sync.RWMutex
	active    *models.Shift
	swaps     []models.ShiftSwap
	pending   []models.ShiftSwap
	logins    []models.SalesPersonLogin
	associate *models.SignedInAssociate

	// assocMu serialises associate sign-in and sign-out.
	assocMu  sync.Mutex
	inflight atomic.Int32
	now      func() time.Time
}

func (s *Service) notifier() notify.Notifier {
	if s.Notifier == nil {
		return notify.Discard{}
	}
	return s.Notifier
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Service) begin() func() {
	s.inflight.Add(1)
	return func() { s.inflight.Add(-1) }
}

func (s *Service) fail(l *slog.Logger, event, title string, err error) error {
	status := apiclient.StatusOf(err)
	if status >= 400 && status < 500 || errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidTransition) {
		l.Warn(event, "status", status, "error", err)
	} else {
		l.Error(event, "status", status, "error", err)
	}
	msg := "Unknown error"
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) && !apiclient.IsNetwork(err) {
		msg = err.Error()
	}
	if errors.Is(err, ErrInvalidPasscode) {
		msg = "Invalid PIN"
	}
	s.notifier().Error(title, apiclient.MessageOf(err, msg))
	return err
}

func id(n int64) string { return strconv.FormatInt(n, 10) }

func query(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			v.Set(kv[i], kv[i+1])
		}
	}
	return v
}

// LoadActiveShift asks the backend for the user's active shift. A
// rejection (no active shift) clears the local copy and is not an error.
func (s *Service) LoadActiveShift(ctx context.Context, storeID, userID int64) (*models.Shift, error) {
	l := logging.FromContext(ctx).With("svc", "shift.load_active", "store_id", storeID, "user_id", userID)
	defer s.begin()()

	var sh models.Shift
	err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/shifts/active",
		Query:  query("storeId", id(storeID), "userId", id(userID)),
		Op:     "shift.active",
	}, &sh)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.active = nil
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			l.Info("no active shift", "status", apiErr.Status)
			return nil, nil
		}
		l.Error("load_active_shift_error", "error", err)
		return nil, err
	}
	s.active = &sh
	out := sh
	return &out, nil
}

func (s *Service) ActiveShift() *models.Shift {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil
	}
	out := *s.active
	return &out
}

func (s *Service) HasActiveShift() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active != nil && s.active.Status == models.ShiftActive
}

func (s *Service) StartShift(ctx context.Context, userID int64, req models.StartShiftRequest) (*models.Shift, error) {
	l := logging.FromContext(ctx).With("svc", "shift.start", "store_id", req.StoreID, "user_id", userID)
	const title = "Failed to start shift"
	defer s.begin()()

	if userID <= 0 || req.StoreID <= 0 {
		return nil, s.fail(l, "start_shift_error", title, fmt.Errorf("userId and storeId are required: %w", ErrValidation))
	}
	if req.StartingCashAmount != nil && req.StartingCashAmount.IsNegative() {
		return nil, s.fail(l, "start_shift_error", title, fmt.Errorf("startingCashAmount must not be negative: %w", ErrValidation))
	}
	if cur := s.ActiveShift(); cur != nil && cur.UserID == userID && cur.Status == models.ShiftActive {
		return nil, s.fail(l, "start_shift_error", title, fmt.Errorf("shift %d is already active: %w", cur.ID, ErrInvalidTransition))
	}

	var sh models.Shift
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/shifts/start",
		Query:  query("userId", id(userID)),
		Body:   req,
		Op:     "shift.start",
	}, &sh); err != nil {
		return nil, s.fail(l, "start_shift_error", title, err)
	}

	s.mu.Lock()
	s.active = &sh
	s.mu.Unlock()

	l.Info("shift started", "shift_id", sh.ID)
	s.notifier().Success("Shift started", "Your shift is now active")
	events.Emit(ctx, s.Events, events.New(events.ShiftStarted, s.TerminalID, map[string]any{
		"shiftId": sh.ID,
		"storeId": sh.StoreID,
		"userId":  sh.UserID,
	}))
	out := sh
	return &out, nil
}

// EndShift closes the shift with the counted drawer amount and fills in
// the cash difference when the backend leaves it out.
func (s *Service) EndShift(ctx context.Context, shiftID, endedByUserID int64, req models.EndShiftRequest) (*models.Shift, error) {
	l := logging.FromContext(ctx).With("svc", "shift.end", "shift_id", shiftID, "ended_by", endedByUserID)
	const title = "Failed to end shift"
	defer s.begin()()

	switch {
	case shiftID <= 0 || endedByUserID <= 0:
		return nil, s.fail(l, "end_shift_error", title, fmt.Errorf("shiftId and endedByUserId are required: %w", ErrValidation))
	case req.EndingCashAmount == nil:
		return nil, s.fail(l, "end_shift_error", title, fmt.Errorf("endingCashAmount is required: %w", ErrValidation))
	case req.EndingCashAmount.IsNegative():
		return nil, s.fail(l, "end_shift_error", title, fmt.Errorf("endingCashAmount must not be negative: %w", ErrValidation))
	}
	if cur := s.ActiveShift(); cur != nil && cur.ID == shiftID && !cur.Status.CanTransition(models.ShiftCompleted) {
		return nil, s.fail(l, "end_shift_error", title, fmt.Errorf("shift %d is %s: %w", shiftID, cur.Status, ErrInvalidTransition))
	}

	var sh models.Shift
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/shifts/" + id(shiftID) + "/end",
		Query:  query("endedByUserId", id(endedByUserID)),
		Body:   req,
		Op:     "shift.end",
	}, &sh); err != nil {
		return nil, s.fail(l, "end_shift_error", title, err)
	}
	if sh.ExpectedCashAmount == nil {
		sh.ExpectedCashAmount = req.ExpectedCashAmount
	}
	sh.Reconcile()

	s.mu.Lock()
	s.active = &sh
	s.mu.Unlock()

	attrs := []any{"shift_id", sh.ID}
	if sh.CashDifference != nil {
		attrs = append(attrs, "cash_difference", sh.CashDifference.String())
	}
	l.Info("shift ended", attrs...)
	s.notifier().Success("Shift ended", "Shift closed successfully")
	events.Emit(ctx, s.Events, events.New(events.ShiftEnded, s.TerminalID, map[string]any{
		"shiftId":        sh.ID,
		"endedBy":        endedByUserID,
		"cashDifference": sh.CashDifference,
	}))
	out := sh
	return &out, nil
}

func (s *Service) StartDay(ctx context.Context, req models.DayRequest) error {
	l := logging.FromContext(ctx).With("svc", "shift.start_day", "store_id", req.StoreID)
	defer s.begin()()

	if req.StoreID <= 0 {
		return s.fail(l, "start_day_error", "Failed to start day", fmt.Errorf("storeId is required: %w", ErrValidation))
	}
	if err := s.API.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/shifts/day/start", Body: req, Op: "shift.start_day"}, nil); err != nil {
		return s.fail(l, "start_day_error", "Failed to start day", err)
	}
	l.Info("day started", "date", req.Date)
	s.notifier().Success("New day started", "Day initialized")
	return nil
}

func (s *Service) EndDay(ctx context.Context, req models.DayRequest) error {
	l := logging.FromContext(ctx).With("svc", "shift.end_day", "store_id", req.StoreID)
	defer s.begin()()

	if err := s.API.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/shifts/day/end", Body: req, Op: "shift.end_day"}, nil); err != nil {
		return s.fail(l, "end_day_error", "Failed to end day", err)
	}
	l.Info("day ended", "date", req.Date)
	s.notifier().Success("Day ended", "All shifts closed")
	return nil
}

func (s *Service) Loading() bool { return s.inflight.Load() > 0 }
