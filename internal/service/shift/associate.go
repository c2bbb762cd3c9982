package shift

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Skotchmaster/pos_terminal/internal/events"
	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

// SignInAssociate authenticates an associate by number and passcode and
// records a SHIFT_START login for them. The associate is held only once
// the login is recorded.
func (s *Service) SignInAssociate(ctx context.Context, storeID int64, associateNumber, passcode string) (*models.SignedInAssociate, error) {
	l := logging.FromContext(ctx).With("svc", "shift.sign_in_associate", "store_id", storeID, "associate_number", associateNumber)
	const title = "Sign In Failed"

	s.assocMu.Lock()
	defer s.assocMu.Unlock()
	defer s.begin()()

	associateNumber = strings.TrimSpace(associateNumber)
	switch {
	case s.Authenticated != nil && !s.Authenticated():
		return nil, s.fail(l, "sign_in_associate_error", title, ErrNotAuthenticated)
	case s.Associate() != nil:
		return nil, s.fail(l, "sign_in_associate_error", title, ErrAssociateSignedIn)
	case storeID <= 0 || associateNumber == "" || passcode == "":
		return nil, s.fail(l, "sign_in_associate_error", title, fmt.Errorf("storeId, associate number and passcode are required: %w", ErrValidation))
	}

	var auth models.AssociateAuth
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/shifts/associates/authenticate",
		Body: map[string]any{
			"storeId":         storeID,
			"associateNumber": associateNumber,
			"passcode":        passcode,
		},
		Op:              "shift.authenticate_associate",
		SkipAuthRefresh: true,
	}, &auth); err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.Message == "" {
			apiErr.Message = "Invalid credentials"
		}
		return nil, s.fail(l, "sign_in_associate_error", title, err)
	}

	if _, err := s.RecordLogin(ctx, auth.UserID, models.LoginRequest{
		StoreID:   storeID,
		ShiftID:   auth.ShiftID,
		LoginType: models.LoginShiftStart,
	}); err != nil {
		return nil, s.fail(l, "sign_in_associate_error", title, err)
	}

	a := &models.SignedInAssociate{
		ID:              auth.UserID,
		AssociateNumber: auth.AssociateNumber,
		Name:            auth.Name,
		SignInTime:      s.clock(),
		ShiftID:         auth.ShiftID,
	}
	s.mu.Lock()
	s.associate = a
	s.mu.Unlock()

	l.Info("associate signed in", "associate_id", a.ID)
	s.notifier().Success("Signed In", fmt.Sprintf("Welcome, %s!", a.Name))
	events.Emit(ctx, s.Events, events.New(events.AssociateSignedIn, s.TerminalID, map[string]any{
		"associateId":     a.ID,
		"associateNumber": a.AssociateNumber,
		"storeId":         storeID,
		"shiftId":         a.ShiftID,
	}))
	out := *a
	return &out, nil
}

// SignOutAssociate requires the signed-in associate's passcode again. On
// a mismatch the associate stays signed in.
func (s *Service) SignOutAssociate(ctx context.Context, passcode string) error {
	l := logging.FromContext(ctx).With("svc", "shift.sign_out_associate")
	const title = "Sign Out Failed"

	s.assocMu.Lock()
	defer s.assocMu.Unlock()
	defer s.begin()()

	a := s.Associate()
	if a == nil {
		return s.fail(l, "sign_out_associate_error", title, ErrNoAssociate)
	}
	l = l.With("associate_id", a.ID)
	if passcode == "" {
		return s.fail(l, "sign_out_associate_error", title, fmt.Errorf("passcode is required: %w", ErrValidation))
	}

	if err := s.verifyPasscode(ctx, a.ID, passcode); err != nil {
		return s.fail(l, "sign_out_associate_error", title, err)
	}
	if _, err := s.RecordLogout(ctx, a.ID); err != nil {
		return s.fail(l, "sign_out_associate_error", title, err)
	}

	s.mu.Lock()
	s.associate = nil
	s.mu.Unlock()

	l.Info("associate signed out")
	s.notifier().Success("Signed Out", fmt.Sprintf("Goodbye, %s!", a.Name))
	events.Emit(ctx, s.Events, events.New(events.AssociateSignedOut, s.TerminalID, map[string]any{
		"associateId":     a.ID,
		"associateNumber": a.AssociateNumber,
	}))
	return nil
}

// verifyPasscode treats a backend rejection and {"valid": false} alike.
func (s *Service) verifyPasscode(ctx context.Context, associateID int64, passcode string) error {
	var res struct {
		Valid *bool `json:"valid"`
	}
	err := s.API.Do(ctx, apiclient.Request{
		Method:          http.MethodPost,
		Path:            "/shifts/associates/" + id(associateID) + "/verify-passcode",
		Body:            map[string]string{"passcode": passcode},
		Op:              "shift.verify_passcode",
		SkipAuthRefresh: true,
	}, &res)

	var apiErr *apiclient.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status < 500:
		return fmt.Errorf("%w: %w", ErrInvalidPasscode, err)
	case err != nil:
		return err
	case res.Valid != nil && !*res.Valid:
		return ErrInvalidPasscode
	}
	return nil
}

// Associate returns a copy of the signed-in associate, or nil.
func (s *Service) Associate() *models.SignedInAssociate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.associate == nil {
		return nil
	}
	out := *s.associate
	return &out
}

// Reset forgets the associate and shift state without calling the backend.
// It runs when the primary session ends.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.associate = nil
	s.active = nil
	s.swaps, s.pending, s.logins = nil, nil, nil
}
