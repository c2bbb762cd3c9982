package shift

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

func (s *Service) CreateSwap(ctx context.Context, requestedByUserID int64, req models.SwapRequest) (*models.ShiftSwap, error) {
	l := logging.FromContext(ctx).With("svc", "shift.create_swap", "requested_by", requestedByUserID)
	const title = "Swap request failed"
	defer s.begin()()

	switch {
	case requestedByUserID <= 0 || req.OriginalShiftID <= 0 || req.RequestedToUserID <= 0:
		return nil, s.fail(l, "create_swap_error", title, fmt.Errorf("requestedByUserId, originalShiftId and requestedToUserId are required: %w", ErrValidation))
	case req.RequestedToUserID == requestedByUserID:
		return nil, s.fail(l, "create_swap_error", title, fmt.Errorf("a shift cannot be swapped with yourself: %w", ErrValidation))
	case req.OriginalShiftDate == "" || req.SwapShiftDate == "":
		return nil, s.fail(l, "create_swap_error", title, fmt.Errorf("originalShiftDate and swapShiftDate are required: %w", ErrValidation))
	}

	var sw models.ShiftSwap
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/shifts/swaps",
		Query:  query("requestedByUserId", id(requestedByUserID)),
		Body:   req,
		Op:     "shift.create_swap",
	}, &sw); err != nil {
		return nil, s.fail(l, "create_swap_error", title, err)
	}

	s.remember(sw)
	l.Info("swap requested", "swap_id", sw.ID)
	s.notifier().Success("Swap requested", "Shift swap request submitted")
	return &sw, nil
}

// remember updates the cached copy of sw in the swap lists. Swaps that
// left PENDING drop out of the pending list.
func (s *Service) remember(sw models.ShiftSwap) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.swaps {
		if s.swaps[i].ID == sw.ID {
			s.swaps[i], found = sw, true
		}
	}
	if !found {
		s.swaps = append(s.swaps, sw)
	}

	pending := s.pending[:0:0]
	for _, p := range s.pending {
		if p.ID != sw.ID {
			pending = append(pending, p)
		} else if sw.Status == models.SwapPending {
			pending = append(pending, sw)
		}
	}
	s.pending = pending
}

func (s *Service) knownSwap(swapID int64) (models.ShiftSwap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range [][]models.ShiftSwap{s.swaps, s.pending} {
		for _, sw := range list {
			if sw.ID == swapID {
				return sw, true
			}
		}
	}
	return models.ShiftSwap{}, false
}

type swapMove struct {
	to      models.SwapStatus
	action  string
	op      string
	title   string
	done    string
	message string
}

var (
	moveApprove = swapMove{models.SwapApproved, "approve", "shift.approve_swap", "Failed to approve swap", "Swap approved", "You approved the swap request"}
	moveManager = swapMove{models.SwapManagerApproved, "manager-approve", "shift.manager_approve_swap", "Failed to approve swap", "Swap approved", "Manager approved swap"}
	moveReject  = swapMove{models.SwapRejected, "reject", "shift.reject_swap", "Failed to reject swap", "Swap rejected", "Swap request rejected"}
	moveCancel  = swapMove{models.SwapCancelled, "cancel", "shift.cancel_swap", "Failed to cancel swap", "Swap cancelled", "Swap request cancelled"}
)

// moveSwap checks the transition against the cached status when the swap
// is known locally; the backend has the final word either way.
func (s *Service) moveSwap(ctx context.Context, swapID int64, m swapMove, q map[string]string) (*models.ShiftSwap, error) {
	l := logging.FromContext(ctx).With("svc", m.op, "swap_id", swapID)
	event := m.op[len("shift."):] + "_error"
	defer s.begin()()

	if swapID <= 0 {
		return nil, s.fail(l, event, m.title, fmt.Errorf("swapId is required: %w", ErrValidation))
	}
	if cur, ok := s.knownSwap(swapID); ok && !cur.Status.CanTransition(m.to) {
		return nil, s.fail(l, event, m.title, fmt.Errorf("swap %d cannot move from %s to %s: %w", swapID, cur.Status, m.to, ErrInvalidTransition))
	}

	kv := make([]string, 0, len(q)*2)
	for k, v := range q {
		kv = append(kv, k, v)
	}
	var sw models.ShiftSwap
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/shifts/swaps/" + id(swapID) + "/" + m.action,
		Query:  query(kv...),
		Op:     m.op,
	}, &sw); err != nil {
		return nil, s.fail(l, event, m.title, err)
	}

	s.remember(sw)
	l.Info("swap updated", "status", sw.Status)
	if m.to == models.SwapApproved || m.to == models.SwapManagerApproved {
		s.notifier().Success(m.done, m.message)
	} else {
		s.notifier().Info(m.done, m.message)
	}
	return &sw, nil
}

// ApproveSwapByEmployee is the peer gate: the colleague asked to take the
// shift agrees.
func (s *Service) ApproveSwapByEmployee(ctx context.Context, swapID, userID int64) (*models.ShiftSwap, error) {
	return s.moveSwap(ctx, swapID, moveApprove, map[string]string{"userId": id(userID)})
}

// ApproveSwapByManager is the second gate and only follows peer approval.
func (s *Service) ApproveSwapByManager(ctx context.Context, swapID, managerID int64, notes string) (*models.ShiftSwap, error) {
	return s.moveSwap(ctx, swapID, moveManager, map[string]string{"managerId": id(managerID), "managerNotes": notes})
}

func (s *Service) RejectSwap(ctx context.Context, swapID, rejectedByUserID int64, reason string) (*models.ShiftSwap, error) {
	return s.moveSwap(ctx, swapID, moveReject, map[string]string{"rejectedByUserId": id(rejectedByUserID), "reason": reason})
}

func (s *Service) CancelSwap(ctx context.Context, swapID, userID int64) (*models.ShiftSwap, error) {
	return s.moveSwap(ctx, swapID, moveCancel, map[string]string{"userId": id(userID)})
}

func (s *Service) listSwaps(ctx context.Context, op, path, key string, v int64) ([]models.ShiftSwap, error) {
	l := logging.FromContext(ctx).With("svc", op, key, v)
	defer s.begin()()

	var out []models.ShiftSwap
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query(key, id(v)),
		Op:     op,
	}, &out); err != nil {
		l.Warn(op[len("shift."):]+"_error", "status", apiclient.StatusOf(err), "error", err)
		return nil, err
	}
	if out == nil {
		out = []models.ShiftSwap{}
	}
	return out, nil
}

// LoadPendingSwaps lists swaps waiting for userID's peer approval.
func (s *Service) LoadPendingSwaps(ctx context.Context, userID int64) ([]models.ShiftSwap, error) {
	out, err := s.listSwaps(ctx, "shift.pending_swaps", "/shifts/swaps/pending", "userId", userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.pending = append([]models.ShiftSwap(nil), out...)
	s.mu.Unlock()
	return out, nil
}

func (s *Service) LoadSwapsByUser(ctx context.Context, userID int64) ([]models.ShiftSwap, error) {
	out, err := s.listSwaps(ctx, "shift.user_swaps", "/shifts/swaps/user", "userId", userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.swaps = append([]models.ShiftSwap(nil), out...)
	s.mu.Unlock()
	return out, nil
}

func (s *Service) LoadSwapsByStore(ctx context.Context, storeID int64) ([]models.ShiftSwap, error) {
	out, err := s.listSwaps(ctx, "shift.store_swaps", "/shifts/swaps/store", "storeId", storeID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.swaps = append([]models.ShiftSwap(nil), out...)
	s.mu.Unlock()
	return out, nil
}

func (s *Service) Swaps() []models.ShiftSwap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ShiftSwap(nil), s.swaps...)
}

func (s *Service) PendingSwaps() []models.ShiftSwap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ShiftSwap(nil), s.pending...)
}
