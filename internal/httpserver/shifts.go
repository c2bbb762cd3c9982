package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/pos_terminal/internal/models"
)

func (h *Handler) ActiveShift(c echo.Context) error {
	l := logger(c, "shift.active")
	storeID, err := queryInt(c, "storeId")
	if err != nil {
		return badRequest(l, "active_shift", "storeId is not an integer", err)
	}
	userID, err := queryInt(c, "userId")
	if err != nil {
		return badRequest(l, "active_shift", "userId is not an integer", err)
	}

	sh, err := terminal(c).Shifts.LoadActiveShift(c.Request().Context(), storeID, userID)
	if err != nil {
		return fail(l, "active_shift", err)
	}
	if sh == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, sh)
}

func (h *Handler) StartShift(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "shift.start")

	var req struct {
		UserID int64 `json:"userId"`
		models.StartShiftRequest
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "start_shift", "invalid body", err)
	}
	sh, err := terminal(c).Shifts.StartShift(ctx, req.UserID, req.StartShiftRequest)
	if err != nil {
		return fail(l, "start_shift", err)
	}
	l.Info("start_shift_success", "shift_id", sh.ID)
	return c.JSON(http.StatusCreated, sh)
}

func (h *Handler) EndShift(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "shift.end")

	id, err := pathInt(c, "id")
	if err != nil {
		return badRequest(l, "end_shift", "id is not an integer", err)
	}
	var req struct {
		EndedByUserID int64 `json:"endedByUserId"`
		models.EndShiftRequest
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "end_shift", "invalid body", err)
	}
	sh, err := terminal(c).Shifts.EndShift(ctx, id, req.EndedByUserID, req.EndShiftRequest)
	if err != nil {
		return fail(l, "end_shift", err)
	}
	l.Info("end_shift_success", "shift_id", sh.ID)
	return c.JSON(http.StatusOK, sh)
}

func (h *Handler) StartDay(c echo.Context) error { return h.day(c, true) }
func (h *Handler) EndDay(c echo.Context) error   { return h.day(c, false) }

func (h *Handler) day(c echo.Context, start bool) error {
	ctx := c.Request().Context()
	event := "end_day"
	if start {
		event = "start_day"
	}
	l := logger(c, "shift."+event)

	var req models.DayRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, event, "invalid body", err)
	}
	svc := terminal(c).Shifts
	var err error
	if start {
		err = svc.StartDay(ctx, req)
	} else {
		err = svc.EndDay(ctx, req)
	}
	if err != nil {
		return fail(l, event, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateSwap(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "shift.create_swap")

	var req struct {
		RequestedByUserID int64 `json:"requestedByUserId"`
		models.SwapRequest
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "create_swap", "invalid body", err)
	}
	sw, err := terminal(c).Shifts.CreateSwap(ctx, req.RequestedByUserID, req.SwapRequest)
	if err != nil {
		return fail(l, "create_swap", err)
	}
	return c.JSON(http.StatusCreated, sw)
}

// ListSwaps filters by userId or storeId.
func (h *Handler) ListSwaps(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "shift.list_swaps")

	userID, uerr := queryInt(c, "userId")
	storeID, serr := queryInt(c, "storeId")
	if uerr != nil || serr != nil || (userID == 0) == (storeID == 0) {
		return badRequest(l, "list_swaps", "exactly one of userId or storeId is required", nil)
	}

	svc := terminal(c).Shifts
	var (
		swaps []models.ShiftSwap
		err   error
	)
	if userID != 0 {
		swaps, err = svc.LoadSwapsByUser(ctx, userID)
	} else {
		swaps, err = svc.LoadSwapsByStore(ctx, storeID)
	}
	if err != nil {
		return fail(l, "list_swaps", err)
	}
	return c.JSON(http.StatusOK, swaps)
}

func (h *Handler) PendingSwaps(c echo.Context) error {
	l := logger(c, "shift.pending_swaps")
	userID, err := queryInt(c, "userId")
	if err != nil || userID <= 0 {
		return badRequest(l, "pending_swaps", "userId is required", err)
	}
	swaps, err := terminal(c).Shifts.LoadPendingSwaps(c.Request().Context(), userID)
	if err != nil {
		return fail(l, "pending_swaps", err)
	}
	return c.JSON(http.StatusOK, swaps)
}

type swapDecision struct {
	UserID           int64  `json:"userId"`
	ManagerID        int64  `json:"managerId"`
	ManagerNotes     string `json:"managerNotes"`
	RejectedByUserID int64  `json:"rejectedByUserId"`
	Reason           string `json:"reason"`
}

func (h *Handler) decideSwap(c echo.Context, event string, move func(id int64, d swapDecision) (*models.ShiftSwap, error)) error {
	l := logger(c, "shift."+event)
	id, err := pathInt(c, "id")
	if err != nil {
		return badRequest(l, event, "id is not an integer", err)
	}
	var d swapDecision
	if err := c.Bind(&d); err != nil {
		return badRequest(l, event, "invalid body", err)
	}
	sw, err := move(id, d)
	if err != nil {
		return fail(l, event, err)
	}
	l.Info(event+"_success", "swap_id", id, "status", sw.Status)
	return c.JSON(http.StatusOK, sw)
}

func (h *Handler) ApproveSwap(c echo.Context) error {
	ctx, svc := c.Request().Context(), terminal(c).Shifts
	return h.decideSwap(c, "approve_swap", func(id int64, d swapDecision) (*models.ShiftSwap, error) {
		return svc.ApproveSwapByEmployee(ctx, id, d.UserID)
	})
}

func (h *Handler) ManagerApproveSwap(c echo.Context) error {
	ctx, svc := c.Request().Context(), terminal(c).Shifts
	return h.decideSwap(c, "manager_approve_swap", func(id int64, d swapDecision) (*models.ShiftSwap, error) {
		return svc.ApproveSwapByManager(ctx, id, d.ManagerID, d.ManagerNotes)
	})
}

func (h *Handler) RejectSwap(c echo.Context) error {
	ctx, svc := c.Request().Context(), terminal(c).Shifts
	return h.decideSwap(c, "reject_swap", func(id int64, d swapDecision) (*models.ShiftSwap, error) {
		return svc.RejectSwap(ctx, id, d.RejectedByUserID, d.Reason)
	})
}

func (h *Handler) CancelSwap(c echo.Context) error {
	ctx, svc := c.Request().Context(), terminal(c).Shifts
	return h.decideSwap(c, "cancel_swap", func(id int64, d swapDecision) (*models.ShiftSwap, error) {
		return svc.CancelSwap(ctx, id, d.UserID)
	})
}

// LoginHistory filters by userId or storeId, optionally for one date.
func (h *Handler) LoginHistory(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "shift.login_history")

	userID, uerr := queryInt(c, "userId")
	storeID, serr := queryInt(c, "storeId")
	if uerr != nil || serr != nil || (userID == 0) == (storeID == 0) {
		return badRequest(l, "login_history", "exactly one of userId or storeId is required", nil)
	}

	date := c.QueryParam("date")
	svc := terminal(c).Shifts
	var (
		logins []models.SalesPersonLogin
		err    error
	)
	if userID != 0 {
		logins, err = svc.LoadLoginHistory(ctx, userID, date)
	} else {
		logins, err = svc.LoadLoginHistoryByStore(ctx, storeID, date)
	}
	if err != nil {
		return fail(l, "login_history", err)
	}
	return c.JSON(http.StatusOK, logins)
}
