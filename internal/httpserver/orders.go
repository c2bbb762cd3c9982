package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/session"
)

// outcome answers 201 for a completed order and 202 for a queued one.
func outcome(c echo.Context, out *session.Outcome) error {
	if out.Queued != nil {
		return c.JSON(http.StatusAccepted, out)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "pos.checkout")

	var req models.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "checkout", "invalid body", err)
	}
	out, err := terminal(c).Checkout(ctx, req)
	if err != nil {
		return fail(l, "checkout", err)
	}
	l.Info("checkout_success", "cart_id", req.CartID, "queued", out.Queued != nil)
	return outcome(c, out)
}

func (h *Handler) HoldOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "pos.hold_order")

	var req models.HoldRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "hold_order", "invalid body", err)
	}
	order, err := terminal(c).POS.HoldOrder(ctx, c.Param("id"), req)
	if err != nil {
		return fail(l, "hold_order", err)
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *Handler) GetHeldOrders(c echo.Context) error {
	l := logger(c, "pos.get_held_orders")
	storeID, err := queryInt(c, "storeId")
	if err != nil || storeID <= 0 {
		return badRequest(l, "get_held_orders", "storeId is required", err)
	}
	orders, err := terminal(c).POS.GetHeldOrders(c.Request().Context(), storeID)
	if err != nil {
		return fail(l, "get_held_orders", err)
	}
	return c.JSON(http.StatusOK, orders)
}

func (h *Handler) ResumeOrder(c echo.Context) error {
	l := logger(c, "pos.resume_order")
	id, err := pathInt(c, "id")
	if err != nil {
		return badRequest(l, "resume_order", "id is not an integer", err)
	}
	cart, err := terminal(c).POS.ResumeOrder(c.Request().Context(), id)
	if err != nil {
		return fail(l, "resume_order", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) ProcessReturn(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "pos.process_return")

	var req models.ReturnRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "process_return", "invalid body", err)
	}
	out, err := terminal(c).ProcessReturn(ctx, req)
	if err != nil {
		return fail(l, "process_return", err)
	}
	return outcome(c, out)
}

func (h *Handler) SearchOrder(c echo.Context) error {
	l := logger(c, "pos.search_order")
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return badRequest(l, "search_order", "q is required", nil)
	}
	order, err := terminal(c).POS.SearchOrder(c.Request().Context(), q)
	if err != nil {
		return fail(l, "search_order", err)
	}
	return c.JSON(http.StatusOK, order)
}
