package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/pos_terminal/internal/models"
)

type cartView struct {
	Cart              *models.Cart `json:"cart"`
	Total             models.Money `json:"total"`
	ItemCount         int          `json:"itemCount"`
	HasItems          bool         `json:"hasItems"`
	Loading           bool         `json:"loading"`
	ProcessingPayment bool         `json:"processingPayment"`
}

func (h *Handler) CreateCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "pos.create_cart")

	var req struct {
		StoreID   int64 `json:"storeId"`
		CashierID int64 `json:"cashierId"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "create_cart", "invalid body", err)
	}

	cart, err := terminal(c).POS.CreateCart(ctx, req.StoreID, req.CashierID)
	if err != nil {
		return fail(l, "create_cart", err)
	}
	l.Info("create_cart_success", "cart_id", cart.CartID)
	return c.JSON(http.StatusCreated, cart)
}

func (h *Handler) CurrentCart(c echo.Context) error {
	p := terminal(c).POS
	cart := p.Current()
	if cart == nil {
		return echo.NewHTTPError(http.StatusNotFound, echo.Map{"message": "no active cart"})
	}
	return c.JSON(http.StatusOK, cartView{
		Cart:              cart,
		Total:             p.Total(),
		ItemCount:         p.ItemCount(),
		HasItems:          p.HasItems(),
		Loading:           p.Loading(),
		ProcessingPayment: p.ProcessingPayment(),
	})
}

func (h *Handler) GetCart(c echo.Context) error {
	l := logger(c, "pos.get_cart")
	cart, err := terminal(c).POS.GetCart(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(l, "get_cart", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) AddItem(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "pos.add_item")

	var req models.AddItemRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "add_item", "invalid body", err)
	}
	cart, err := terminal(c).POS.AddItem(ctx, c.Param("id"), req)
	if err != nil {
		return fail(l, "add_item", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) AddCustomItem(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "pos.add_custom_item")

	var req models.CustomItem
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "add_custom_item", "invalid body", err)
	}
	cart, err := terminal(c).POS.AddCustomItem(ctx, c.Param("id"), req)
	if err != nil {
		return fail(l, "add_custom_item", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) UpdateItemQuantity(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "pos.update_item_quantity")

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "update_item_quantity", "invalid body", err)
	}
	cart, err := terminal(c).POS.UpdateItemQuantity(ctx, c.Param("id"), c.Param("itemId"), req.Quantity)
	if err != nil {
		return fail(l, "update_item_quantity", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) RemoveItem(c echo.Context) error {
	l := logger(c, "pos.remove_item")
	cart, err := terminal(c).POS.RemoveItem(c.Request().Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		return fail(l, "remove_item", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) ApplyDiscount(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "pos.apply_discount")

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "apply_discount", "invalid body", err)
	}
	cart, err := terminal(c).POS.ApplyDiscount(ctx, c.Param("id"), req.Code)
	if err != nil {
		return fail(l, "apply_discount", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) RemoveDiscount(c echo.Context) error {
	l := logger(c, "pos.remove_discount")
	cart, err := terminal(c).POS.RemoveDiscount(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(l, "remove_discount", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) ClearCart(c echo.Context) error {
	l := logger(c, "pos.clear_cart")
	if err := terminal(c).POS.ClearCart(c.Request().Context(), c.Param("id")); err != nil {
		return fail(l, "clear_cart", err)
	}
	return c.NoContent(http.StatusNoContent)
}
