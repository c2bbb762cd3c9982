package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/session"
)

type sessionView struct {
	TerminalID  string                    `json:"terminalId"`
	State       session.State             `json:"state"`
	User        *models.User              `json:"user,omitempty"`
	StoreCode   string                    `json:"storeCode,omitempty"`
	Associate   *models.SignedInAssociate `json:"associate,omitempty"`
	ActiveShift *models.Shift             `json:"activeShift,omitempty"`
	Online      bool                      `json:"online"`
	Queued      int                       `json:"queued"`
}

func view(t *session.Terminal) sessionView {
	return sessionView{
		TerminalID:  t.ID,
		State:       t.State(),
		User:        t.Auth.CurrentUser(),
		StoreCode:   t.Auth.StoreCode(),
		Associate:   t.Shifts.Associate(),
		ActiveShift: t.Shifts.ActiveShift(),
		Online:      t.Queue.IsOnline(),
		Queued:      t.Queue.Size(),
	}
}

func (h *Handler) Session(c echo.Context) error {
	return c.JSON(http.StatusOK, view(terminal(c)))
}

func (h *Handler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "session.login")

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "login", "invalid body", err)
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return badRequest(l, "login", "username and password are required", nil)
	}

	t := terminal(c)
	if _, err := t.Login(ctx, req.Username, req.Password); err != nil {
		return fail(l, "login", err)
	}
	l.Info("login_success", "username", req.Username)
	return c.JSON(http.StatusOK, view(t))
}

func (h *Handler) Logout(c echo.Context) error {
	t := terminal(c)
	t.Logout(c.Request().Context())
	logger(c, "session.logout").Info("logout_success")
	return c.JSON(http.StatusOK, view(t))
}

func (h *Handler) SignInAssociate(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "session.sign_in_associate")

	var req struct {
		StoreID         int64  `json:"storeId"`
		AssociateNumber string `json:"associateNumber"`
		Passcode        string `json:"passcode"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "sign_in_associate", "invalid body", err)
	}

	a, err := terminal(c).SignInAssociate(ctx, req.StoreID, req.AssociateNumber, req.Passcode)
	if err != nil {
		return fail(l, "sign_in_associate", err)
	}
	l.Info("sign_in_associate_success", "associate_id", a.ID)
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SignOutAssociate(c echo.Context) error {
	ctx := c.Request().Context()
	l := logger(c, "session.sign_out_associate")

	var req struct {
		Passcode string `json:"passcode"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "sign_out_associate", "invalid body", err)
	}

	t := terminal(c)
	if err := t.SignOutAssociate(ctx, req.Passcode); err != nil {
		return fail(l, "sign_out_associate", err)
	}
	l.Info("sign_out_associate_success")
	return c.JSON(http.StatusOK, view(t))
}

func (h *Handler) Notifications(c echo.Context) error {
	return c.JSON(http.StatusOK, terminal(c).Notifications.List())
}

func (h *Handler) DismissNotification(c echo.Context) error {
	if !terminal(c).Notifications.Dismiss(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, echo.Map{"message": "notification not found"})
	}
	return c.NoContent(http.StatusNoContent)
}
