package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/pos_terminal/internal/service/offline"
	"github.com/Skotchmaster/pos_terminal/internal/service/pos"
	"github.com/Skotchmaster/pos_terminal/internal/service/shift"
	"github.com/Skotchmaster/pos_terminal/internal/session"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
	loggingmw "github.com/Skotchmaster/pos_terminal/pkg/middleware/logging"
)

const terminalKey = "terminal"

type Handler struct {
	Terminals *session.Manager
}

// ResolveTerminal attaches the session named by X-Terminal-ID.
func (h *Handler) ResolveTerminal(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		l := logging.FromContext(ctx).With("handler", "terminal.resolve")

		t, err := h.Terminals.Get(ctx, c.Request().Header.Get(loggingmw.HeaderTerminalID))
		switch {
		case errors.Is(err, session.ErrInvalidTerminalID):
			l.Warn("resolve_terminal_error", "status", 400, "error", err)
			return echo.NewHTTPError(http.StatusBadRequest, echo.Map{"message": "invalid terminal id"})
		case errors.Is(err, session.ErrClosed):
			return echo.NewHTTPError(http.StatusServiceUnavailable, echo.Map{"message": "shutting down"})
		case err != nil:
			l.Error("resolve_terminal_error", "status", 500, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, echo.Map{"message": "cannot open terminal"})
		}
		c.Set(terminalKey, t)
		return next(c)
	}
}

func (h *Handler) RequireLogin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if terminal(c).State() == session.LoggedOut {
			return fail(logger(c, "terminal.require_login"), "require_login", session.ErrLoggedOut)
		}
		return next(c)
	}
}

func terminal(c echo.Context) *session.Terminal {
	return c.Get(terminalKey).(*session.Terminal)
}

func logger(c echo.Context, handler string) *slog.Logger {
	return logging.FromContext(c.Request().Context()).With("handler", handler)
}

// statusFor maps service errors onto kiosk API status codes. Backend
// rejections keep their 4xx status; backend 5xx becomes 502.
func statusFor(err error) int {
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, shift.ErrInvalidPasscode):
		return http.StatusUnauthorized
	case errors.Is(err, pos.ErrValidation), errors.Is(err, shift.ErrValidation), errors.Is(err, offline.ErrUnknownType):
		return http.StatusBadRequest
	case errors.Is(err, pos.ErrNoCart), errors.Is(err, pos.ErrCartMismatch),
		errors.Is(err, shift.ErrInvalidTransition), errors.Is(err, shift.ErrNoAssociate),
		errors.Is(err, shift.ErrAssociateSignedIn):
		return http.StatusConflict
	case errors.Is(err, session.ErrLoggedOut), errors.Is(err, shift.ErrNotAuthenticated),
		errors.Is(err, apiclient.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apiclient.ErrNetwork):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status >= 400 && apiErr.Status < 500:
			return apiErr.Status
		case apiErr.Status < 400:
			// success=false inside a 2xx envelope
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func fail(l *slog.Logger, event string, err error) error {
	code := statusFor(err)
	fallback := err.Error()
	if code == http.StatusInternalServerError {
		fallback = "internal error"
	}
	body := echo.Map{"message": apiclient.MessageOf(err, fallback)}

	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && len(apiErr.Errors) > 0 {
		body["errors"] = apiErr.Errors
	}
	var resumeErr *pos.ResumeError
	if errors.As(err, &resumeErr) {
		body["resume"] = echo.Map{"cartId": resumeErr.CartID, "added": resumeErr.Added, "total": resumeErr.Total}
	}

	if code >= 500 {
		l.Error(event+"_error", "status", code, "error", err)
	} else {
		l.Warn(event+"_error", "status", code, "error", err)
	}
	return echo.NewHTTPError(code, body)
}

func badRequest(l *slog.Logger, event, message string, err error) error {
	l.Warn(event+"_error", "status", 400, "reason", message, "error", err)
	return echo.NewHTTPError(http.StatusBadRequest, echo.Map{"message": message})
}

func pathInt(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

// queryInt returns 0 for a missing parameter.
func queryInt(c echo.Context, name string) (int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
