package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/pos_terminal/pkg/logging"
	"github.com/Skotchmaster/pos_terminal/pkg/tokens"
)

const DefaultLead = 30 * time.Second

// TokenSession is a primary session that can renew its access token.
type TokenSession interface {
	AccessToken() string
	Refresh(ctx context.Context) (string, error)
}

// AutoRefreshMiddleware renews an access token that is about to expire
// before the request reaches the handler. It covers refresh timers that
// did not fire, for example after the host slept.
type AutoRefreshMiddleware struct {
	Session func(c echo.Context) TokenSession
	Lead    time.Duration
	Now     func() time.Time
}

func NewAutoRefreshMiddleware(session func(c echo.Context) TokenSession) *AutoRefreshMiddleware {
	return &AutoRefreshMiddleware{Session: session, Lead: DefaultLead, Now: time.Now}
}

func (m *AutoRefreshMiddleware) RequireFreshToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess := m.Session(c)
		access := sess.AccessToken()
		if access == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, echo.Map{"message": "missing access token"})
		}

		if tokens.IsExpired(access, m.Now().Add(m.Lead)) {
			ctx := c.Request().Context()
			l := logging.FromContext(ctx).With("handler", "auth.auto_refresh")
			if _, err := sess.Refresh(ctx); err != nil {
				l.Warn("auto_refresh_error", "status", 401, "error", err)
				return echo.NewHTTPError(http.StatusUnauthorized, echo.Map{"message": "session expired"})
			}
			l.Info("access token refreshed before request")
		}
		return next(c)
	}
}
