package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/Skotchmaster/pos_terminal/internal/metrics"
	"github.com/Skotchmaster/pos_terminal/internal/session"
	authmw "github.com/Skotchmaster/pos_terminal/pkg/middleware/auth"
	loggingmw "github.com/Skotchmaster/pos_terminal/pkg/middleware/logging"
)

type Deps struct {
	Terminals *session.Manager
	Metrics   *metrics.Metrics
	Log       *slog.Logger
	// Ready reports whether local storage is usable.
	Ready func(ctx context.Context) error
	// RateLimit is requests per second per terminal; 0 disables limiting.
	RateLimit float64
}

// New builds the kiosk API with its middleware chain.
func New(d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 40 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Pre(middleware.RemoveTrailingSlash())
	if d.Metrics != nil {
		e.Use(d.Metrics.Middleware())
	}
	e.Use(middleware.RequestID())
	e.Use(loggingmw.RequestLogger(d.Log))
	e.Use(middleware.Recover())

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "online": d.Terminals.Online()})
	})
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	h := &Handler{Terminals: d.Terminals}

	term := e.Group("/terminal", h.ResolveTerminal)
	if d.RateLimit > 0 {
		term.Use(rateLimiter(d.RateLimit))
	}

	term.POST("/login", h.Login)
	term.GET("/session", h.Session)
	term.GET("/notifications", h.Notifications)
	term.DELETE("/notifications/:id", h.DismissNotification)
	term.GET("/sync", h.SyncStatus)
	term.POST("/sync", h.Sync)
	term.POST("/connectivity", h.Connectivity)

	fresh := authmw.NewAutoRefreshMiddleware(func(c echo.Context) authmw.TokenSession { return terminal(c).Auth })
	private := term.Group("", h.RequireLogin, fresh.RequireFreshToken)
	private.POST("/logout", h.Logout)
	private.POST("/associate/sign-in", h.SignInAssociate)
	private.POST("/associate/sign-out", h.SignOutAssociate)

	carts := private.Group("/carts")
	carts.POST("", h.CreateCart)
	carts.GET("/current", h.CurrentCart)
	carts.GET("/:id", h.GetCart)
	carts.DELETE("/:id", h.ClearCart)
	carts.POST("/:id/items", h.AddItem)
	carts.POST("/:id/custom-items", h.AddCustomItem)
	carts.PUT("/:id/items/:itemId", h.UpdateItemQuantity)
	carts.DELETE("/:id/items/:itemId", h.RemoveItem)
	carts.POST("/:id/discount", h.ApplyDiscount)
	carts.DELETE("/:id/discount", h.RemoveDiscount)
	carts.POST("/:id/hold", h.HoldOrder)

	private.POST("/checkout", h.Checkout)
	private.GET("/held-orders", h.GetHeldOrders)
	private.POST("/held-orders/:id/resume", h.ResumeOrder)
	private.POST("/returns", h.ProcessReturn)
	private.GET("/orders/search", h.SearchOrder)

	shifts := private.Group("/shifts")
	shifts.GET("/active", h.ActiveShift)
	shifts.POST("", h.StartShift)
	shifts.POST("/:id/end", h.EndShift)
	private.POST("/days/start", h.StartDay)
	private.POST("/days/end", h.EndDay)

	swaps := private.Group("/swaps")
	swaps.POST("", h.CreateSwap)
	swaps.GET("", h.ListSwaps)
	swaps.GET("/pending", h.PendingSwaps)
	swaps.POST("/:id/approve", h.ApproveSwap)
	swaps.POST("/:id/manager-approve", h.ManagerApproveSwap)
	swaps.POST("/:id/reject", h.RejectSwap)
	swaps.POST("/:id/cancel", h.CancelSwap)

	private.GET("/logins", h.LoginHistory)
}

// rateLimiter keys the token bucket by terminal so one busy lane cannot
// starve the others.
func rateLimiter(perSecond float64) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     max(1, int(perSecond*2)),
		ExpiresIn: 5 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return terminal(c).ID, nil
		},
		DenyHandler: func(c echo.Context, id string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, echo.Map{"message": "Too many requests"})
		},
	})
}
