package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/pos_terminal/internal/models"
)

type syncStatus struct {
	Online   bool                       `json:"online"`
	Syncing  bool                       `json:"syncing"`
	Size     int                        `json:"size"`
	LastSync *time.Time                 `json:"lastSync,omitempty"`
	Pending  []models.QueuedTransaction `json:"pending"`
}

func (h *Handler) SyncStatus(c echo.Context) error {
	q := terminal(c).Queue
	st := syncStatus{
		Online:  q.IsOnline(),
		Syncing: q.IsSyncing(),
		Size:    q.Size(),
		Pending: q.Pending(),
	}
	if last := q.LastSync(); !last.IsZero() {
		st.LastSync = &last
	}
	if st.Pending == nil {
		st.Pending = []models.QueuedTransaction{}
	}
	return c.JSON(http.StatusOK, st)
}

// Sync runs one replay pass in the request. Persistence errors are reported
// next to the pass result.
func (h *Handler) Sync(c echo.Context) error {
	l := logger(c, "offline.sync")
	res, err := terminal(c).Queue.Sync(c.Request().Context())
	if err != nil {
		l.Error("sync_error", "status", 500, "error", err, "synced", res.Synced, "failed", res.Failed)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "sync did not finish", "result": res})
	}
	return c.JSON(http.StatusOK, res)
}

// Connectivity lets the kiosk report browser online/offline events.
func (h *Handler) Connectivity(c echo.Context) error {
	l := logger(c, "offline.connectivity")
	var req struct {
		Online *bool `json:"online"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "connectivity", "invalid body", err)
	}
	if req.Online == nil {
		return badRequest(l, "connectivity", "online is required", errors.New("missing online"))
	}

	started := terminal(c).Queue.UpdateOnlineStatus(c.Request().Context(), *req.Online)
	return c.JSON(http.StatusOK, echo.Map{"online": *req.Online, "syncStarted": started})
}
