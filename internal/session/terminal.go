// Package session holds the per-terminal context: one primary auth
// session, its cart, shift state, offline queue and notifications. Nothing
// here is process-global; every request handler works on the Terminal it
// was given.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Skotchmaster/pos_terminal/internal/events"
	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/notify"
	"github.com/Skotchmaster/pos_terminal/internal/service/auth"
	"github.com/Skotchmaster/pos_terminal/internal/service/offline"
	"github.com/Skotchmaster/pos_terminal/internal/service/pos"
	"github.com/Skotchmaster/pos_terminal/internal/service/shift"
	"github.com/Skotchmaster/pos_terminal/internal/storage"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/authclient"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

// State is the two-tier auth state of a terminal: a primary login, and on
// top of it optionally an associate.
type State string

const (
	LoggedOut            State = "logged_out"
	PrimaryAuthenticated State = "primary_authenticated"
	AssociateSignedIn    State = "associate_signed_in"
)

var ErrLoggedOut = errors.New("terminal is logged out")

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Storage    storage.Factory
	Events     events.Publisher
	// Observer receives backend call timings.
	Observer apiclient.Observer
	// QueueMetrics receives offline queue depth and sync outcomes.
	QueueMetrics offline.Metrics
	// OfflineMode queues sales and returns when the backend is unreachable.
	OfflineMode bool
	MaxRetries  int
}

type Terminal struct {
	ID            string
	API           *apiclient.Client
	Auth          *auth.Service
	POS           *pos.Service
	Shifts        *shift.Service
	Queue         *offline.Queue
	Notifications *notify.Center
	Events        events.Publisher
	OfflineMode   bool
}

// Open wires a terminal's services against one backend client and the
// terminal's own storage namespace, loads its offline queue and restores a
// stored login when the token is still valid.
func Open(ctx context.Context, id string, opts Options) (*Terminal, error) {
	l := logging.FromContext(ctx).With("svc", "session.open", "terminal_id", id)
	if opts.Storage == nil {
		return nil, errors.New("session: storage factory is required")
	}

	store := opts.Storage.For(id)
	api := apiclient.New(opts.BaseURL, opts.HTTPClient)
	api.Observer = opts.Observer
	center := notify.NewCenter(l)

	authSvc := &auth.Service{
		Client:   authclient.NewClient(api),
		Store:    store,
		Notifier: center,
	}
	api.Credentials = authSvc
	api.Refresher = authSvc
	api.OnUnauthorized = authSvc.ForceLogout

	posSvc := &pos.Service{API: api, Notifier: center, Events: opts.Events, TerminalID: id}
	if opts.OfflineMode {
		posSvc.Deferred = apiclient.IsNetwork
	}
	shiftSvc := &shift.Service{
		API:           api,
		Notifier:      center,
		Events:        opts.Events,
		TerminalID:    id,
		Authenticated: authSvc.IsAuthenticated,
	}

	queue := offline.New(store, offline.APIReplayer{API: api})
	queue.Notifier = center
	queue.Events = opts.Events
	queue.Metrics = opts.QueueMetrics
	queue.TerminalID = id
	queue.MaxRetries = opts.MaxRetries
	if err := queue.Load(ctx); err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}

	// A primary logout ends the associate tier and the cart with it.
	authSvc.OnLogout = func() {
		shiftSvc.Reset()
		posSvc.DropLocal()
	}

	t := &Terminal{
		ID:            id,
		API:           api,
		Auth:          authSvc,
		POS:           posSvc,
		Shifts:        shiftSvc,
		Queue:         queue,
		Notifications: center,
		Events:        opts.Events,
		OfflineMode:   opts.OfflineMode,
	}
	restored := authSvc.Restore(ctx)
	l.Info("terminal opened", "restored_session", restored, "queued", queue.Size())
	return t, nil
}

func (t *Terminal) State() State {
	switch {
	case !t.Auth.IsAuthenticated():
		return LoggedOut
	case t.Shifts.Associate() != nil:
		return AssociateSignedIn
	default:
		return PrimaryAuthenticated
	}
}

func (t *Terminal) logger(ctx context.Context, svc string) *slog.Logger {
	return logging.FromContext(ctx).With("svc", svc, "terminal_id", t.ID)
}

func (t *Terminal) Login(ctx context.Context, username, password string) (*models.User, error) {
	return t.Auth.Login(ctx, username, password)
}

// Logout ends the primary session, which also signs out the associate
// locally.
func (t *Terminal) Logout(ctx context.Context) {
	t.Auth.Logout(ctx)
}

// SignInAssociate is only valid from PrimaryAuthenticated.
func (t *Terminal) SignInAssociate(ctx context.Context, storeID int64, associateNumber, passcode string) (*models.SignedInAssociate, error) {
	switch t.State() {
	case LoggedOut:
		return nil, shift.ErrNotAuthenticated
	case AssociateSignedIn:
		return nil, shift.ErrAssociateSignedIn
	}
	return t.Shifts.SignInAssociate(ctx, storeID, associateNumber, passcode)
}

// SignOutAssociate is only valid from AssociateSignedIn and needs the
// associate's passcode.
func (t *Terminal) SignOutAssociate(ctx context.Context, passcode string) error {
	if t.State() != AssociateSignedIn {
		return shift.ErrNoAssociate
	}
	return t.Shifts.SignOutAssociate(ctx, passcode)
}

// Outcome is either a completed order or the queue entry that will
// complete it once the backend is reachable.
type Outcome struct {
	Order  *models.SalesOrder        `json:"order,omitempty"`
	Queued *models.QueuedTransaction `json:"queued,omitempty"`
}

// Checkout completes the sale online. When the backend cannot be reached
// and offline mode is on, the sale is queued and the cart is released.
func (t *Terminal) Checkout(ctx context.Context, req models.CheckoutRequest) (*Outcome, error) {
	order, err := t.POS.Checkout(ctx, req)
	if err == nil {
		return &Outcome{Order: order}, nil
	}
	tx, qerr := t.queueOffline(ctx, models.TransactionSale, req, err)
	if qerr != nil {
		t.notifyUnqueued(qerr, "Checkout failed", "The sale could not be saved for later. Please try again.")
		return nil, qerr
	}
	t.POS.DropLocal()
	events.Emit(ctx, t.Events, events.New(events.CheckoutQueued, t.ID, map[string]any{
		"cartId": req.CartID,
		"txId":   tx.ID,
		"total":  req.PaymentTotal(),
	}))
	t.Notifications.Warning("Sale queued", "The server is unreachable. The sale will be sent when the connection returns.")
	return &Outcome{Queued: tx}, nil
}

// ProcessReturn falls back to the queue the same way Checkout does.
func (t *Terminal) ProcessReturn(ctx context.Context, req models.ReturnRequest) (*Outcome, error) {
	order, err := t.POS.ProcessReturn(ctx, req)
	if err == nil {
		return &Outcome{Order: order}, nil
	}
	tx, qerr := t.queueOffline(ctx, models.TransactionReturn, req, err)
	if qerr != nil {
		t.notifyUnqueued(qerr, "Failed to process return", "The return could not be saved for later. Please try again.")
		return nil, qerr
	}
	t.Notifications.Warning("Return queued", "The server is unreachable. The return will be sent when the connection returns.")
	return &Outcome{Queued: tx}, nil
}

// queueOffline returns cause unchanged unless it is a network failure and
// offline mode is on.
func (t *Terminal) queueOffline(ctx context.Context, typ models.TransactionType, data any, cause error) (*models.QueuedTransaction, error) {
	if !t.OfflineMode || !apiclient.IsNetwork(cause) {
		return nil, cause
	}
	l := t.logger(ctx, "session.queue_offline").With("type", typ)

	tx, err := t.Queue.QueueTransaction(ctx, typ, data)
	if err != nil {
		l.Error("queue_offline_error", "error", err, "cause", cause)
		return nil, errors.Join(cause, err)
	}
	t.Queue.UpdateOnlineStatus(ctx, false)
	l.Warn("transaction queued offline", "tx_id", tx.ID, "cause", cause)
	return &tx, nil
}

// notifyUnqueued covers a deferred failure that could not be queued; pos
// stayed silent about it.
func (t *Terminal) notifyUnqueued(err error, title, message string) {
	if t.POS.Deferred != nil && t.POS.Deferred(err) {
		t.Notifications.Error(title, message)
	}
}

// Close stops the refresh timer and background sync passes.
func (t *Terminal) Close() {
	t.Auth.Close()
	t.Queue.Close()
}
