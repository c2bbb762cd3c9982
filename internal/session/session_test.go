package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/pos_terminal/internal/backendtest"
	"github.com/Skotchmaster/pos_terminal/internal/events"
	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/notify"
	"github.com/Skotchmaster/pos_terminal/internal/service/shift"
	"github.com/Skotchmaster/pos_terminal/internal/storage"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/db"
)

type switchable struct {
	base http.RoundTripper
	down atomic.Bool
}

func (s *switchable) RoundTrip(r *http.Request) (*http.Response, error) {
	if s.down.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	return s.base.RoundTrip(r)
}

type recorder struct {
	mu    sync.Mutex
	types []events.Type
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, ev.Type)
	return nil
}

func (r *recorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.types {
		if got == t {
			n++
		}
	}
	return n
}

func (r *recorder) has(t events.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.types {
		if got == t {
			return true
		}
	}
	return false
}

func titles(term *Terminal, kind notify.Kind) []string {
	var out []string
	for _, n := range term.Notifications.List() {
		if n.Kind == kind {
			out = append(out, n.Title)
		}
	}
	return out
}

type fixture struct {
	srv  *backendtest.Server
	net  *switchable
	pub  *recorder
	opts Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := backendtest.New(t)
	srv.AddUser("sam", "pw")
	srv.AddProduct(backendtest.Product{ID: 1, Name: "Coffee", Barcode: "111", Price: decimal.NewFromInt(10)})
	srv.AddAssociate(backendtest.Associate{ID: 42, Number: "A-100", Name: "Dana", Passcode: "1234", StoreID: 1})

	gdb, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })

	sw := &switchable{base: srv.Client().Transport}
	pub := &recorder{}
	return &fixture{
		srv: srv,
		net: sw,
		pub: pub,
		opts: Options{
			BaseURL:     srv.URL,
			HTTPClient:  &http.Client{Transport: sw},
			Storage:     storage.GormFactory{DB: gdb},
			Events:      pub,
			OfflineMode: true,
		},
	}
}

func (f *fixture) open(t *testing.T, id string) *Terminal {
	t.Helper()
	term, err := Open(context.Background(), id, f.opts)
	require.NoError(t, err)
	t.Cleanup(term.Close)
	return term
}

func (f *fixture) cart(t *testing.T, term *Terminal) *models.Cart {
	t.Helper()
	ctx := context.Background()
	cart, err := term.POS.CreateCart(ctx, 1, 7)
	require.NoError(t, err)
	pid := int64(1)
	cart, err = term.POS.AddItem(ctx, cart.CartID, models.AddItemRequest{ProductID: &pid, Quantity: 2})
	require.NoError(t, err)
	return cart
}

func cash(cartID, amount string) models.CheckoutRequest {
	return models.CheckoutRequest{
		CartID:   cartID,
		Payments: []models.CheckoutPayment{{PaymentType: models.PaymentCash, Amount: decimal.RequireFromString(amount)}},
	}
}

func TestTwoTierStateMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	term := f.open(t, "lane-1")
	assert.Equal(t, LoggedOut, term.State())

	_, err := term.SignInAssociate(ctx, 1, "A-100", "1234")
	assert.ErrorIs(t, err, shift.ErrNotAuthenticated)

	_, err = term.Login(ctx, "sam", "pw")
	require.NoError(t, err)
	assert.Equal(t, PrimaryAuthenticated, term.State())
	assert.Equal(t, "ST-1", term.Auth.StoreCode())

	assert.ErrorIs(t, term.SignOutAssociate(ctx, "1234"), shift.ErrNoAssociate)

	_, err = term.SignInAssociate(ctx, 1, "A-100", "1234")
	require.NoError(t, err)
	assert.Equal(t, AssociateSignedIn, term.State())

	_, err = term.SignInAssociate(ctx, 1, "A-100", "1234")
	assert.ErrorIs(t, err, shift.ErrAssociateSignedIn)

	assert.Error(t, term.SignOutAssociate(ctx, "0000"))
	assert.Equal(t, AssociateSignedIn, term.State())

	require.NoError(t, term.SignOutAssociate(ctx, "1234"))
	assert.Equal(t, PrimaryAuthenticated, term.State())

	_, err = term.SignInAssociate(ctx, 1, "A-100", "1234")
	require.NoError(t, err)
	term.Logout(ctx)
	assert.Equal(t, LoggedOut, term.State())
	assert.Nil(t, term.Shifts.Associate(), "primary logout ends the associate tier")
}

func TestLoginSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := Open(ctx, "lane-1", f.opts)
	require.NoError(t, err)
	_, err = first.Login(ctx, "sam", "pw")
	require.NoError(t, err)
	first.Close()

	again := f.open(t, "lane-1")
	assert.Equal(t, PrimaryAuthenticated, again.State())
	assert.Equal(t, "Sam Carter", again.Auth.CurrentUser().FullName)

	other := f.open(t, "lane-2")
	assert.Equal(t, LoggedOut, other.State(), "storage is scoped per terminal")
}

func TestCheckoutQueuesWhenBackendUnreachable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	term := f.open(t, "lane-1")
	_, err := term.Login(ctx, "sam", "pw")
	require.NoError(t, err)
	cart := f.cart(t, term)

	f.net.down.Store(true)
	out, err := term.Checkout(ctx, cash(cart.CartID, "20"))
	require.NoError(t, err)
	require.NotNil(t, out.Queued)
	assert.Nil(t, out.Order)
	assert.Equal(t, models.TransactionSale, out.Queued.Type)
	assert.Nil(t, term.POS.Current(), "the terminal is free for the next sale")
	assert.Equal(t, 1, term.Queue.Size())
	assert.False(t, term.Queue.IsOnline())
	assert.True(t, f.pub.has(events.CheckoutQueued))
	assert.Empty(t, titles(term, notify.KindError), "a queued sale is not reported as failed")
	assert.Equal(t, []string{"Sale queued"}, titles(term, notify.KindWarning))

	f.net.down.Store(false)
	assert.True(t, term.Queue.UpdateOnlineStatus(ctx, true))
	term.Queue.Wait()
	assert.Zero(t, term.Queue.Size())
	assert.Nil(t, f.srv.Cart(cart.CartID), "replayed checkout consumed the cart")
}

func TestCheckoutDoesNotQueueRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	term := f.open(t, "lane-1")
	_, err := term.Login(ctx, "sam", "pw")
	require.NoError(t, err)
	cart := f.cart(t, term)

	_, err = term.Checkout(ctx, cash(cart.CartID, "5"))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apiclient.StatusOf(err))
	assert.Zero(t, term.Queue.Size())
	assert.NotNil(t, term.POS.Current())

	out, err := term.Checkout(ctx, cash(cart.CartID, "20"))
	require.NoError(t, err)
	require.NotNil(t, out.Order)
	assert.Equal(t, models.OrderCompleted, out.Order.Status)
}

func TestOfflineModeDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.opts.OfflineMode = false
	term := f.open(t, "lane-1")
	_, err := term.Login(ctx, "sam", "pw")
	require.NoError(t, err)
	cart := f.cart(t, term)

	f.net.down.Store(true)
	_, err = term.Checkout(ctx, cash(cart.CartID, "20"))
	assert.ErrorIs(t, err, apiclient.ErrNetwork)
	assert.Zero(t, term.Queue.Size())
	assert.NotNil(t, term.POS.Current())
	assert.Contains(t, titles(term, notify.KindError), "Checkout failed")

	_, err = term.ProcessReturn(ctx, models.ReturnRequest{OriginalOrderID: 1, Items: []models.ReturnItem{{OrderItemID: 1, Quantity: 1}}})
	assert.ErrorIs(t, err, apiclient.ErrNetwork)
}

func TestReturnQueuesWhenBackendUnreachable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	term := f.open(t, "lane-1")

	f.net.down.Store(true)
	out, err := term.ProcessReturn(ctx, models.ReturnRequest{OriginalOrderID: 1, Items: []models.ReturnItem{{OrderItemID: 2, Quantity: 1}}})
	require.NoError(t, err)
	require.NotNil(t, out.Queued)
	assert.Equal(t, models.TransactionReturn, out.Queued.Type)
	assert.Empty(t, titles(term, notify.KindError))
	assert.Equal(t, []string{"Return queued"}, titles(term, notify.KindWarning))
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := NewManager(f.opts)

	def, err := m.Get(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTerminalID, def.ID)

	_, err = m.Get(ctx, "lane 1;drop")
	assert.ErrorIs(t, err, ErrInvalidTerminalID)

	a, err := m.Get(ctx, "lane-1")
	require.NoError(t, err)
	again, err := m.Get(ctx, "lane-1")
	require.NoError(t, err)
	assert.Same(t, a, again)

	m.SetOnline(ctx, true)
	assert.Zero(t, f.pub.count(events.TerminalConnectivity), "no change, no event")

	m.SetOnline(ctx, false)
	assert.False(t, m.Online())
	assert.False(t, a.Queue.IsOnline())
	assert.Equal(t, 2, f.pub.count(events.TerminalConnectivity))
	m.SetOnline(ctx, false)
	assert.Equal(t, 2, f.pub.count(events.TerminalConnectivity))

	late, err := m.Get(ctx, "lane-2")
	require.NoError(t, err)
	assert.False(t, late.Queue.IsOnline(), "terminals opened while offline start offline")

	ids := []string{}
	for _, term := range m.All() {
		ids = append(ids, term.ID)
	}
	assert.Equal(t, []string{"default", "lane-1", "lane-2"}, ids)

	m.SetOnline(ctx, true)
	assert.True(t, late.Queue.IsOnline())
	assert.Equal(t, 5, f.pub.count(events.TerminalConnectivity))

	m.Close()
	_, err = m.Get(ctx, "lane-1")
	assert.ErrorIs(t, err, ErrClosed)
}
