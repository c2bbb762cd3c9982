package offline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/pos_terminal/internal/events"
	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/notify"
	"github.com/Skotchmaster/pos_terminal/internal/storage"
	"github.com/Skotchmaster/pos_terminal/pkg/db"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	gdb, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })
	return storage.GormFactory{DB: gdb}.For("lane-1")
}

// flakyStore fails every Set while broken is true.
type flakyStore struct {
	storage.Store
	broken atomic.Bool
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if f.broken.Load() {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

type published struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *published) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *published) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type countingMetrics struct {
	mu       sync.Mutex
	size     int
	outcomes map[string]int
}

func (m *countingMetrics) SetQueueSize(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size = n
}

func (m *countingMetrics) ObserveSync(_, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

func sale(cartID string) models.CheckoutRequest {
	return models.CheckoutRequest{
		CartID:   cartID,
		Payments: []models.CheckoutPayment{{PaymentType: models.PaymentCash, Amount: models.NewMoney(10)}},
	}
}

func TestQueueTransactionPersists(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	q := New(store, nil)

	first, err := q.QueueTransaction(ctx, models.TransactionSale, sale("cart-1"))
	require.NoError(t, err)
	second, err := q.QueueTransaction(ctx, models.TransactionReturn, json.RawMessage(`{"originalOrderId":5}`))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.ID, "sale_"), first.ID)
	assert.True(t, strings.HasPrefix(second.ID, "return_"), second.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Zero(t, first.RetryCount)
	assert.Positive(t, first.Timestamp)
	assert.Equal(t, 2, q.Size())

	_, err = q.QueueTransaction(ctx, "refund", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, 2, q.Size())

	reloaded := New(store, nil)
	require.NoError(t, reloaded.Load(ctx))
	pending := reloaded.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.JSONEq(t, `{"originalOrderId":5}`, string(pending[1].Data))

	var req models.CheckoutRequest
	require.NoError(t, json.Unmarshal(pending[0].Data, &req))
	assert.Equal(t, "cart-1", req.CartID)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		q := New(newStore(t), nil)
		require.NoError(t, q.Load(ctx))
		assert.Zero(t, q.Size())
	})

	t.Run("corrupt value", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, storage.KeySyncQueue, []byte("{not json")))
		q := New(store, nil)
		require.NoError(t, q.Load(ctx))
		assert.Zero(t, q.Size())
	})
}

func TestRemoveTransaction(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	q := New(store, nil)

	tx, err := q.QueueTransaction(ctx, models.TransactionInventoryUpdate, map[string]int{"quantity": 3})
	require.NoError(t, err)

	found, err := q.RemoveTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = q.RemoveTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, found)

	raw, err := store.Get(ctx, storage.KeySyncQueue)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestSyncDropsPermanentFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	var failing string
	replayed := map[string]int{}
	var mu sync.Mutex
	q := New(store, ReplayFunc(func(_ context.Context, tx models.QueuedTransaction) error {
		mu.Lock()
		defer mu.Unlock()
		replayed[tx.ID]++
		if tx.ID == failing {
			return errors.New("backend rejected sale")
		}
		return nil
	}))
	center := notify.NewCenter(logging.Discard())
	pub := &published{}
	metrics := &countingMetrics{}
	q.Notifier, q.Events, q.Metrics, q.TerminalID = center, pub, metrics, "lane-1"

	var dropped []models.QueuedTransaction
	q.OnDropped = func(tx models.QueuedTransaction, err error) { dropped = append(dropped, tx) }

	const n = 5
	for i := 0; i < n; i++ {
		tx, err := q.QueueTransaction(ctx, models.TransactionSale, sale("cart"))
		require.NoError(t, err)
		if i == 2 {
			failing = tx.ID
		}
	}

	res, err := q.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: n - 1, Failed: 1}, res)
	require.Equal(t, 1, q.Size())
	assert.Equal(t, 1, q.Pending()[0].RetryCount)

	res, err = q.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, res)
	assert.Equal(t, 2, q.Pending()[0].RetryCount)

	res, err = q.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Dropped: 1}, res)
	assert.Zero(t, q.Size())

	assert.Equal(t, 3, replayed[failing])
	require.Len(t, dropped, 1)
	assert.Equal(t, failing, dropped[0].ID)
	assert.Equal(t, 3, dropped[0].RetryCount)

	assert.Equal(t, 1, pub.count(events.TransactionDropped))
	assert.Equal(t, n-1, pub.count(events.TransactionSynced))
	assert.Equal(t, map[string]int{OutcomeSynced: n - 1, OutcomeFailed: 2, OutcomeDropped: 1}, metrics.outcomes)
	assert.Zero(t, metrics.size)

	list := center.List()
	require.NotEmpty(t, list)
	assert.Equal(t, notify.KindError, list[len(list)-1].Kind)
	assert.False(t, q.LastSync().IsZero())

	reloaded := New(store, nil)
	require.NoError(t, reloaded.Load(ctx))
	assert.Zero(t, reloaded.Size())
}

func TestSyncFailureKeepsStateWhenQueueCannotBeSaved(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: newStore(t)}
	q := New(store, ReplayFunc(func(context.Context, models.QueuedTransaction) error {
		return errors.New("backend rejected sale")
	}))
	q.MaxRetries = 1
	pub := &published{}
	q.Events = pub

	tx, err := q.QueueTransaction(ctx, models.TransactionSale, sale("cart"))
	require.NoError(t, err)

	store.broken.Store(true)
	res, err := q.Sync(ctx)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, Result{}, res)
	require.Equal(t, 1, q.Size(), "entry is not dropped when the drop cannot be saved")
	assert.Equal(t, tx.ID, q.Pending()[0].ID)
	assert.Zero(t, q.Pending()[0].RetryCount)
	assert.Zero(t, pub.count(events.TransactionDropped))

	store.broken.Store(false)
	res, err = q.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Dropped: 1}, res)
	assert.Zero(t, q.Size())
	assert.Equal(t, 1, pub.count(events.TransactionDropped))
}

func TestSyncEmptyQueueIsSkipped(t *testing.T) {
	q := New(newStore(t), ReplayFunc(func(context.Context, models.QueuedTransaction) error {
		t.Fatal("nothing to replay")
		return nil
	}))
	res, err := q.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.True(t, q.LastSync().IsZero())
}

func TestReconnectTriggersOnePass(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	q := New(newStore(t), ReplayFunc(func(context.Context, models.QueuedTransaction) error {
		calls.Add(1)
		return nil
	}))
	t.Cleanup(q.Close)

	assert.False(t, q.UpdateOnlineStatus(ctx, false))
	assert.False(t, q.IsOnline())
	for i := 0; i < 3; i++ {
		_, err := q.QueueTransaction(ctx, models.TransactionSale, sale("cart"))
		require.NoError(t, err)
	}
	assert.Zero(t, calls.Load(), "nothing replays while offline")

	assert.True(t, q.UpdateOnlineStatus(ctx, true))
	q.Wait()
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, q.Size())
	assert.False(t, q.LastSync().IsZero())

	assert.False(t, q.UpdateOnlineStatus(ctx, true), "already online")
	q.Wait()
	assert.Equal(t, int32(3), calls.Load())
}

func TestSyncIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	q := New(newStore(t), ReplayFunc(func(context.Context, models.QueuedTransaction) error {
		calls.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	_, err := q.QueueTransaction(ctx, models.TransactionSale, sale("cart-1"))
	require.NoError(t, err)

	done := make(chan Result, 1)
	go func() {
		res, _ := q.Sync(ctx)
		done <- res
	}()
	<-started
	assert.True(t, q.IsSyncing())

	res, err := q.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	late, err := q.QueueTransaction(ctx, models.TransactionSale, sale("cart-2"))
	require.NoError(t, err)
	assert.Equal(t, 2, q.Size())

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Synced)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, q.IsSyncing())

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, late.ID, pending[0].ID, "entries queued mid-pass wait for the next pass")
}

func TestCancelledSyncKeepsRetryCount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := New(newStore(t), ReplayFunc(func(ctx context.Context, _ models.QueuedTransaction) error {
		cancel()
		return ctx.Err()
	}))

	_, err := q.QueueTransaction(context.Background(), models.TransactionSale, sale("cart"))
	require.NoError(t, err)

	_, err = q.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, q.Size())
	assert.Zero(t, q.Pending()[0].RetryCount)
}
