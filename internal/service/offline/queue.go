// Package offline keeps the terminal's durable queue of transactions made
// while the backend was unreachable and replays them once it is back.
//
// The queue is persisted wholesale under storage.KeySyncQueue after every
// change. A pass works on a snapshot taken when it starts, in insertion
// order; entries queued during a pass wait for the next one.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/pos_terminal/internal/events"
	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/notify"
	"github.com/Skotchmaster/pos_terminal/internal/storage"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

// DefaultMaxRetries is the attempt count after which an entry is dropped.
const DefaultMaxRetries = 3

var ErrUnknownType = errors.New("unknown transaction type")

type Replayer interface {
	Replay(ctx context.Context, tx models.QueuedTransaction) error
}

const (
	OutcomeSynced  = "synced"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

type Metrics interface {
	SetQueueSize(terminalID string, n int)
	ObserveSync(terminalID, outcome string)
}

// Result counts what one pass did. Skipped is set when the pass did not
// run because another was in progress or the queue was empty.
type Result struct {
	Synced  int  `json:"synced"`
	Failed  int  `json:"failed"`
	Dropped int  `json:"dropped"`
	Skipped bool `json:"skipped,omitempty"`
}

type Queue struct {
	Store      storage.Store
	Replayer   Replayer
	Notifier   notify.Notifier
	Events     events.Publisher
	Metrics    Metrics
	TerminalID string
	MaxRetries int

	OnSynced  func(tx models.QueuedTransaction)
	OnFailed  func(tx models.QueuedTransaction, err error)
	OnDropped func(tx models.QueuedTransaction, err error)

	mu       sync.Mutex
	items    []models.QueuedTransaction
	online   bool
	lastSync time.Time

	syncing atomic.Bool

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// New returns an empty queue that considers itself online. Call Load to
// pick up entries persisted by a previous run.
func New(store storage.Store, replayer Replayer) *Queue {
	base, cancel := context.WithCancel(context.Background())
	return &Queue{
		Store:      store,
		Replayer:   replayer,
		MaxRetries: DefaultMaxRetries,
		online:     true,
		base:       base,
		cancel:     cancel,
		now:        time.Now,
	}
}

func (q *Queue) maxRetries() int {
	if q.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return q.MaxRetries
}

func (q *Queue) notifier() notify.Notifier {
	if q.Notifier == nil {
		return notify.Discard{}
	}
	return q.Notifier
}

// Load replaces the in-memory queue with the persisted one. A value that
// no longer decodes is logged and treated as an empty queue.
func (q *Queue) Load(ctx context.Context) error {
	l := logging.FromContext(ctx).With("svc", "offline.load", "terminal_id", q.TerminalID)

	var items []models.QueuedTransaction
	err := storage.GetJSON(ctx, q.Store, storage.KeySyncQueue, &items)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		items = nil
	case err != nil:
		var syntax *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntax) && !errors.As(err, &typeErr) {
			l.Error("load_queue_error", "error", err)
			return err
		}
		l.Warn("load_queue_corrupt", "error", err)
		items = nil
	}

	q.mu.Lock()
	q.items = items
	n := len(items)
	q.mu.Unlock()

	q.observeSize(n)
	l.Info("sync queue loaded", "size", n)
	return nil
}

// persistLocked writes the whole queue. q.mu must be held.
func (q *Queue) persistLocked(ctx context.Context) error {
	items := q.items
	if items == nil {
		items = []models.QueuedTransaction{}
	}
	if err := storage.SetJSON(ctx, q.Store, storage.KeySyncQueue, items); err != nil {
		return fmt.Errorf("save sync queue: %w", err)
	}
	return nil
}

func (q *Queue) observeSize(n int) {
	if q.Metrics != nil {
		q.Metrics.SetQueueSize(q.TerminalID, n)
	}
}

func newID(t models.TransactionType, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", t, now.UnixMilli(), uuid.NewString()[:8])
}

// QueueTransaction appends data as a new entry and persists the queue
// before returning. data may be a json.RawMessage or any value that
// marshals to JSON.
func (q *Queue) QueueTransaction(ctx context.Context, t models.TransactionType, data any) (models.QueuedTransaction, error) {
	l := logging.FromContext(ctx).With("svc", "offline.queue_transaction", "terminal_id", q.TerminalID, "type", t)

	if !t.Valid() {
		return models.QueuedTransaction{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	raw, ok := data.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return models.QueuedTransaction{}, fmt.Errorf("encode %s transaction: %w", t, err)
		}
	}

	now := q.now()
	tx := models.QueuedTransaction{
		ID:        newID(t, now),
		Type:      t,
		Data:      raw,
		Timestamp: now.UnixMilli(),
	}

	q.mu.Lock()
	q.items = append(q.items, tx)
	if err := q.persistLocked(ctx); err != nil {
		q.items = q.items[:len(q.items)-1]
		q.mu.Unlock()
		l.Error("queue_transaction_error", "error", err)
		return models.QueuedTransaction{}, err
	}
	n := len(q.items)
	q.mu.Unlock()

	q.observeSize(n)
	l.Info("transaction queued", "tx_id", tx.ID, "size", n)
	return tx, nil
}

// RemoveTransaction deletes the entry with id. It reports whether one was
// found.
func (q *Queue) RemoveTransaction(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return false, nil
	}
	prev := q.items
	q.items = append(q.items[:idx:idx], q.items[idx+1:]...)
	if err := q.persistLocked(ctx); err != nil {
		q.items = prev
		return false, err
	}
	q.observeSize(len(q.items))
	return true, nil
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

// recordFailure bumps the entry's retry count and drops it once the count
// reaches the ceiling. found is false when the entry was removed while it
// was being replayed. When the queue cannot be saved nothing changes.
func (q *Queue) recordFailure(ctx context.Context, id string) (tx models.QueuedTransaction, dropped, found bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return models.QueuedTransaction{}, false, false, nil
	}
	prev := slices.Clone(q.items)
	q.items[idx].RetryCount++
	tx = q.items[idx]
	if tx.RetryCount >= q.maxRetries() {
		q.items = append(q.items[:idx:idx], q.items[idx+1:]...)
		dropped = true
	}
	if err := q.persistLocked(ctx); err != nil {
		q.items = prev
		return prev[idx], false, true, err
	}
	q.observeSize(len(q.items))
	return tx, dropped, true, nil
}

// Sync replays a snapshot of the queue once. It is a no-op while another
// pass is running or when the queue is empty. Cancelling ctx stops the
// pass without counting the interrupted attempt.
func (q *Queue) Sync(ctx context.Context) (Result, error) {
	l := logging.FromContext(ctx).With("svc", "offline.sync", "terminal_id", q.TerminalID)

	if !q.syncing.CompareAndSwap(false, true) {
		l.Debug("sync already in progress")
		return Result{Skipped: true}, nil
	}
	defer q.syncing.Store(false)

	snapshot := q.Pending()
	if len(snapshot) == 0 {
		return Result{Skipped: true}, nil
	}
	if q.Replayer == nil {
		return Result{}, errors.New("offline queue has no replayer")
	}

	l.Info("sync started", "size", len(snapshot))
	var (
		res  Result
		errs []error
	)
	for _, tx := range snapshot {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		txl := l.With("tx_id", tx.ID, "type", tx.Type)

		rerr := q.Replayer.Replay(ctx, tx)
		if rerr == nil {
			if _, err := q.RemoveTransaction(ctx, tx.ID); err != nil {
				txl.Error("save_queue_error", "error", err)
				errs = append(errs, err)
			}
			res.Synced++
			q.synced(ctx, txl, tx)
			continue
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		updated, dropped, found, err := q.recordFailure(ctx, tx.ID)
		if err != nil {
			// The attempt is not counted; the entry is retried next pass.
			txl.Error("save_queue_error", "error", err, "replay_error", rerr)
			errs = append(errs, err)
			continue
		}
		if !found {
			continue
		}
		if dropped {
			res.Dropped++
			q.dropped(ctx, txl, updated, rerr)
			continue
		}
		res.Failed++
		txl.Warn("sync_transaction_error", "retry_count", updated.RetryCount, "error", rerr)
		if q.Metrics != nil {
			q.Metrics.ObserveSync(q.TerminalID, OutcomeFailed)
		}
		if q.OnFailed != nil {
			q.OnFailed(updated, rerr)
		}
	}

	q.mu.Lock()
	q.lastSync = q.now()
	q.mu.Unlock()

	l.Info("sync finished", "synced", res.Synced, "failed", res.Failed, "dropped", res.Dropped)
	return res, errors.Join(errs...)
}

func (q *Queue) synced(ctx context.Context, l *slog.Logger, tx models.QueuedTransaction) {
	l.Info("transaction synced")
	if q.Metrics != nil {
		q.Metrics.ObserveSync(q.TerminalID, OutcomeSynced)
	}
	events.Emit(ctx, q.Events, events.New(events.TransactionSynced, q.TerminalID, map[string]any{
		"id":   tx.ID,
		"type": tx.Type,
	}))
	if q.OnSynced != nil {
		q.OnSynced(tx)
	}
}

// dropped is the only trace a discarded entry leaves: a log line, a
// notification and an event carrying the full payload.
func (q *Queue) dropped(ctx context.Context, l *slog.Logger, tx models.QueuedTransaction, cause error) {
	l.Error("sync_transaction_dropped", "retry_count", tx.RetryCount, "data", string(tx.Data), "error", cause)
	if q.Metrics != nil {
		q.Metrics.ObserveSync(q.TerminalID, OutcomeDropped)
	}
	q.notifier().Error("Transaction not synced",
		fmt.Sprintf("A queued %s could not be sent after %d attempts and was removed", tx.Type, tx.RetryCount))
	events.Emit(ctx, q.Events, events.New(events.TransactionDropped, q.TerminalID, map[string]any{
		"transaction": tx,
		"error":       cause.Error(),
	}))
	if q.OnDropped != nil {
		q.OnDropped(tx, cause)
	}
}

// UpdateOnlineStatus records connectivity. Going from offline to online
// starts one background pass; it reports whether it did.
func (q *Queue) UpdateOnlineStatus(ctx context.Context, online bool) bool {
	q.mu.Lock()
	wasOffline := !q.online
	q.online = online
	q.mu.Unlock()

	l := logging.FromContext(ctx).With("svc", "offline.online_status", "terminal_id", q.TerminalID)
	switch {
	case !online:
		if !wasOffline {
			l.Info("terminal offline", "size", q.Size())
		}
		return false
	case !wasOffline:
		return false
	}

	l.Info("terminal back online", "size", q.Size())
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		bg := logging.IntoContext(q.base, logging.FromContext(ctx))
		if _, err := q.Sync(bg); err != nil && !errors.Is(err, context.Canceled) {
			l.Error("background_sync_error", "error", err)
		}
	}()
	return true
}

func (q *Queue) IsOnline() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

func (q *Queue) IsSyncing() bool { return q.syncing.Load() }

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queue in replay order.
func (q *Queue) Pending() []models.QueuedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.QueuedTransaction(nil), q.items...)
}

// LastSync is the zero time until the first pass completes.
func (q *Queue) LastSync() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSync
}

// Wait blocks until background passes started so far have returned.
func (q *Queue) Wait() { q.wg.Wait() }

// Close cancels background passes and waits for them.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}
