// Package events publishes what happened at a terminal (sales, holds,
// returns, associate changes, dropped offline transactions) for back-office
// consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

type Type string

const (
	CheckoutCompleted    Type = "checkout_completed"
	CheckoutQueued       Type = "checkout_queued"
	OrderHeld            Type = "order_held"
	OrderResumed         Type = "order_resumed"
	ReturnProcessed      Type = "return_processed"
	AssociateSignedIn    Type = "associate_signed_in"
	AssociateSignedOut   Type = "associate_signed_out"
	ShiftStarted         Type = "shift_started"
	ShiftEnded           Type = "shift_ended"
	TransactionSynced    Type = "sync_transaction_synced"
	TransactionDropped   Type = "sync_transaction_dropped"
	TerminalConnectivity Type = "terminal_connectivity"
)

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	TerminalID string    `json:"terminalId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

func New(t Type, terminalID string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		TerminalID: terminalID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes ev and logs instead of failing when the broker is down.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("publish_event_error", "type", string(ev.Type), "event_id", ev.ID, "error", err)
	}
}
