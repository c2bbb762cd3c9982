package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
)

type Backend interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// APIReplayer sends queued transactions to the endpoints that would have
// served them online.
type APIReplayer struct {
	API Backend
}

func (r APIReplayer) Replay(ctx context.Context, tx models.QueuedTransaction) error {
	switch tx.Type {
	case models.TransactionSale:
		var req models.CheckoutRequest
		if err := json.Unmarshal(tx.Data, &req); err != nil {
			return fmt.Errorf("decode sale %s: %w", tx.ID, err)
		}
		if req.CartID == "" {
			return fmt.Errorf("sale %s has no cartId", tx.ID)
		}
		return r.API.Do(ctx, apiclient.Request{
			Method: http.MethodPost,
			Path:   "/pos/cart/" + url.PathEscape(req.CartID) + "/checkout",
			Body:   req,
			Op:     "sync.sale",
		}, nil)
	case models.TransactionReturn:
		return r.API.Do(ctx, apiclient.Request{
			Method: http.MethodPost,
			Path:   "/pos/returns",
			Body:   tx.Data,
			Op:     "sync.return",
		}, nil)
	case models.TransactionInventoryUpdate:
		return r.API.Do(ctx, apiclient.Request{
			Method: http.MethodPost,
			Path:   "/inventory/transfer",
			Body:   tx.Data,
			Op:     "sync.inventory_update",
		}, nil)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, tx.Type)
	}
}

// ReplayFunc adapts a function to Replayer.
type ReplayFunc func(ctx context.Context, tx models.QueuedTransaction) error

func (f ReplayFunc) Replay(ctx context.Context, tx models.QueuedTransaction) error { return f(ctx, tx) }
