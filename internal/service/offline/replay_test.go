package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/pos_terminal/internal/backendtest"
	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
)

func TestAPIReplayer(t *testing.T) {
	ctx := context.Background()
	srv := backendtest.New(t)
	srv.AddProduct(backendtest.Product{ID: 1, Name: "Tea", Price: decimal.NewFromInt(4)})
	api := apiclient.New(srv.URL, srv.Client())
	r := APIReplayer{API: api}

	var cart models.Cart
	require.NoError(t, api.Post(ctx, "test.create_cart", "/pos/cart", map[string]int64{"storeId": 1, "cashierId": 2}, &cart))
	pid := int64(1)
	require.NoError(t, api.Post(ctx, "test.add_item", "/pos/cart/"+cart.CartID+"/items", models.AddItemRequest{ProductID: &pid, Quantity: 2}, &cart))

	data, err := json.Marshal(models.CheckoutRequest{
		CartID:   cart.CartID,
		Payments: []models.CheckoutPayment{{PaymentType: models.PaymentCard, Amount: decimal.NewFromInt(8)}},
	})
	require.NoError(t, err)

	t.Run("sale checks out the stored cart", func(t *testing.T) {
		require.NoError(t, r.Replay(ctx, models.QueuedTransaction{ID: "sale_1", Type: models.TransactionSale, Data: data}))
		assert.Nil(t, srv.Cart(cart.CartID))
		assert.Equal(t, 1, srv.CountCalls(http.MethodPost, "/pos/cart/"+cart.CartID+"/checkout"))
	})

	t.Run("sale without cart", func(t *testing.T) {
		err := r.Replay(ctx, models.QueuedTransaction{ID: "sale_2", Type: models.TransactionSale, Data: json.RawMessage(`{}`)})
		assert.Error(t, err)
	})

	t.Run("return is posted as stored", func(t *testing.T) {
		err := r.Replay(ctx, models.QueuedTransaction{ID: "return_1", Type: models.TransactionReturn, Data: json.RawMessage(`{"originalOrderId":999,"items":[]}`)})
		assert.Equal(t, http.StatusNotFound, apiclient.StatusOf(err))
		assert.Equal(t, 1, srv.CountCalls(http.MethodPost, "/pos/returns"))
	})

	t.Run("inventory update", func(t *testing.T) {
		err := r.Replay(ctx, models.QueuedTransaction{ID: "inventory_update_1", Type: models.TransactionInventoryUpdate, Data: json.RawMessage(`{"productId":1,"quantity":3}`)})
		require.NoError(t, err)
		assert.Equal(t, 1, srv.CountCalls(http.MethodPost, "/inventory/transfer"))
	})

	t.Run("unknown type", func(t *testing.T) {
		err := r.Replay(ctx, models.QueuedTransaction{ID: "x_1", Type: "refund"})
		assert.ErrorIs(t, err, ErrUnknownType)
	})
}
