// Package pos orchestrates the cart lifecycle of one terminal against the
// backend. The backend owns cart totals: after every successful call the
// held cart is replaced wholesale with the server's copy.
package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Skotchmaster/pos_terminal/internal/events"
	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/money"
	"github.com/Skotchmaster/pos_terminal/internal/notify"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

var (
	ErrValidation   = errors.New("validation")
	ErrNoCart       = errors.New("no cart initialized")
	ErrCartMismatch = errors.New("cart is not the current cart")
)

// Backend is the part of *apiclient.Client the service needs.
type Backend interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

type Service struct {
	API        Backend
	Notifier   notify.Notifier
	Events     events.Publisher
	TerminalID string

	// Deferred reports whether a failed checkout or return will be queued
	// for later replay. Such failures are logged but not notified.
	Deferred func(error) bool

	mu   sync.RWMutex
	cart *models.Cart

	inflight   atomic.Int32
	processing atomic.Bool
}

func (s *Service) notifier() notify.Notifier {
	if s.Notifier == nil {
		return notify.Discard{}
	}
	return s.Notifier
}

func (s *Service) deferred(err error) bool {
	return s.Deferred != nil && s.Deferred(err)
}

func (s *Service) replace(c *models.Cart) {
	s.mu.Lock()
	s.cart = c
	s.mu.Unlock()
}

func (s *Service) begin() func() {
	s.inflight.Add(1)
	return func() { s.inflight.Add(-1) }
}

// fail logs, posts the error notification and hands err back.
func (s *Service) fail(l *slog.Logger, event, title string, err error, fallback string) error {
	status := apiclient.StatusOf(err)
	switch {
	case errors.Is(err, ErrValidation), status >= 400 && status < 500:
		l.Warn(event, "status", status, "error", err)
	default:
		l.Error(event, "status", status, "error", err)
	}
	msg := fallback
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNoCart) || errors.Is(err, ErrCartMismatch) {
		msg = err.Error()
	}
	s.notifier().Error(title, apiclient.MessageOf(err, msg))
	return err
}

func cartPath(cartID string, rest ...string) string {
	p := "/pos/cart/" + url.PathEscape(cartID)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

// mutate runs one cart call and, on success, makes its response current.
func (s *Service) mutate(ctx context.Context, req apiclient.Request) (*models.Cart, error) {
	defer s.begin()()
	var cart models.Cart
	if err := s.API.Do(ctx, req, &cart); err != nil {
		return nil, err
	}
	if cart.CartID == "" {
		return nil, fmt.Errorf("%s: response carries no cart", req.Op)
	}
	s.replace(&cart)
	return cart.Clone(), nil
}

func (s *Service) CreateCart(ctx context.Context, storeID, cashierID int64) (*models.Cart, error) {
	l := logging.FromContext(ctx).With("svc", "pos.create_cart", "store_id", storeID, "cashier_id", cashierID)

	if storeID <= 0 || cashierID <= 0 {
		err := fmt.Errorf("storeId and cashierId are required: %w", ErrValidation)
		return nil, s.fail(l, "create_cart_error", "Failed to create cart", err, "Unknown error")
	}

	cart, err := s.mutate(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/pos/cart",
		Body:   map[string]int64{"storeId": storeID, "cashierId": cashierID},
		Op:     "pos.create_cart",
	})
	if err != nil {
		fallback := "Unknown error"
		if apiclient.StatusOf(err) == http.StatusNotFound {
			fallback = "POS endpoint not found. Please ensure the backend is running."
			err = &apiclient.APIError{Status: http.StatusNotFound, Message: fallback}
		}
		return nil, s.fail(l, "create_cart_error", "Failed to create cart", err, fallback)
	}

	l.Info("cart created", "cart_id", cart.CartID)
	return cart, nil
}

func (s *Service) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	l := logging.FromContext(ctx).With("svc", "pos.get_cart", "cart_id", cartID)

	cart, err := s.mutate(ctx, apiclient.Request{Method: http.MethodGet, Path: cartPath(cartID), Op: "pos.get_cart"})
	if err != nil {
		return nil, s.fail(l, "get_cart_error", "Failed to load cart", err, "Unknown error")
	}
	return cart, nil
}

func (s *Service) AddItem(ctx context.Context, cartID string, item models.AddItemRequest) (*models.Cart, error) {
	l := logging.FromContext(ctx).With("svc", "pos.add_item", "cart_id", cartID)

	item.Barcode = strings.TrimSpace(item.Barcode)
	hasProduct := item.ProductID != nil && *item.ProductID > 0
	hasBarcode := item.Barcode != ""
	switch {
	case cartID == "":
		return nil, s.fail(l, "add_item_error", "Failed to add item", fmt.Errorf("cartId is required: %w", ErrValidation), "")
	case hasProduct == hasBarcode:
		return nil, s.fail(l, "add_item_error", "Failed to add item", fmt.Errorf("exactly one of productId or barcode is required: %w", ErrValidation), "")
	case item.Quantity <= 0:
		return nil, s.fail(l, "add_item_error", "Failed to add item", fmt.Errorf("quantity must be more than zero: %w", ErrValidation), "")
	}

	cart, err := s.mutate(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   cartPath(cartID, "items"),
		Body:   item,
		Op:     "pos.add_item",
	})
	if err != nil {
		return nil, s.fail(l, "add_item_error", "Failed to add item", err, "Unknown error")
	}

	l.Info("item added to cart", "items", len(cart.Items))
	s.notifier().Success("Item added", "Product added to cart")
	return cart, nil
}

// AddCustomItem appends an ad-hoc line computed on the terminal. No backend
// call is made; the line is marked provisional and the next server response
// replaces it.
func (s *Service) AddCustomItem(ctx context.Context, cartID string, item models.CustomItem) (*models.Cart, error) {
	l := logging.FromContext(ctx).With("svc", "pos.add_custom_item", "cart_id", cartID)

	item.Description = strings.TrimSpace(item.Description)
	switch {
	case item.Description == "":
		return nil, s.fail(l, "add_custom_item_error", "Failed to add item", fmt.Errorf("description is required: %w", ErrValidation), "")
	case item.Quantity <= 0:
		return nil, s.fail(l, "add_custom_item_error", "Failed to add item", fmt.Errorf("quantity must be more than zero: %w", ErrValidation), "")
	case item.UnitPrice.IsNegative():
		return nil, s.fail(l, "add_custom_item_error", "Failed to add item", fmt.Errorf("unitPrice must not be negative: %w", ErrValidation), "")
	}

	s.mu.Lock()
	if s.cart == nil {
		s.mu.Unlock()
		return nil, s.fail(l, "add_custom_item_error", "Failed to add item", ErrNoCart, "")
	}
	if cartID != "" && cartID != s.cart.CartID {
		s.mu.Unlock()
		return nil, s.fail(l, "add_custom_item_error", "Failed to add item", ErrCartMismatch, "")
	}

	rate, tax := money.LineTax(item.UnitPrice, item.Quantity, item.TaxExempt)
	line := models.CartItem{
		ItemID:      "custom-" + uuid.NewString(),
		ProductCode: "CUSTOM",
		ProductName: item.Description,
		Quantity:    item.Quantity,
		UnitPrice:   item.UnitPrice,
		TaxRate:     rate,
		TaxAmount:   tax,
		TaxExempt:   item.TaxExempt,
		Origin:      models.OriginClient,
	}
	line.Total = line.Subtotal().Add(tax)

	next := s.cart.Clone()
	next.Items = append(next.Items, line)
	next.Recalculate()
	s.cart = next
	out := next.Clone()
	s.mu.Unlock()

	l.Info("custom item added", "item_id", line.ItemID, "tax_exempt", item.TaxExempt)
	return out, nil
}

func (s *Service) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (*models.Cart, error) {
	l := logging.FromContext(ctx).With("svc", "pos.update_item", "cart_id", cartID, "item_id", itemID)

	if cartID == "" || itemID == "" {
		return nil, s.fail(l, "update_item_error", "Failed to update item", fmt.Errorf("cartId and itemId are required: %w", ErrValidation), "")
	}
	if quantity <= 0 {
		return nil, s.fail(l, "update_item_error", "Failed to update item", fmt.Errorf("quantity must be more than zero: %w", ErrValidation), "")
	}

	cart, err := s.mutate(ctx, apiclient.Request{
		Method: http.MethodPut,
		Path:   cartPath(cartID, "items", itemID),
		Body:   map[string]int{"quantity": quantity},
		Op:     "pos.update_item",
	})
	if err != nil {
		return nil, s.fail(l, "update_item_error", "Failed to update item", err, "Unknown error")
	}
	return cart, nil
}

func (s *Service) RemoveItem(ctx context.Context, cartID, itemID string) (*models.Cart, error) {
	l := logging.FromContext(ctx).With("svc", "pos.remove_item", "cart_id", cartID, "item_id", itemID)

	if cartID == "" || itemID == "" {
		return nil, s.fail(l, "remove_item_error", "Failed to remove item", fmt.Errorf("cartId and itemId are required: %w", ErrValidation), "")
	}

	cart, err := s.mutate(ctx, apiclient.Request{
		Method: http.MethodDelete,
		Path:   cartPath(cartID, "items", itemID),
		Op:     "pos.remove_item",
	})
	if err != nil {
		return nil, s.fail(l, "remove_item_error", "Failed to remove item", err, "Unknown error")
	}

	s.notifier().Info("Item removed", "Product removed from cart")
	return cart, nil
}

// ApplyDiscount replaces any discount already on the cart. Eligibility is
// decided by the backend; a rejection is not retryable.
func (s *Service) ApplyDiscount(ctx context.Context, cartID, code string) (*models.Cart, error) {
	l := logging.FromContext(ctx).With("svc", "pos.apply_discount", "cart_id", cartID)

	code = strings.TrimSpace(code)
	if cartID == "" || code == "" {
		return nil, s.fail(l, "apply_discount_error", "Failed to apply discount", fmt.Errorf("cartId and code are required: %w", ErrValidation), "")
	}

	cart, err := s.mutate(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   cartPath(cartID, "discount"),
		Query:  url.Values{"code": []string{code}},
		Op:     "pos.apply_discount",
	})
	if err != nil {
		return nil, s.fail(l, "apply_discount_error", "Failed to apply discount", err, "Invalid discount code")
	}

	l.Info("discount applied", "code", code, "discount_amount", cart.DiscountAmount.String())
	s.notifier().Success("Discount applied", fmt.Sprintf("Discount code %s applied", code))
	return cart, nil
}

func (s *Service) RemoveDiscount(ctx context.Context, cartID string) (*models.Cart, error) {
	l := logging.FromContext(ctx).With("svc", "pos.remove_discount", "cart_id", cartID)

	if cartID == "" {
		return nil, s.fail(l, "remove_discount_error", "Failed to remove discount", fmt.Errorf("cartId is required: %w", ErrValidation), "")
	}

	cart, err := s.mutate(ctx, apiclient.Request{
		Method: http.MethodDelete,
		Path:   cartPath(cartID, "discount"),
		Op:     "pos.remove_discount",
	})
	if err != nil {
		return nil, s.fail(l, "remove_discount_error", "Failed to remove discount", err, "Unknown error")
	}

	s.notifier().Info("Discount removed", "Discount removed from cart")
	return cart, nil
}

// ClearCart deletes the cart on the backend and drops the local copy.
func (s *Service) ClearCart(ctx context.Context, cartID string) error {
	l := logging.FromContext(ctx).With("svc", "pos.clear_cart", "cart_id", cartID)
	defer s.begin()()

	if cartID == "" {
		return s.fail(l, "clear_cart_error", "Failed to clear cart", fmt.Errorf("cartId is required: %w", ErrValidation), "")
	}

	err := s.API.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: cartPath(cartID), Op: "pos.clear_cart"}, nil)
	if err != nil {
		return s.fail(l, "clear_cart_error", "Failed to clear cart", err, "Unknown error")
	}

	s.replace(nil)
	s.notifier().Info("Cart cleared", "All items removed from cart")
	return nil
}

func validateCheckout(req models.CheckoutRequest) error {
	if req.CartID == "" {
		return fmt.Errorf("cartId is required: %w", ErrValidation)
	}
	if len(req.Payments) == 0 {
		return fmt.Errorf("at least one payment is required: %w", ErrValidation)
	}
	for i, p := range req.Payments {
		if !p.PaymentType.Valid() {
			return fmt.Errorf("payment %d: unknown payment type %q: %w", i, p.PaymentType, ErrValidation)
		}
		if !p.Amount.IsPositive() {
			return fmt.Errorf("payment %d: amount must be more than zero: %w", i, ErrValidation)
		}
	}
	return nil
}

// Checkout completes the sale. The local cart is dropped only when the
// backend accepts the payments.
func (s *Service) Checkout(ctx context.Context, req models.CheckoutRequest) (*models.SalesOrder, error) {
	l := logging.FromContext(ctx).With("svc", "pos.checkout", "cart_id", req.CartID)

	if err := validateCheckout(req); err != nil {
		return nil, s.fail(l, "checkout_error", "Checkout failed", err, "")
	}

	s.processing.Store(true)
	defer s.processing.Store(false)

	if cur := s.Current(); cur != nil && cur.CartID == req.CartID && cur.Provisional() {
		l.Warn("checkout_with_provisional_lines", "cart_total", cur.Total.String())
	}

	var order models.SalesOrder
	err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   cartPath(req.CartID, "checkout"),
		Body:   req,
		Op:     "pos.checkout",
	}, &order)
	if err != nil {
		if s.deferred(err) {
			l.Warn("checkout_deferred", "error", err)
			return nil, err
		}
		return nil, s.fail(l, "checkout_error", "Checkout failed", err, "Transaction failed")
	}

	s.replace(nil)
	l.Info("checkout completed", "order_id", order.ID, "order_no", order.OrderNo, "total", order.Total.String())
	s.notifier().Success("Checkout successful", "Order completed successfully")
	events.Emit(ctx, s.Events, events.New(events.CheckoutCompleted, s.TerminalID, map[string]any{
		"cartId":  req.CartID,
		"orderId": order.ID,
		"orderNo": order.OrderNo,
		"total":   order.Total,
	}))
	return &order, nil
}

// HoldOrder parks the cart on the backend and frees the terminal.
func (s *Service) HoldOrder(ctx context.Context, cartID string, req models.HoldRequest) (*models.SalesOrder, error) {
	l := logging.FromContext(ctx).With("svc", "pos.hold_order", "cart_id", cartID)
	defer s.begin()()

	if cartID == "" {
		return nil, s.fail(l, "hold_order_error", "Failed to suspend order", fmt.Errorf("cartId is required: %w", ErrValidation), "")
	}

	var order models.SalesOrder
	err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   cartPath(cartID, "hold"),
		Body:   req,
		Op:     "pos.hold_order",
	}, &order)
	if err != nil {
		return nil, s.fail(l, "hold_order_error", "Failed to suspend order", err, "Unknown error")
	}

	s.replace(nil)
	l.Info("order held", "order_id", order.ID)
	s.notifier().Success("Order Suspended", "Order has been parked successfully")
	events.Emit(ctx, s.Events, events.New(events.OrderHeld, s.TerminalID, map[string]any{
		"cartId":  cartID,
		"orderId": order.ID,
	}))
	return &order, nil
}

// GetHeldOrders returns an empty list when the backend answers with
// success=false.
func (s *Service) GetHeldOrders(ctx context.Context, storeID int64) ([]models.SalesOrder, error) {
	l := logging.FromContext(ctx).With("svc", "pos.get_held_orders", "store_id", storeID)
	defer s.begin()()

	var orders []models.SalesOrder
	err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/pos/orders/held",
		Query:  url.Values{"storeId": []string{strconv.FormatInt(storeID, 10)}},
		Op:     "pos.get_held_orders",
	}, &orders)
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 300 {
			l.Info("held orders unavailable", "message", apiErr.Message)
			return []models.SalesOrder{}, nil
		}
		return nil, s.fail(l, "get_held_orders_error", "Failed to fetch held orders", err, "Unknown error")
	}
	if orders == nil {
		orders = []models.SalesOrder{}
	}
	return orders, nil
}

// ResumeError reports a resume that stopped after the new cart was created.
// The cart exists on the backend with Added of Total lines in it.
type ResumeError struct {
	OrderID int64
	CartID  string
	Added   int
	Total   int
	Err     error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("resume order %d: added %d of %d items to cart %s: %v", e.OrderID, e.Added, e.Total, e.CartID, e.Err)
}

func (e *ResumeError) Unwrap() error { return e.Err }

// ResumeOrder rebuilds a held order into a fresh cart: create the cart,
// add every line, then re-fetch. The steps are not atomic; a failure after
// the cart exists returns *ResumeError and leaves the partial cart current.
func (s *Service) ResumeOrder(ctx context.Context, orderID int64) (*models.Cart, error) {
	l := logging.FromContext(ctx).With("svc", "pos.resume_order", "order_id", orderID)
	const title = "Failed to resume order"

	if orderID <= 0 {
		return nil, s.fail(l, "resume_order_error", title, fmt.Errorf("orderId is required: %w", ErrValidation), "")
	}

	done := s.begin()
	defer done()

	var order models.SalesOrder
	err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/pos/orders/" + strconv.FormatInt(orderID, 10) + "/resume",
		Op:     "pos.resume_order",
	}, &order)
	if err != nil {
		return nil, s.fail(l, "resume_order_error", title, err, "Unknown error")
	}

	cart, err := s.mutate(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/pos/cart",
		Body:   map[string]int64{"storeId": order.Store.ID, "cashierId": order.Cashier.ID},
		Op:     "pos.create_cart",
	})
	if err != nil {
		return nil, s.fail(l, "resume_order_error", title, err, "Failed to create cart for resumed order")
	}
	l = l.With("cart_id", cart.CartID)

	for i, it := range order.Items {
		productID := it.Product.ID
		cart, err = s.mutate(ctx, apiclient.Request{
			Method: http.MethodPost,
			Path:   cartPath(cart.CartID, "items"),
			Body:   models.AddItemRequest{ProductID: &productID, Quantity: it.Quantity},
			Op:     "pos.add_item",
		})
		if err != nil {
			rerr := &ResumeError{OrderID: orderID, CartID: s.currentID(), Added: i, Total: len(order.Items), Err: err}
			return s.Current(), s.fail(l, "resume_order_partial", title, rerr, rerr.Error())
		}
	}

	final, err := s.mutate(ctx, apiclient.Request{Method: http.MethodGet, Path: cartPath(cart.CartID), Op: "pos.get_cart"})
	if err != nil {
		rerr := &ResumeError{OrderID: orderID, CartID: cart.CartID, Added: len(order.Items), Total: len(order.Items), Err: err}
		return s.Current(), s.fail(l, "resume_order_partial", title, rerr, "Failed to retrieve cart after resuming order")
	}

	l.Info("order resumed", "items", len(order.Items))
	s.notifier().Success("Order Resumed", "Order retrieved successfully")
	events.Emit(ctx, s.Events, events.New(events.OrderResumed, s.TerminalID, map[string]any{
		"orderId": orderID,
		"cartId":  final.CartID,
	}))
	return final, nil
}

func validateReturn(req models.ReturnRequest) error {
	if req.OriginalOrderID <= 0 {
		return fmt.Errorf("originalOrderId is required: %w", ErrValidation)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("at least one item is required: %w", ErrValidation)
	}
	for i, it := range req.Items {
		if it.OrderItemID <= 0 || it.Quantity <= 0 {
			return fmt.Errorf("item %d: orderItemId and a positive quantity are required: %w", i, ErrValidation)
		}
	}
	return nil
}

// ProcessReturn does not touch the current cart.
func (s *Service) ProcessReturn(ctx context.Context, req models.ReturnRequest) (*models.SalesOrder, error) {
	l := logging.FromContext(ctx).With("svc", "pos.process_return", "original_order_id", req.OriginalOrderID)
	defer s.begin()()

	if err := validateReturn(req); err != nil {
		return nil, s.fail(l, "process_return_error", "Failed to process return", err, "")
	}

	var order models.SalesOrder
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/pos/returns",
		Body:   req,
		Op:     "pos.process_return",
	}, &order); err != nil {
		if s.deferred(err) {
			l.Warn("process_return_deferred", "error", err)
			return nil, err
		}
		return nil, s.fail(l, "process_return_error", "Failed to process return", err, "Unknown error")
	}

	l.Info("return processed", "order_id", order.ID)
	s.notifier().Success("Return Processed", "Return has been processed successfully")
	events.Emit(ctx, s.Events, events.New(events.ReturnProcessed, s.TerminalID, map[string]any{
		"originalOrderId": req.OriginalOrderID,
		"orderId":         order.ID,
		"items":           len(req.Items),
	}))
	return &order, nil
}

func (s *Service) SearchOrder(ctx context.Context, query string) (*models.SalesOrder, error) {
	l := logging.FromContext(ctx).With("svc", "pos.search_order")
	defer s.begin()()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, s.fail(l, "search_order_error", "Order not found", fmt.Errorf("query is required: %w", ErrValidation), "")
	}

	var order models.SalesOrder
	if err := s.API.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/pos/orders/search",
		Query:  url.Values{"query": []string{query}},
		Op:     "pos.search_order",
	}, &order); err != nil {
		return nil, s.fail(l, "search_order_error", "Order not found", err, "Order not found")
	}
	return &order, nil
}

// Current returns a copy of the held cart, or nil.
func (s *Service) Current() *models.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

func (s *Service) currentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cart == nil {
		return ""
	}
	return s.cart.CartID
}

// DropLocal forgets the held cart without calling the backend.
func (s *Service) DropLocal() {
	s.replace(nil)
}

func (s *Service) Total() models.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cart == nil {
		return models.Money{}
	}
	return s.cart.Total
}

func (s *Service) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cart == nil {
		return 0
	}
	return s.cart.ItemCount()
}

func (s *Service) HasItems() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart != nil && len(s.cart.Items) > 0
}

func (s *Service) Loading() bool           { return s.inflight.Load() > 0 }
func (s *Service) ProcessingPayment() bool { return s.processing.Load() }
