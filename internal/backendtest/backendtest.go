// Package backendtest runs an in-memory POS backend over httptest for
// package tests. It implements the auth, cart, order, shift and associate
// endpoints the terminal calls, wrapping every answer in the
// {success, data, message} envelope.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/pos_terminal/internal/models"
	"github.com/Skotchmaster/pos_terminal/internal/money"
)

type Product struct {
	ID      int64
	Name    string
	SKU     string
	Barcode string
	Price   decimal.Decimal
	// TaxRate is a percentage.
	TaxRate decimal.Decimal
}

type Associate struct {
	ID       int64
	Number   string
	Name     string
	Passcode string
	StoreID  int64
	ShiftID  *int64
}

type failure struct {
	method  string
	prefix  string
	status  int
	message string
	times   int
}

type Server struct {
	*httptest.Server

	mu         sync.Mutex
	nextID     int64
	products   map[int64]Product
	discounts  map[string]models.Discount
	carts      map[string]*models.Cart
	orders     map[int64]*models.SalesOrder
	shifts     map[int64]*models.Shift
	swaps      map[int64]*models.ShiftSwap
	logins     []models.SalesPersonLogin
	associates map[string]Associate
	users      map[string]string
	failures   []*failure
	calls      []string
	days       []string
}

func New(t testing.TB) *Server {
	s := &Server{
		nextID:     100,
		products:   map[int64]Product{},
		discounts:  map[string]models.Discount{},
		carts:      map[string]*models.Cart{},
		orders:     map[int64]*models.SalesOrder{},
		shifts:     map[int64]*models.Shift{},
		swaps:      map[int64]*models.ShiftSwap{},
		associates: map[string]Associate{},
		users:      map[string]string{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) AddProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Server) AddDiscount(d models.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discounts[d.Code] = d
}

func (s *Server) AddAssociate(a Associate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.associates[a.Number] = a
}

// Fail makes the next times requests whose path starts with prefix answer
// with status and message. times < 0 fails forever.
func (s *Server) Fail(method, prefix string, status int, message string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, prefix: prefix, status: status, message: message, times: times})
}

// Calls lists "METHOD /path" for every request received.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) CountCalls(method, prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, method+" "+prefix) {
			n++
		}
	}
	return n
}

func (s *Server) Cart(id string) *models.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[id].Clone()
}

func (s *Server) Shift(id int64) *models.Shift {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.shifts[id]; ok {
		c := *sh
		return &c
	}
	return nil
}

func (s *Server) Logins() []models.SalesPersonLogin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SalesPersonLogin(nil), s.logins...)
}

// HoldSeed stores a held order directly, as if another terminal parked it.
func (s *Server) HoldSeed(o models.SalesOrder) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.id()
	}
	o.Status = models.OrderHeld
	s.orders[o.ID] = &o
	return o.ID
}

func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

func ok(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func reject(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}

func queryInt(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return n
}

func pathInt(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.PathValue(key), 10, 64)
	return n
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+r.URL.Path)
		for _, f := range s.failures {
			if f.times != 0 && f.method == r.Method && strings.HasPrefix(r.URL.Path, f.prefix) {
				if f.times > 0 {
					f.times--
				}
				s.mu.Unlock()
				reject(w, f.status, f.message)
				return
			}
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) { ok(w, "ok") })

	mux.HandleFunc("POST /pos/cart", s.createCart)
	mux.HandleFunc("GET /pos/cart/{id}", s.withCart(func(w http.ResponseWriter, r *http.Request, c *models.Cart) {
		ok(w, c)
	}))
	mux.HandleFunc("DELETE /pos/cart/{id}", s.withCart(func(w http.ResponseWriter, r *http.Request, c *models.Cart) {
		delete(s.carts, c.CartID)
		ok(w, nil)
	}))
	mux.HandleFunc("POST /pos/cart/{id}/items", s.withCart(s.addItem))
	mux.HandleFunc("PUT /pos/cart/{id}/items/{itemId}", s.withCart(s.updateItem))
	mux.HandleFunc("DELETE /pos/cart/{id}/items/{itemId}", s.withCart(s.removeItem))
	mux.HandleFunc("POST /pos/cart/{id}/discount", s.withCart(s.applyDiscount))
	mux.HandleFunc("DELETE /pos/cart/{id}/discount", s.withCart(func(w http.ResponseWriter, r *http.Request, c *models.Cart) {
		c.Discount = nil
		recalc(c)
		ok(w, c)
	}))
	mux.HandleFunc("POST /pos/cart/{id}/checkout", s.withCart(s.checkout))
	mux.HandleFunc("POST /pos/cart/{id}/hold", s.withCart(s.hold))
	mux.HandleFunc("GET /pos/orders/held", s.heldOrders)
	mux.HandleFunc("POST /pos/orders/{id}/resume", s.resume)
	mux.HandleFunc("GET /pos/orders/search", s.searchOrder)
	mux.HandleFunc("POST /pos/returns", s.processReturn)
	mux.HandleFunc("POST /inventory/transfer", func(w http.ResponseWriter, r *http.Request) { ok(w, nil) })

	s.shiftRoutes(mux)
	s.authRoutes(mux)
	return s.middleware(mux)
}

func (s *Server) createCart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StoreID   int64 `json:"storeId"`
		CashierID int64 `json:"cashierId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StoreID <= 0 || body.CashierID <= 0 {
		reject(w, http.StatusBadRequest, "Invalid store or cashier")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Cart{
		CartID:    fmt.Sprintf("cart-%d", s.id()),
		StoreID:   body.StoreID,
		CashierID: body.CashierID,
		Items:     []models.CartItem{},
		CreatedAt: "2024-05-01T09:00:00Z",
	}
	s.carts[c.CartID] = c
	ok(w, c)
}

func (s *Server) withCart(h func(http.ResponseWriter, *http.Request, *models.Cart)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		c, found := s.carts[r.PathValue("id")]
		if !found {
			reject(w, http.StatusNotFound, "Cart not found")
			return
		}
		h(w, r, c)
	}
}

// recalc keeps total == subtotal + tax - discountAmount.
func recalc(c *models.Cart) {
	sub, tax := decimal.Zero, decimal.Zero
	for i := range c.Items {
		it := &c.Items[i]
		line := it.Subtotal()
		it.TaxAmount = money.CalculateTax(line, it.TaxRate)
		it.Total = line.Add(it.TaxAmount)
		sub = sub.Add(line)
		tax = tax.Add(it.TaxAmount)
	}
	c.Subtotal, c.TaxAmount = sub, tax
	c.DiscountAmount = decimal.Zero
	if c.Discount != nil {
		c.DiscountAmount = money.CalculateDiscount(sub, c.Discount.Type, c.Discount.Value)
	}
	c.Total = sub.Add(tax).Sub(c.DiscountAmount)
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request, c *models.Cart) {
	var req models.AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		reject(w, http.StatusBadRequest, "Invalid item")
		return
	}
	var p Product
	found := false
	for _, cand := range s.products {
		if (req.ProductID != nil && cand.ID == *req.ProductID) || (req.Barcode != "" && cand.Barcode == req.Barcode) {
			p, found = cand, true
			break
		}
	}
	if !found {
		reject(w, http.StatusNotFound, "Product not found")
		return
	}

	for i := range c.Items {
		if c.Items[i].ProductID != nil && *c.Items[i].ProductID == p.ID {
			c.Items[i].Quantity += req.Quantity
			recalc(c)
			ok(w, c)
			return
		}
	}
	pid, barcode := p.ID, p.Barcode
	c.Items = append(c.Items, models.CartItem{
		ItemID:      fmt.Sprintf("item-%d", s.id()),
		ProductID:   &pid,
		ProductName: p.Name,
		SKU:         p.SKU,
		Barcode:     &barcode,
		Quantity:    req.Quantity,
		UnitPrice:   p.Price,
		TaxRate:     p.TaxRate,
		Origin:      models.OriginServer,
	})
	recalc(c)
	ok(w, c)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request, c *models.Cart) {
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Quantity <= 0 {
		reject(w, http.StatusBadRequest, "Quantity must be positive")
		return
	}
	for i := range c.Items {
		if c.Items[i].ItemID == r.PathValue("itemId") {
			c.Items[i].Quantity = body.Quantity
			recalc(c)
			ok(w, c)
			return
		}
	}
	reject(w, http.StatusNotFound, "Item not found")
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request, c *models.Cart) {
	for i := range c.Items {
		if c.Items[i].ItemID == r.PathValue("itemId") {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			recalc(c)
			ok(w, c)
			return
		}
	}
	reject(w, http.StatusNotFound, "Item not found")
}

func (s *Server) applyDiscount(w http.ResponseWriter, r *http.Request, c *models.Cart) {
	d, found := s.discounts[r.URL.Query().Get("code")]
	if !found || !d.IsActive {
		reject(w, http.StatusBadRequest, "Invalid discount code")
		return
	}
	if d.MinPurchaseAmount != nil && c.Subtotal.LessThan(*d.MinPurchaseAmount) {
		reject(w, http.StatusBadRequest, "Minimum purchase not met")
		return
	}
	c.Discount = &d
	recalc(c)
	ok(w, c)
}

func (s *Server) orderFromCart(c *models.Cart, status models.OrderStatus) *models.SalesOrder {
	o := &models.SalesOrder{
		ID:             s.id(),
		Store:          models.StoreRef{ID: c.StoreID, Name: "Main"},
		Cashier:        models.PersonRef{ID: c.CashierID},
		OrderDate:      "2024-05-01T09:30:00Z",
		Subtotal:       c.Subtotal,
		TaxAmount:      c.TaxAmount,
		DiscountAmount: c.DiscountAmount,
		Total:          c.Total,
		Status:         status,
		PaymentStatus:  models.PaymentPending,
	}
	o.OrderNo = fmt.Sprintf("ORD-%d", o.ID)
	for _, it := range c.Items {
		var pid int64
		if it.ProductID != nil {
			pid = *it.ProductID
		}
		o.Items = append(o.Items, models.SalesOrderItem{
			ID:        s.id(),
			Product:   models.OrderProduct{ID: pid, Name: it.ProductName, SKU: it.SKU, Price: it.UnitPrice},
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			TaxRate:   it.TaxRate,
			TaxAmount: it.TaxAmount,
			Total:     it.Total,
		})
	}
	s.orders[o.ID] = o
	return o
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request, c *models.Cart) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, http.StatusBadRequest, "Invalid checkout request")
		return
	}
	if !req.PaymentTotal().Equal(c.Total) {
		reject(w, http.StatusBadRequest, fmt.Sprintf("Payment total %s does not match cart total %s", req.PaymentTotal(), c.Total))
		return
	}
	o := s.orderFromCart(c, models.OrderCompleted)
	o.PaymentStatus = models.PaymentCompleted
	for _, p := range req.Payments {
		o.Payments = append(o.Payments, models.Payment{ID: s.id(), PaymentType: p.PaymentType, Amount: p.Amount, Status: models.PaymentCompleted})
	}
	delete(s.carts, c.CartID)
	ok(w, o)
}

func (s *Server) hold(w http.ResponseWriter, r *http.Request, c *models.Cart) {
	o := s.orderFromCart(c, models.OrderHeld)
	delete(s.carts, c.CartID)
	ok(w, o)
}

func (s *Server) heldOrders(w http.ResponseWriter, r *http.Request) {
	storeID := queryInt(r, "storeId")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.SalesOrder{}
	for _, o := range s.orders {
		if o.Status == models.OrderHeld && o.Store.ID == storeID {
			out = append(out, *o)
		}
	}
	ok(w, out)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, found := s.orders[pathInt(r, "id")]
	if !found || o.Status != models.OrderHeld {
		reject(w, http.StatusNotFound, "Held order not found")
		return
	}
	o.Status = models.OrderCancelled
	ok(w, o)
}

func (s *Server) searchOrder(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("query")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNo == q {
			ok(w, o)
			return
		}
	}
	reject(w, http.StatusNotFound, "Order not found")
}

func (s *Server) processReturn(w http.ResponseWriter, r *http.Request) {
	var req models.ReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, http.StatusBadRequest, "Invalid return request")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orig, found := s.orders[req.OriginalOrderID]
	if !found {
		reject(w, http.StatusNotFound, "Original order not found")
		return
	}
	ret := &models.SalesOrder{
		ID:      s.id(),
		Store:   orig.Store,
		Cashier: orig.Cashier,
		Status:  models.OrderReturned,
		Notes:   req.Notes,
	}
	ret.OrderNo = fmt.Sprintf("RET-%d", ret.ID)
	s.orders[ret.ID] = ret
	ok(w, ret)
}
