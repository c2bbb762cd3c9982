package models

// AddItemRequest carries exactly one of ProductID or Barcode.
type AddItemRequest struct {
	ProductID *int64 `json:"productId,omitempty"`
	Barcode   string `json:"barcode,omitempty"`
	Quantity  int    `json:"quantity"`
}

type CustomItem struct {
	Description string `json:"description"`
	UnitPrice   Money  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	TaxExempt   bool   `json:"taxExempt"`
}

type CheckoutPayment struct {
	PaymentType   PaymentType `json:"paymentType"`
	Amount        Money       `json:"amount"`
	TransactionID string      `json:"transactionId,omitempty"`
}

type CheckoutRequest struct {
	CartID       string            `json:"cartId"`
	CustomerID   *int64            `json:"customerId,omitempty"`
	Payments     []CheckoutPayment `json:"payments"`
	Notes        string            `json:"notes,omitempty"`
	EmailReceipt bool              `json:"emailReceipt,omitempty"`
}

// PaymentTotal sums the tendered amounts.
func (r CheckoutRequest) PaymentTotal() Money {
	total := Money{}
	for _, p := range r.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

type HoldRequest struct {
	CustomerID *int64 `json:"customerId,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type ReturnItem struct {
	OrderItemID int64  `json:"orderItemId"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason,omitempty"`
}

type ReturnRequest struct {
	OriginalOrderID int64        `json:"originalOrderId"`
	Items           []ReturnItem `json:"items"`
	Notes           string       `json:"notes,omitempty"`
}

type StartShiftRequest struct {
	StoreID            int64  `json:"storeId"`
	StartingCashAmount *Money `json:"startingCashAmount,omitempty"`
	ExpectedStartTime  string `json:"expectedStartTime,omitempty"`
	ExpectedEndTime    string `json:"expectedEndTime,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

// EndShiftRequest requires the counted drawer amount.
type EndShiftRequest struct {
	EndingCashAmount   *Money `json:"endingCashAmount"`
	ExpectedCashAmount *Money `json:"expectedCashAmount,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

type DayRequest struct {
	StoreID           int64  `json:"storeId"`
	Date              string `json:"date,omitempty"`
	InitialCashAmount *Money `json:"initialCashAmount,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

type SwapRequest struct {
	OriginalShiftID   int64  `json:"originalShiftId"`
	RequestedToUserID int64  `json:"requestedToUserId"`
	OriginalShiftDate string `json:"originalShiftDate"`
	SwapShiftDate     string `json:"swapShiftDate"`
	Reason            string `json:"reason,omitempty"`
}

type LoginRequest struct {
	StoreID    int64     `json:"storeId"`
	ShiftID    *int64    `json:"shiftId,omitempty"`
	LoginType  LoginType `json:"loginType,omitempty"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	Location   string    `json:"location,omitempty"`
}
