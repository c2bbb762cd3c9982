package models

type PaymentType string

const (
	PaymentCash         PaymentType = "CASH"
	PaymentCard         PaymentType = "CARD"
	PaymentMobileMoney  PaymentType = "MOBILE_MONEY"
	PaymentBankTransfer PaymentType = "BANK_TRANSFER"
	PaymentSplit        PaymentType = "SPLIT"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentMobileMoney, PaymentBankTransfer, PaymentSplit:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

type OrderStatus string

const (
	OrderDraft      OrderStatus = "DRAFT"
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderHeld       OrderStatus = "HELD"
	OrderReturned   OrderStatus = "RETURNED"
)

type Payment struct {
	ID            int64         `json:"id"`
	PaymentType   PaymentType   `json:"paymentType"`
	Amount        Money         `json:"amount"`
	TransactionID string        `json:"transactionId,omitempty"`
	Status        PaymentStatus `json:"status"`
	ProcessedAt   string        `json:"processedAt,omitempty"`
	Notes         string        `json:"notes,omitempty"`
}

type OrderProduct struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	SKU     string `json:"sku"`
	Barcode string `json:"barcode"`
	Price   Money  `json:"price"`
}

type SalesOrderItem struct {
	ID        int64        `json:"id"`
	Product   OrderProduct `json:"product"`
	Quantity  int          `json:"quantity"`
	UnitPrice Money        `json:"unitPrice"`
	Discount  Money        `json:"discount"`
	TaxRate   Money        `json:"taxRate"`
	TaxAmount Money        `json:"taxAmount"`
	Total     Money        `json:"total"`
}

type StoreRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type PersonRef struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type SalesOrder struct {
	ID             int64            `json:"id"`
	OrderNo        string           `json:"orderNo"`
	Store          StoreRef         `json:"store"`
	Customer       *PersonRef       `json:"customer,omitempty"`
	Cashier        PersonRef        `json:"cashier"`
	OrderDate      string           `json:"orderDate"`
	Subtotal       Money            `json:"subtotal"`
	TaxAmount      Money            `json:"taxAmount"`
	DiscountAmount Money            `json:"discountAmount"`
	Total          Money            `json:"total"`
	Status         OrderStatus      `json:"status"`
	PaymentStatus  PaymentStatus    `json:"paymentStatus"`
	Items          []SalesOrderItem `json:"items"`
	Payments       []Payment        `json:"payments"`
	Notes          string           `json:"notes,omitempty"`
}
