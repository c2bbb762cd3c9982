package models

import "encoding/json"

type TransactionType string

const (
	TransactionSale            TransactionType = "sale"
	TransactionReturn          TransactionType = "return"
	TransactionInventoryUpdate TransactionType = "inventory_update"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionSale, TransactionReturn, TransactionInventoryUpdate:
		return true
	}
	return false
}

// QueuedTransaction is one offline mutation waiting to be replayed.
// Timestamp is in unix milliseconds.
type QueuedTransaction struct {
	ID         string          `json:"id"`
	Type       TransactionType `json:"type"`
	Data       json.RawMessage `json:"data"`
	Timestamp  int64           `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
}

