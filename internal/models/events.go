package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeTransactionRecorded = "TRANSACTION_RECORDED"
	EventTypePaymentConflict     = "PAYMENT_CONFLICT"
	EventTypeLicenseGenerated    = "LICENSE_GENERATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionRecordedEvent published after a purchase is durably recorded
type TransactionRecordedEvent struct {
	BaseEvent
	TransactionID   string          `json:"transaction_id"`
	DesignID        string          `json:"design_id"`
	BuyerID         string          `json:"buyer_id"`
	DesignerID      string          `json:"designer_id"`
	Amount          decimal.Decimal `json:"amount"`
	StripeSessionID string          `json:"stripe_session_id"`
}

// PaymentConflictEvent published when a confirmed payment targets an already sold design
type PaymentConflictEvent struct {
	BaseEvent
	DesignID        string          `json:"design_id"`
	BuyerID         string          `json:"buyer_id"`
	Amount          decimal.Decimal `json:"amount"`
	StripeSessionID string          `json:"stripe_session_id"`
	Reason          string          `json:"reason"`
}

// LicenseGeneratedEvent published once the license document is attached
type LicenseGeneratedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	DocumentURL   string `json:"document_url"`
}
