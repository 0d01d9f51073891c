package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Design represents a sellable artwork in the catalog
type Design struct {
	ID          string          `db:"id" json:"id"`
	DesignerID  string          `db:"designer_id" json:"designer_id"`
	Title       string          `db:"title" json:"title"`
	Description *string         `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	ImageURL    string          `db:"image_url" json:"image_url"`
	Status      string          `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// DescriptionOrEmpty returns the optional description as a plain string
func (d *Design) DescriptionOrEmpty() string {
	if d.Description != nil {
		return *d.Description
	}
	return ""
}

// IsSold reports whether the design has been purchased
func (d *Design) IsSold() bool {
	return d.Status == DesignStatusSold
}

// Transaction is the durable record of one completed, paid purchase
type Transaction struct {
	ID                    string          `db:"id" json:"id"`
	DesignID              string          `db:"design_id" json:"design_id"`
	DesignerID            string          `db:"designer_id" json:"designer_id"`
	BuyerID               string          `db:"buyer_id" json:"buyer_id"`
	Amount                decimal.Decimal `db:"amount" json:"amount"`
	PlatformFee           decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	DesignerEarnings      decimal.Decimal `db:"designer_earnings" json:"designer_earnings"`
	StripeSessionID       string          `db:"stripe_session_id" json:"stripe_session_id"`
	StripePaymentIntentID string          `db:"stripe_payment_intent_id" json:"stripe_payment_intent_id"`
	Status                string          `db:"status" json:"status"`
	LegalDocURL           *string         `db:"legal_doc_url" json:"legal_doc_url"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// HasLegalDocument reports whether a license document is attached
func (t *Transaction) HasLegalDocument() bool {
	return t.LegalDocURL != nil && *t.LegalDocURL != ""
}

// IsParty reports whether the user bought or sold in this transaction
func (t *Transaction) IsParty(userID string) bool {
	return userID != "" && (t.BuyerID == userID || t.DesignerID == userID)
}

// Profile holds the public identity of a marketplace user
type Profile struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PaymentConflict records a confirmed payment for a design that was already sold
type PaymentConflict struct {
	StripeSessionID string          `db:"stripe_session_id" json:"stripe_session_id"`
	DesignID        string          `db:"design_id" json:"design_id"`
	BuyerID         string          `db:"buyer_id" json:"buyer_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Reason          string          `db:"reason" json:"reason"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Design statuses
const (
	DesignStatusAvailable = "available"
	DesignStatusSold      = "sold"
)

// Transaction statuses
const (
	TransactionStatusPaid = "paid"
)

// PurchaseOutcome tells the webhook what the atomic purchase write did
type PurchaseOutcome int

const (
	PurchaseRecorded PurchaseOutcome = iota
	PurchaseDuplicate
)
