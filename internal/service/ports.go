package service

import (
	"context"
	"time"

	"design-marketplace/internal/models"
	"design-marketplace/internal/payment"
)

// DesignReader reads catalog records
type DesignReader interface {
	GetDesignByID(ctx context.Context, id string) (*models.Design, error)
}

// DesignWriter persists new designs
type DesignWriter interface {
	CreateDesign(ctx context.Context, design *models.Design) error
}

// DesignRepository is the catalog storage used by DesignService
type DesignRepository interface {
	DesignReader
	DesignWriter
}

// PurchaseRecorder performs the atomic purchase write. See store.Store.RecordPurchase.
type PurchaseRecorder interface {
	RecordPurchase(ctx context.Context, tx *models.Transaction) (models.PurchaseOutcome, error)
	RecordPaymentConflict(ctx context.Context, conflict *models.PaymentConflict) (bool, error)
}

// TransactionRepository reads transactions and attaches license documents
type TransactionRepository interface {
	GetTransactionByID(ctx context.Context, id string) (*models.Transaction, error)
	AttachLegalDocument(ctx context.Context, transactionID, url string) (bool, error)
}

// ProfileReader resolves party identities for documents
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// BlobStore is durable file storage
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// CheckoutProvider opens hosted payment sessions
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
}

// WebhookVerifier authenticates raw webhook deliveries
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (*payment.Event, error)
}

// EventPublisher emits domain events to the broker
type EventPublisher interface {
	PublishTransactionRecorded(ctx context.Context, event *models.TransactionRecordedEvent) error
	PublishPaymentConflict(ctx context.Context, event *models.PaymentConflictEvent) error
	PublishLicenseGenerated(ctx context.Context, event *models.LicenseGeneratedEvent) error
}

// IdempotencyCache remembers processed provider events
type IdempotencyCache interface {
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
}

// Locker hands out short-lived distributed locks
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}
