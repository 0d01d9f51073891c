package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/models"
	"design-marketplace/internal/payment"
	"design-marketplace/internal/pricing"
	"design-marketplace/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const processedEventTTL = 72 * time.Hour

// WebhookOutcome says what a webhook delivery led to
type WebhookOutcome string

const (
	WebhookRecorded         WebhookOutcome = "recorded"
	WebhookDuplicate        WebhookOutcome = "duplicate"
	WebhookIgnored          WebhookOutcome = "ignored"
	WebhookMalformed        WebhookOutcome = "malformed"
	WebhookConflict         WebhookOutcome = "conflict"
	WebhookInvalidSignature WebhookOutcome = "invalid_signature"
	WebhookFailed           WebhookOutcome = "failed"
)

// WebhookResult describes a handled delivery
type WebhookResult struct {
	Outcome       WebhookOutcome
	EventID       string
	TransactionID string
}

// Acknowledged reports whether the provider should consider the delivery done
func (r *WebhookResult) Acknowledged() bool {
	switch r.Outcome {
	case WebhookRecorded, WebhookDuplicate, WebhookIgnored, WebhookMalformed:
		return true
	}
	return false
}

// WebhookService records purchases confirmed by the payment provider
type WebhookService struct {
	verifier       WebhookVerifier
	purchases      PurchaseRecorder
	cache          IdempotencyCache
	eventPublisher EventPublisher
	timeout        time.Duration
	logger         *zap.Logger
}

// NewWebhookService creates a new webhook service. cache may be nil.
func NewWebhookService(
	verifier WebhookVerifier,
	purchases PurchaseRecorder,
	cache IdempotencyCache,
	eventPublisher EventPublisher,
	timeout time.Duration,
) *WebhookService {
	return &WebhookService{
		verifier:       verifier,
		purchases:      purchases,
		cache:          cache,
		eventPublisher: eventPublisher,
		timeout:        timeout,
		logger:         util.GetLogger(),
	}
}

// HandleWebhook authenticates a raw delivery and records the purchase it confirms exactly once.
//
// A nil error means the delivery must be acknowledged, including ignored and malformed events.
// ErrInvalidSignature, ErrConflict and any other error ask the provider to redeliver or flag it.
func (s *WebhookService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ctx, span := util.StartSpan(ctx, "WebhookService.HandleWebhook")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	result, err := s.handle(ctx, payload, signature)
	util.WebhookEventsTotal.WithLabelValues(string(result.Outcome)).Inc()
	span.SetAttributes(
		attribute.String("webhook.event_id", result.EventID),
		attribute.String("webhook.outcome", string(result.Outcome)))
	if err != nil {
		util.RecordError(span, err)
	}
	return result, err
}

func (s *WebhookService) handle(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := s.verifier.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, apperr.ErrMalformedEvent) {
			s.logger.Warn("Malformed webhook event acknowledged", zap.Error(err))
			return &WebhookResult{Outcome: WebhookMalformed}, nil
		}
		s.logger.Warn("Webhook signature rejected", zap.Error(err))
		if !errors.Is(err, apperr.ErrInvalidSignature) {
			err = fmt.Errorf("%w: %v", apperr.ErrInvalidSignature, err)
		}
		return &WebhookResult{Outcome: WebhookInvalidSignature}, err
	}

	result := &WebhookResult{EventID: event.ID}

	if !completesPurchase(event) {
		s.logger.Debug("Ignoring webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type))
		result.Outcome = WebhookIgnored
		return result, nil
	}

	if s.seen(ctx, event.ID) {
		s.logger.Info("Event already processed", zap.String("event_id", event.ID))
		result.Outcome = WebhookDuplicate
		return result, nil
	}

	tx, err := transactionFromSession(event.Checkout)
	if err != nil {
		s.logger.Warn("Malformed checkout session acknowledged",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.Checkout.ID),
			zap.Error(err))
		result.Outcome = WebhookMalformed
		return result, nil
	}

	outcome, err := s.purchases.RecordPurchase(ctx, tx)
	switch {
	case errors.Is(err, apperr.ErrConflict):
		s.handleConflict(ctx, tx, err)
		result.Outcome = WebhookConflict
		return result, err
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrInvalidOperation):
		s.logger.Warn("Checkout session does not match the catalog",
			zap.String("event_id", event.ID),
			zap.String("session_id", tx.StripeSessionID),
			zap.String("design_id", tx.DesignID),
			zap.Error(err))
		result.Outcome = WebhookMalformed
		return result, nil
	case err != nil:
		s.logger.Error("Failed to record purchase",
			zap.String("event_id", event.ID),
			zap.String("session_id", tx.StripeSessionID),
			zap.Error(err))
		result.Outcome = WebhookFailed
		return result, fmt.Errorf("failed to record purchase: %w", err)
	}

	result.TransactionID = tx.ID

	if outcome == models.PurchaseDuplicate {
		s.logger.Info("Duplicate checkout session delivery",
			zap.String("session_id", tx.StripeSessionID),
			zap.String("transaction_id", tx.ID))
		// A previous delivery may have recorded the purchase but failed to hand off the license.
		if tx.HasLegalDocument() || s.publishRecorded(ctx, tx) {
			s.remember(ctx, event.ID, tx.ID)
		}
		result.Outcome = WebhookDuplicate
		return result, nil
	}

	util.TransactionsRecordedTotal.Inc()
	s.logger.Info("Transaction recorded",
		zap.String("transaction_id", tx.ID),
		zap.String("session_id", tx.StripeSessionID),
		zap.String("design_id", tx.DesignID),
		zap.String("amount", tx.Amount.StringFixed(2)))

	// The event id stays uncached until the license is handed off, so a redelivery can retry it.
	if s.publishRecorded(ctx, tx) {
		s.remember(ctx, event.ID, tx.ID)
	}

	result.Outcome = WebhookRecorded
	return result, nil
}

// publishRecorded enqueues license generation for tx and reports whether the broker accepted it
func (s *WebhookService) publishRecorded(ctx context.Context, tx *models.Transaction) bool {
	recorded := &models.TransactionRecordedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeTransactionRecorded,
			Timestamp: time.Now(),
		},
		TransactionID:   tx.ID,
		DesignID:        tx.DesignID,
		BuyerID:         tx.BuyerID,
		DesignerID:      tx.DesignerID,
		Amount:          tx.Amount,
		StripeSessionID: tx.StripeSessionID,
	}
	if err := s.eventPublisher.PublishTransactionRecorded(ctx, recorded); err != nil {
		s.logger.Error("Failed to publish TransactionRecorded event",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
		return false
	}
	return true
}

func completesPurchase(event *payment.Event) bool {
	if event.Checkout == nil {
		return false
	}
	switch event.Type {
	case payment.EventCheckoutSessionCompleted:
		// Delayed payment methods complete unpaid and follow up with async_payment_succeeded.
		return event.Checkout.Paid()
	case payment.EventCheckoutSessionAsyncPaymentSucceed:
		return true
	}
	return false
}

// transactionFromSession rebuilds the purchase from the metadata snapshotted at checkout
func transactionFromSession(cs *payment.CheckoutSession) (*models.Transaction, error) {
	if cs.ID == "" {
		return nil, fmt.Errorf("%w: checkout session has no id", apperr.ErrMalformedEvent)
	}
	if cs.Currency != "" && cs.Currency != "usd" {
		return nil, fmt.Errorf("%w: unexpected currency %q", apperr.ErrMalformedEvent, cs.Currency)
	}

	meta, err := models.ParsePurchaseMetadata(cs.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMalformedEvent, err)
	}

	amount := pricing.FromCents(cs.AmountTotal)
	if !amount.IsPositive() || !pricing.Consistent(amount, meta.PlatformFee, meta.DesignerEarnings) {
		return nil, fmt.Errorf("%w: fee %s + earnings %s does not match amount %s", apperr.ErrMalformedEvent,
			meta.PlatformFee.StringFixed(2), meta.DesignerEarnings.StringFixed(2), amount.StringFixed(2))
	}

	return &models.Transaction{
		ID:                    uuid.New().String(),
		DesignID:              meta.DesignID,
		DesignerID:            meta.DesignerID,
		BuyerID:               meta.BuyerID,
		Amount:                amount,
		PlatformFee:           meta.PlatformFee,
		DesignerEarnings:      meta.DesignerEarnings,
		StripeSessionID:       cs.ID,
		StripePaymentIntentID: cs.PaymentIntentID,
		Status:                models.TransactionStatusPaid,
	}, nil
}

// handleConflict leaves a trace of a second payment for a sold design so it can be refunded.
// Provider retries of the same losing session are logged but not counted or published again.
func (s *WebhookService) handleConflict(ctx context.Context, tx *models.Transaction, cause error) {
	s.logger.Error("Confirmed payment for an already sold design",
		zap.String("session_id", tx.StripeSessionID),
		zap.String("design_id", tx.DesignID),
		zap.String("buyer_id", tx.BuyerID),
		zap.String("amount", tx.Amount.StringFixed(2)),
		zap.Error(cause))

	conflict := &models.PaymentConflict{
		StripeSessionID: tx.StripeSessionID,
		DesignID:        tx.DesignID,
		BuyerID:         tx.BuyerID,
		Amount:          tx.Amount,
		Reason:          cause.Error(),
	}
	inserted, err := s.purchases.RecordPaymentConflict(ctx, conflict)
	if err != nil {
		s.logger.Error("Failed to record payment conflict", zap.Error(err))
	} else if !inserted {
		s.logger.Info("Payment conflict already recorded", zap.String("session_id", tx.StripeSessionID))
		return
	}

	util.PaymentConflictsTotal.Inc()
	event := &models.PaymentConflictEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentConflict,
			Timestamp: time.Now(),
		},
		DesignID:        tx.DesignID,
		BuyerID:         tx.BuyerID,
		Amount:          tx.Amount,
		StripeSessionID: tx.StripeSessionID,
		Reason:          cause.Error(),
	}
	if err := s.eventPublisher.PublishPaymentConflict(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentConflict event", zap.Error(err))
	}
}

func (s *WebhookService) seen(ctx context.Context, eventID string) bool {
	if s.cache == nil || eventID == "" {
		return false
	}
	ok, err := s.cache.CheckIdempotencyKey(ctx, eventID)
	if err != nil {
		s.logger.Warn("Idempotency cache unavailable", zap.Error(err))
		return false
	}
	return ok
}

func (s *WebhookService) remember(ctx context.Context, eventID, transactionID string) {
	if s.cache == nil || eventID == "" {
		return
	}
	if err := s.cache.SetIdempotencyKey(ctx, eventID, transactionID, processedEventTTL); err != nil {
		s.logger.Warn("Failed to cache processed event", zap.Error(err))
	}
}
