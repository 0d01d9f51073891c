package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/auth"
	"design-marketplace/internal/models"
	"design-marketplace/internal/payment"
	"design-marketplace/internal/pricing"
	"design-marketplace/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutService opens payment sessions for design purchases
type CheckoutService struct {
	designs  DesignReader
	provider CheckoutProvider
	baseURL  string
	logger   *zap.Logger
}

// NewCheckoutService creates a new checkout service. baseURL is used when the request has no origin.
func NewCheckoutService(designs DesignReader, provider CheckoutProvider, baseURL string) *CheckoutService {
	return &CheckoutService{
		designs:  designs,
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   util.GetLogger(),
	}
}

// CreateCheckoutSessionRequest is the buyer's purchase request
type CreateCheckoutSessionRequest struct {
	DesignID string `json:"design_id"`
}

// CreateCheckoutSessionResponse carries the hosted payment page
type CreateCheckoutSessionResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// CreateCheckoutSession validates the purchase and opens a provider session carrying the fee split.
// Nothing is written locally; the design stays available until the payment is confirmed.
func (s *CheckoutService) CreateCheckoutSession(
	ctx context.Context,
	caller *auth.Identity,
	designID string,
	origin string,
) (*CreateCheckoutSessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateCheckoutSession",
		attribute.String("design.id", designID))
	defer span.End()

	resp, err := s.createCheckoutSession(ctx, caller, strings.TrimSpace(designID), origin)
	if err != nil {
		util.CheckoutSessionsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}
	util.CheckoutSessionsCreatedTotal.Inc()
	return resp, nil
}

func (s *CheckoutService) createCheckoutSession(
	ctx context.Context,
	caller *auth.Identity,
	designID string,
	origin string,
) (*CreateCheckoutSessionResponse, error) {
	if caller == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if !caller.HasRole(auth.RoleBuyer) {
		return nil, fmt.Errorf("%w: only buyers can purchase designs", apperr.ErrForbidden)
	}
	if designID == "" {
		return nil, fmt.Errorf("%w: design_id is required", apperr.ErrInvalidOperation)
	}

	design, err := s.designs.GetDesignByID(ctx, designID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: design not found", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load design: %w", err)
	}
	if design.IsSold() {
		return nil, fmt.Errorf("%w: design already purchased", apperr.ErrConflict)
	}
	if design.DesignerID == caller.ID {
		return nil, fmt.Errorf("%w: cannot purchase your own design", apperr.ErrInvalidOperation)
	}

	split, err := pricing.SplitPrice(design.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidOperation, err)
	}

	metadata := models.PurchaseMetadata{
		DesignID:         design.ID,
		DesignerID:       design.DesignerID,
		BuyerID:          caller.ID,
		PlatformFee:      split.PlatformFee,
		DesignerEarnings: split.DesignerEarnings,
	}

	base := s.redirectBase(origin)
	start := time.Now()
	session, err := s.provider.CreateCheckoutSession(ctx, payment.SessionRequest{
		ProductName: design.Title,
		AmountCents: pricing.ToCents(split.Amount),
		SuccessURL:  base + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   base + "/",
		Metadata:    metadata.ToMap(),
	})
	util.CheckoutProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("Failed to open checkout session",
			zap.String("design_id", design.ID),
			zap.String("buyer_id", caller.ID),
			zap.Error(err))
		if !errors.Is(err, apperr.ErrUpstream) {
			err = fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
		}
		return nil, err
	}

	s.logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.String("design_id", design.ID),
		zap.String("buyer_id", caller.ID),
		zap.String("amount", split.Amount.StringFixed(2)))

	return &CreateCheckoutSessionResponse{URL: session.URL, SessionID: session.ID}, nil
}

func (s *CheckoutService) redirectBase(origin string) string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return s.baseURL
	}
	return origin
}

// failureReason is the metric label for a failed operation
func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, apperr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrInvalidOperation):
		return "invalid"
	case errors.Is(err, apperr.ErrAlreadyGenerated):
		return "already_generated"
	case errors.Is(err, apperr.ErrUpstream):
		return "upstream"
	default:
		return "internal"
	}
}
