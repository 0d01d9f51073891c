// Package payment talks to Stripe: it opens hosted checkout sessions and
// authenticates the webhook events Stripe sends back.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"design-marketplace/internal/apperr"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Event types that can complete a purchase
const (
	EventCheckoutSessionCompleted           = "checkout.session.completed"
	EventCheckoutSessionAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
)

// SessionRequest describes the hosted checkout to open
type SessionRequest struct {
	ProductName string
	AmountCents int64
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Session is an opened checkout session
type Session struct {
	ID  string
	URL string
}

// Event is a signature-verified webhook event. Checkout is set for checkout.session.* events.
type Event struct {
	ID       string
	Type     string
	Checkout *CheckoutSession
}

// CheckoutSession is the part of a Stripe checkout session the marketplace uses
type CheckoutSession struct {
	ID              string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	PaymentStatus   string
	Metadata        map[string]string
}

// Paid reports whether the buyer's funds have been captured
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

// StripeClient wraps the Stripe API and webhook signing secret
type StripeClient struct {
	api           *client.API
	webhookSecret string
}

// NewStripeClient creates a client. apiBase overrides the API host, e.g. for stripe-mock.
func NewStripeClient(apiKey, webhookSecret, apiBase string) *StripeClient {
	var backends *stripe.Backends
	if apiBase != "" {
		noRetries := int64(0)
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(apiBase),
				MaxNetworkRetries: &noRetries,
			}),
		}
	}

	api := &client.API{}
	api.Init(apiKey, backends)

	return &StripeClient{api: api, webhookSecret: webhookSecret}
}

// CreateCheckoutSession opens a one-item payment session carrying metadata
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return nil, fmt.Errorf("%w: stripe rejected checkout session (%s): %s",
				apperr.ErrUpstream, stripeErr.Code, stripeErr.Msg)
		}
		return nil, fmt.Errorf("%w: stripe request failed: %v", apperr.ErrUpstream, err)
	}

	return &Session{ID: s.ID, URL: s.URL}, nil
}

// VerifyWebhook checks the Stripe-Signature header against the raw payload and decodes the event
func (c *StripeClient) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	if c.webhookSecret == "" || signature == "" {
		return nil, fmt.Errorf("%w: missing signature or webhook secret", apperr.ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}

	if event.Type == EventCheckoutSessionCompleted || event.Type == EventCheckoutSessionAsyncPaymentSucceed {
		if event.Data == nil {
			return nil, fmt.Errorf("%w: event %s has no data", apperr.ErrMalformedEvent, event.ID)
		}
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: failed to decode checkout session: %v", apperr.ErrMalformedEvent, err)
		}

		out.Checkout = &CheckoutSession{
			ID:            cs.ID,
			AmountTotal:   cs.AmountTotal,
			Currency:      string(cs.Currency),
			PaymentStatus: string(cs.PaymentStatus),
			Metadata:      cs.Metadata,
		}
		if cs.PaymentIntent != nil {
			out.Checkout.PaymentIntentID = cs.PaymentIntent.ID
		}
	}

	return out, nil
}
